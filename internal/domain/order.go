package domain

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

// Order statuses relevant to voucher eligibility.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// CartSummary aggregates the items currently in a user's cart.
type CartSummary struct {
	UserID     string `json:"user_id"`
	TotalQty   int    `json:"total_qty"`
	TotalPrice int64  `json:"total_price"`
}
