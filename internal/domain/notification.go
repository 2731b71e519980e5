package domain

import "time"

// NotificationType identifies the collection a notification points into.
type NotificationType string

// Notification types.
const (
	NotificationTypeNews    NotificationType = "news"
	NotificationTypeProduct NotificationType = "product"
)

// IsValid checks if the notification type is valid.
func (t NotificationType) IsValid() bool {
	return t == NotificationTypeNews || t == NotificationTypeProduct
}

// Notification is a single entry of the notification feed.
type Notification struct {
	ID        string           `json:"id" validate:"required"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Type      NotificationType `json:"type" validate:"required,oneof=news product"`
	TargetID  string           `json:"target_id"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at" validate:"required"`
}

// Key identifies the notification across merged sources.
func (n *Notification) Key() string {
	return string(n.Type) + ":" + n.ID
}
