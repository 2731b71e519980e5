package domain

import "time"

// News is an announcement or promotion published by the store.
type News struct {
	ID          string    `json:"id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description *string   `json:"description"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at" validate:"required"`
}

// Product is an item on the menu.
type Product struct {
	ID        string    `json:"id" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Price     int64     `json:"price"`
	CreatedAt time.Time `json:"created_at" validate:"required"`
}
