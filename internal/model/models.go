// Package model defines the data structures shared by the deal service packages.
package model

import "time"

// DealFields is the canonical, normalized content of a deal. It is what the
// normalizer produces and what the merger writes.
type DealFields struct {
	Title           string  `json:"title"`
	Marketplace     string  `json:"marketplace"`
	Category        string  `json:"category"`
	Price           float64 `json:"price"`
	OriginalPrice   float64 `json:"original_price"`
	DiscountPercent int     `json:"discount_percent"`
	ProductURL      string  `json:"product_url"`
	ImageURL        string  `json:"image_url"`
}

// Deal mirrors a row of the deals table. Identity is (Title, Marketplace).
type Deal struct {
	ID int64 `json:"id"`
	DealFields
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserInterest is a declared preference of one device. Priority is 1-5.
type UserInterest struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Category  string    `json:"category"`
	Keyword   string    `json:"keyword"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// FavoriteDeal links a device to a deal. Unique per (DeviceID, DealID).
type FavoriteDeal struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	DealID    int64     `json:"deal_id"`
	CreatedAt time.Time `json:"created_at"`
	Deal      Deal      `json:"deal"`
}

// DealAlert is a saved search a device wants to be notified about.
type DealAlert struct {
	ID              int64      `json:"id"`
	DeviceID        string     `json:"device_id"`
	AlertType       string     `json:"alert_type"`
	Query           string     `json:"query"`
	MinDiscount     int        `json:"min_discount"`
	IsEnabled       bool       `json:"is_enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SharedDeal records a deal shared by a device over some channel.
type SharedDeal struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	DealID    int64     `json:"deal_id"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
