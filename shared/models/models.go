package models

import "time"

// Pattern sizes accepted by the store.
const (
	SizeSmall  = 150
	SizeMedium = 230
	SizeLarge  = 300
)

const DefaultPatternName = "Untitled Pattern"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"-"`
	DateJoined   time.Time `json:"date_joined"`
}

type Pattern struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Image       string    `json:"-"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Description *string   `json:"description"`
	IsFavorite  bool      `json:"is_favorite"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type RefreshToken struct {
	JTI       string
	UserID    int64
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}
