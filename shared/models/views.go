package models

import "time"

// UserView is the public projection of a user. It never carries the
// password hash.
type UserView struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	DateJoined time.Time `json:"date_joined"`
}

func (u *User) View() *UserView {
	return &UserView{
		ID:         u.ID,
		Username:   u.Username,
		Email:      u.Email,
		DateJoined: u.DateJoined,
	}
}

// PatternView is a pattern joined with its owner's username.
// Image holds the blob reference until the handler resolves it to a URL.
type PatternView struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"-"`
	Owner       string    `json:"owner"`
	Image       string    `json:"image"`
	Name        string    `json:"name"`
	Size        int       `json:"size"`
	Description *string   `json:"description"`
	IsFavorite  bool      `json:"is_favorite"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Page is the paginated list envelope.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}
