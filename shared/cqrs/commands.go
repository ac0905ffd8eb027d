package cqrs

import "io"

type RegisterCommand struct {
	Username  string
	Email     string
	Password  string
	Password2 string
}

type LoginCommand struct {
	Username string
	Password string
}

type RefreshTokenCommand struct {
	Token string
}

type LogoutCommand struct {
	Token string
}

// ImageUpload is an uploaded file as received from the client. Content is
// rewound after sniffing, so it must support seeking.
type ImageUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

type CreatePatternCommand struct {
	UserID      int64
	Image       *ImageUpload
	Name        *string
	Size        int
	Description *string
	IsFavorite  bool
}

// UpdatePatternCommand carries only the fields the client supplied.
// ClearDescription is set when the client sent an explicit null.
type UpdatePatternCommand struct {
	PatternID        int64
	UserID           int64
	Name             *string
	Description      *string
	ClearDescription bool
	Size             *int
	IsFavorite       *bool
}

type DeletePatternCommand struct {
	PatternID int64
	UserID    int64
}
