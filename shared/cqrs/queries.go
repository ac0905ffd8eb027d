package cqrs

// GetProfileQuery fetches the acting user's own profile.
type GetProfileQuery struct {
	UserID int64
}

// ListPatternsQuery pages through one owner's patterns, newest first.
type ListPatternsQuery struct {
	UserID        int64
	FavoritesOnly bool
	Limit         int
	Offset        int
}
