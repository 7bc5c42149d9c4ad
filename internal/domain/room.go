package domain

type RoomID int64

// Room is what the resolver knows about a live room.
// Ref is the human-facing reference the caller started from.
type Room struct {
	ID     RoomID `json:"id"`
	Ref    string `json:"ref"`
	Title  string `json:"title,omitempty"`
	Anchor User   `json:"anchor"`
}

// Admin is a room moderator as returned by the admin listing.
type Admin struct {
	User
	Since int64 `json:"since,omitempty"`
}
