package core

import "github.com/mikey-austin/summarist/pkg/summa"

// BookView is a book with its derived display state.
type BookView struct {
	Book     summa.Book `json:"book"`
	Duration *float64   `json:"durationSeconds"`
	Saved    bool       `json:"saved"`
	Finished bool       `json:"finished"`
	// Access is "granted" or "upgrade".
	Access string `json:"access"`
}

// ForYouResult is the home view.
type ForYouResult struct {
	Selected    *BookView  `json:"selected,omitempty"`
	Recommended []BookView `json:"recommended"`
	Suggested   []BookView `json:"suggested"`
	// Failed lists segments that could not be refreshed.
	Failed []string `json:"failed,omitempty"`
}

// BookResult holds a single book.
type BookResult struct {
	Book BookView `json:"book"`
}

// ReadResult holds a book and its summary text.
type ReadResult struct {
	Book    BookView `json:"book"`
	Summary string   `json:"summary"`
}

// SearchResult holds settled search results.
type SearchResult struct {
	Query string     `json:"query"`
	Books []BookView `json:"books"`
}

// LibraryResult holds a user's saved and finished books.
type LibraryResult struct {
	UserID   string     `json:"userId"`
	Saved    []BookView `json:"saved"`
	Finished []BookView `json:"finished"`
}

// SaveResult reports the saved membership after a toggle.
type SaveResult struct {
	BookID string `json:"bookId"`
	Saved  bool   `json:"saved"`
}

// DurationResult reports a probed duration.
type DurationResult struct {
	BookID   string   `json:"bookId"`
	Duration *float64 `json:"durationSeconds"`
}

// PlaybackResult holds player state.
type PlaybackResult struct {
	PlayerID string              `json:"playerId,omitempty"`
	State    summa.PlaybackState `json:"state"`
	Title    string              `json:"title,omitempty"`
}

// ProfileResult holds subscription state.
type ProfileResult struct {
	UserID string                   `json:"userId"`
	Status summa.SubscriptionStatus `json:"status"`
}
