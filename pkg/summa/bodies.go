package summa

// Player command types.
const (
	CmdLoad         = "player.load"
	CmdPlay         = "player.play"
	CmdPause        = "player.pause"
	CmdSeek         = "player.seek"
	CmdSkip         = "player.skip"
	CmdSeekFraction = "player.seekFraction"
	CmdStop         = "player.stop"
	CmdStatus       = "player.status"
)

// LoadBody selects the book to play.
type LoadBody struct {
	BookID string `json:"bookId"`
	UserID string `json:"userId,omitempty"`
}

// SeekBody moves the position by a signed delta.
type SeekBody struct {
	DeltaSeconds float64 `json:"deltaSeconds"`
}

// SkipBody skips forward or backward by the fixed skip interval.
type SkipBody struct {
	Forward bool `json:"forward"`
}

// SeekFractionBody moves the position to a fraction of the total length.
type SeekFractionBody struct {
	Fraction float64 `json:"fraction"`
}

// EmptyBody is sent for commands without arguments.
type EmptyBody struct{}
