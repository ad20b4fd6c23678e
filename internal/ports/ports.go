package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mikey-austin/summarist/pkg/summa"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

// ContentAPI is the remote catalog service.
type ContentAPI interface {
	Segment(ctx context.Context, segment summa.Segment) ([]summa.Book, error)
	Book(ctx context.Context, id string) (summa.Book, error)
	Search(ctx context.Context, query string) ([]summa.Book, error)
}

// DurationProber resolves a media resource to its playable length in seconds.
type DurationProber interface {
	Probe(ctx context.Context, mediaRef string) (float64, error)
}

// Collection names a per-user document collection.
type Collection string

const (
	CollectionLibrary  Collection = "library"
	CollectionFinished Collection = "finished"
)

// Document is one keyed document in a user collection.
type Document struct {
	ID   string
	Data json.RawMessage
}

// DocumentStore is the per-user remote document store.
// Upsert overwrites, Delete removes a single keyed document, and
// MergeProfile overlays fields onto the profile document.
type DocumentStore interface {
	Upsert(ctx context.Context, userID string, coll Collection, id string, data json.RawMessage) error
	Delete(ctx context.Context, userID string, coll Collection, id string) error
	List(ctx context.Context, userID string, coll Collection) ([]Document, error)
	Profile(ctx context.Context, userID string) (json.RawMessage, bool, error)
	MergeProfile(ctx context.Context, userID string, fields map[string]any) error
	Close() error
}

// Driver executes playback actions against a media element.
type Driver interface {
	Play(url string, positionMS int64) error
	Pause() error
	Resume() error
	Stop() error
	Seek(positionMS int64) error
	Position() (positionMS int64, durationMS int64, ok bool)
}
