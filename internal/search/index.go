// Package search keeps a debounced, recency-ordered view of remote search results.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// DefaultQuiet is the debounce quiet period.
const DefaultQuiet = 300 * time.Millisecond

// Searcher runs a remote query.
type Searcher interface {
	FetchByQuery(ctx context.Context, text string) ([]summa.Book, error)
}

// Timer is a pending scheduled call.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Config configures an Index.
type Config struct {
	Quiet    time.Duration
	After    AfterFunc
	OnChange func(query string, results []summa.Book)
}

// Index debounces query input and keeps the results of the newest query.
// Every SetQuery bumps a generation counter; a response is accepted only if
// its generation is still current when it arrives.
type Index struct {
	log      *zap.Logger
	searcher Searcher
	metrics  *metrics.Metrics
	config   Config

	mu         sync.Mutex
	generation uint64
	query      string
	results    []summa.Book
	pending    bool
	timer      Timer
	cancel     context.CancelFunc
	closed     bool
	inflight   sync.WaitGroup
}

// New creates an index over searcher.
func New(log *zap.Logger, searcher Searcher, cfg Config, m *metrics.Metrics) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Quiet <= 0 {
		cfg.Quiet = DefaultQuiet
	}
	if cfg.After == nil {
		cfg.After = realAfterFunc
	}
	return &Index{log: log, searcher: searcher, metrics: m, config: cfg}
}

// SetQuery records a keystroke. Blank input clears results immediately and
// abandons any in-flight query.
func (ix *Index) SetQuery(text string) {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.generation++
	gen := ix.generation
	ix.query = text
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}

	if strings.TrimSpace(text) == "" {
		ix.abortLocked()
		ix.results = nil
		ix.pending = false
		ix.mu.Unlock()
		ix.notify(text, nil)
		return
	}

	ix.pending = true
	ix.timer = ix.config.After(ix.config.Quiet, func() {
		ix.fire(gen, text)
	})
	ix.mu.Unlock()
}

// Results returns the results for the newest settled query.
func (ix *Index) Results() []summa.Book {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]summa.Book(nil), ix.results...)
}

// Query returns the latest input.
func (ix *Index) Query() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.query
}

// Pending reports whether the latest input has not settled yet.
func (ix *Index) Pending() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.pending
}

// Close stops the timer, abandons in-flight queries and waits for them to return.
func (ix *Index) Close() {
	ix.mu.Lock()
	ix.closed = true
	ix.generation++
	if ix.timer != nil {
		ix.timer.Stop()
		ix.timer = nil
	}
	ix.abortLocked()
	ix.mu.Unlock()
	ix.inflight.Wait()
}

func (ix *Index) fire(gen uint64, text string) {
	ix.mu.Lock()
	if gen != ix.generation || ix.closed {
		ix.mu.Unlock()
		return
	}
	ix.timer = nil
	ctx, cancel := context.WithCancel(context.Background())
	ix.cancel = cancel
	ix.inflight.Add(1)
	ix.mu.Unlock()
	defer ix.inflight.Done()
	defer cancel()

	ix.metrics.SearchSent()
	books, err := ix.searcher.FetchByQuery(ctx, text)

	ix.mu.Lock()
	if gen != ix.generation {
		ix.mu.Unlock()
		ix.metrics.SearchDiscarded()
		return
	}
	if err != nil {
		ix.log.Warn("search query failed", zap.String("query", text), zap.Error(err))
		books = []summa.Book{}
	}
	ix.results = books
	ix.pending = false
	ix.cancel = nil
	ix.mu.Unlock()
	ix.notify(text, books)
}

func (ix *Index) abortLocked() {
	if ix.cancel != nil {
		ix.cancel()
		ix.cancel = nil
	}
}

func (ix *Index) notify(query string, results []summa.Book) {
	if ix.config.OnChange != nil {
		ix.config.OnChange(query, append([]summa.Book(nil), results...))
	}
}
