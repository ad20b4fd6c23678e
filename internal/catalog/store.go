// Package catalog fetches catalog segments and keeps the merged snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// RowLimit caps the recommended and suggested rows of the For You view.
const RowLimit = 8

// Warmer is notified of every book set the store publishes.
type Warmer interface {
	ResolveBatch(ctx context.Context, books []summa.Book) <-chan struct{}
}

// FetchResult reports the outcome of FetchAll.
type FetchResult struct {
	Snapshot Snapshot
	// Errors holds non-fatal per-segment failures.
	Errors map[summa.Segment]error
}

// Store owns the catalog snapshot. Only its own operations mutate it.
type Store struct {
	log     *zap.Logger
	api     ports.ContentAPI
	warmer  Warmer
	metrics *metrics.Metrics

	mu       sync.RWMutex
	snapshot Snapshot
	rows     map[summa.Segment][]summa.Book
	loading  bool
	version  int64
	watchers []func(Snapshot)
}

// NewStore creates an empty store.
func NewStore(log *zap.Logger, api ports.ContentAPI, warmer Warmer, m *metrics.Metrics) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:      log,
		api:      api,
		warmer:   warmer,
		metrics:  m,
		snapshot: Merge(),
		rows:     make(map[summa.Segment][]summa.Book),
	}
}

// OnUpdate registers fn to run after each published snapshot.
func (s *Store) OnUpdate(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Loading reports whether FetchAll is in progress.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Lookup returns a book from the current snapshot.
func (s *Store) Lookup(id string) (summa.Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Get(id)
}

// FetchSegment fetches one segment. On failure the previous rows are kept.
func (s *Store) FetchSegment(ctx context.Context, segment summa.Segment) ([]summa.Book, error) {
	books, err := s.api.Segment(ctx, segment)
	s.metrics.SegmentFetched(string(segment), err)
	if err != nil {
		s.log.Warn("segment fetch failed", zap.String("segment", string(segment)), zap.Error(err))
		if !errors.Is(err, core.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %v", core.ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	s.mu.Lock()
	s.rows[segment] = books
	s.mu.Unlock()
	return books, nil
}

// FetchAll fetches every segment concurrently and publishes one merged
// snapshot. A failed segment contributes its last good rows, if any, and is
// reported in the result. The error is non-nil only when every segment failed,
// in which case the previous snapshot stays published.
func (s *Store) FetchAll(ctx context.Context) (FetchResult, error) {
	s.setLoading(true)
	defer s.setLoading(false)

	fresh := make([][]summa.Book, len(summa.Segments))
	errs := make([]error, len(summa.Segments))
	var g errgroup.Group
	for i, segment := range summa.Segments {
		g.Go(func() error {
			fresh[i], errs[i] = s.FetchSegment(ctx, segment)
			return nil
		})
	}
	_ = g.Wait()

	result := FetchResult{Errors: make(map[summa.Segment]error)}
	for i, segment := range summa.Segments {
		if errs[i] != nil {
			result.Errors[segment] = errs[i]
		}
	}
	if len(result.Errors) == len(summa.Segments) {
		result.Snapshot = s.Snapshot()
		return result, fmt.Errorf("fetch catalog: %w", errors.Join(errs...))
	}

	s.mu.Lock()
	ordered := make([][]summa.Book, len(summa.Segments))
	for i, segment := range summa.Segments {
		if errs[i] == nil {
			ordered[i] = fresh[i]
		} else {
			ordered[i] = s.rows[segment]
		}
	}
	snap := Merge(ordered...)
	s.version++
	snap.Version = s.version
	s.snapshot = snap
	watchers := append([]func(Snapshot){}, s.watchers...)
	s.mu.Unlock()

	result.Snapshot = snap
	for _, fn := range watchers {
		fn(snap)
	}
	if s.warmer != nil {
		s.warmer.ResolveBatch(context.WithoutCancel(ctx), snap.Books())
	}
	return result, nil
}

// FetchByID fetches a book for detail views.
func (s *Store) FetchByID(ctx context.Context, id string) (summa.Book, error) {
	if strings.TrimSpace(id) == "" {
		return summa.Book{}, fmt.Errorf("book id: %w", core.ErrNotFound)
	}
	book, err := s.api.Book(ctx, id)
	if err != nil {
		s.log.Warn("book fetch failed", zap.String("book_id", id), zap.Error(err))
		return summa.Book{}, err
	}
	return book, nil
}

// Resolve returns a book from the snapshot, falling back to FetchByID.
func (s *Store) Resolve(ctx context.Context, id string) (summa.Book, error) {
	if book, ok := s.Lookup(id); ok {
		return book, nil
	}
	return s.FetchByID(ctx, id)
}

// FetchByQuery searches the content service. Blank input returns no results
// without a request.
func (s *Store) FetchByQuery(ctx context.Context, text string) ([]summa.Book, error) {
	if strings.TrimSpace(text) == "" {
		return []summa.Book{}, nil
	}
	books, err := s.api.Search(ctx, text)
	if err != nil {
		s.log.Warn("search failed", zap.String("query", text), zap.Error(err))
		return nil, err
	}
	return books, nil
}

func (s *Store) setLoading(loading bool) {
	s.mu.Lock()
	s.loading = loading
	s.mu.Unlock()
}
