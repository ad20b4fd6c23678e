// Package library mirrors saved and finished books and the subscription
// profile against the per-user document store.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// ErrSignInRequired is returned by user-scoped mutations without a user.
var ErrSignInRequired = core.UsageError("sign in required")

// Sets is a read-only copy of a user's library.
type Sets struct {
	Saved    []summa.LibraryEntry
	Finished []summa.LibraryEntry
}

// IsSaved reports whether id is in the saved set.
func (s Sets) IsSaved(id string) bool {
	return containsID(s.Saved, id)
}

// IsFinished reports whether id is in the finished set.
func (s Sets) IsFinished(id string) bool {
	return containsID(s.Finished, id)
}

type userState struct {
	saved    map[string]summa.LibraryEntry
	finished map[string]summa.LibraryEntry
	// confirmed is the last saved membership known to be persisted remotely.
	confirmed map[string]bool
	// pending counts queued writes per book; tails orders them.
	pending map[string]int
	tails   map[string]chan struct{}
	loadGen uint64
	// writes numbers settled writes; settled and finishedAt record the
	// number of the last write per book so loads started earlier skip them.
	writes     uint64
	settled    map[string]uint64
	finishedAt map[string]uint64
}

func newUserState() *userState {
	return &userState{
		saved:      make(map[string]summa.LibraryEntry),
		finished:   make(map[string]summa.LibraryEntry),
		confirmed:  make(map[string]bool),
		pending:    make(map[string]int),
		tails:      make(map[string]chan struct{}),
		settled:    make(map[string]uint64),
		finishedAt: make(map[string]uint64),
	}
}

func (s *userState) settle(marks map[string]uint64, id string) {
	s.writes++
	marks[id] = s.writes
}

// Reconciler owns the saved and finished sets of signed-in users.
type Reconciler struct {
	log     *zap.Logger
	store   ports.DocumentStore
	clock   ports.Clock
	metrics *metrics.Metrics

	mu     sync.Mutex
	users  map[string]*userState
	active string
}

// NewReconciler creates a reconciler over store.
func NewReconciler(log *zap.Logger, store ports.DocumentStore, clock ports.Clock, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{log: log, store: store, clock: clock, metrics: m, users: make(map[string]*userState)}
}

// Sets returns a copy of the user's library.
func (r *Reconciler) Sets(userID string) Sets {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.users[userID]
	if !ok {
		return Sets{Saved: []summa.LibraryEntry{}, Finished: []summa.LibraryEntry{}}
	}
	return Sets{Saved: sortedEntries(state.saved), Finished: sortedEntries(state.finished)}
}

// Load fetches both collections fresh. A blank user yields empty sets
// without touching the store. On failure the previous sets are kept.
func (r *Reconciler) Load(ctx context.Context, userID string) (Sets, error) {
	if strings.TrimSpace(userID) == "" {
		return Sets{Saved: []summa.LibraryEntry{}, Finished: []summa.LibraryEntry{}}, nil
	}

	r.mu.Lock()
	state := r.stateLocked(userID)
	state.loadGen++
	gen := state.loadGen
	since := state.writes
	r.active = userID
	r.mu.Unlock()

	var savedDocs, finishedDocs []ports.Document
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		docs, err := r.store.List(gctx, userID, ports.CollectionLibrary)
		savedDocs = docs
		return err
	})
	g.Go(func() error {
		docs, err := r.store.List(gctx, userID, ports.CollectionFinished)
		finishedDocs = docs
		return err
	})
	if err := g.Wait(); err != nil {
		r.log.Warn("library load failed", zap.String("user_id", userID), zap.Error(err))
		return r.Sets(userID), upstream("load library", err)
	}

	saved := decodeEntries(r.log, savedDocs)
	finished := decodeEntries(r.log, finishedDocs)

	r.mu.Lock()
	if r.users[userID] != state || gen != state.loadGen {
		// Superseded by a newer load or a sign-out.
		r.mu.Unlock()
		return r.Sets(userID), nil
	}
	confirmed := make(map[string]bool, len(saved))
	for id := range saved {
		if state.settled[id] <= since {
			confirmed[id] = true
		}
	}
	for id, ok := range state.confirmed {
		if state.settled[id] > since {
			confirmed[id] = ok
		}
	}
	keepLocal := func(id string) {
		if entry, ok := state.saved[id]; ok {
			saved[id] = entry
		} else {
			delete(saved, id)
		}
	}
	// Writes settled after the lists were read, or still in flight, keep
	// their local membership.
	for id, seq := range state.settled {
		if seq > since {
			keepLocal(id)
		} else {
			delete(state.settled, id)
		}
	}
	for id, n := range state.pending {
		if n > 0 {
			keepLocal(id)
		}
	}
	for id, seq := range state.finishedAt {
		if seq <= since {
			delete(state.finishedAt, id)
			continue
		}
		if entry, ok := state.finished[id]; ok {
			finished[id] = entry
		}
	}
	state.confirmed = confirmed
	state.saved = saved
	state.finished = finished
	r.mu.Unlock()

	return r.Sets(userID), nil
}

// Activate reloads the most recently loaded user, for example when a view
// regains focus after the library may have changed elsewhere.
func (r *Reconciler) Activate(ctx context.Context) error {
	r.mu.Lock()
	userID := r.active
	r.mu.Unlock()
	if userID == "" {
		return nil
	}
	_, err := r.Load(ctx, userID)
	return err
}

// Reset drops the user's in-memory sets, as on sign-out.
func (r *Reconciler) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
	if r.active == userID {
		r.active = ""
	}
}

// ToggleSave flips saved membership locally, then persists the add or
// remove. Writes for the same book are persisted in the order they were
// applied. On failure the local membership falls back to the last state
// known to be persisted, unless a newer write for the book is still queued.
func (r *Reconciler) ToggleSave(ctx context.Context, userID string, book summa.Book) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, ErrSignInRequired
	}
	if strings.TrimSpace(book.ID) == "" {
		return false, core.UsageError("book id required")
	}

	var (
		owner  *userState
		adding bool
		prev   chan struct{}
		done   chan struct{}
		entry  summa.LibraryEntry
		before summa.LibraryEntry
	)

	err := Optimistic{
		Apply: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			state := r.stateLocked(userID)
			owner = state
			existing, present := state.saved[book.ID]
			adding = !present
			before = existing
			if adding {
				now := r.clock.Now().UTC()
				entry = summa.LibraryEntry{Book: book, SavedAt: &now}
				state.saved[book.ID] = entry
			} else {
				delete(state.saved, book.ID)
			}
			state.pending[book.ID]++
			prev = state.tails[book.ID]
			done = make(chan struct{})
			state.tails[book.ID] = done
		},
		Persist: func(ctx context.Context) error {
			defer r.finishWrite(userID, book.ID, done)
			if prev != nil {
				select {
				case <-prev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if adding {
				data, err := json.Marshal(entry)
				if err != nil {
					return err
				}
				err = r.store.Upsert(ctx, userID, ports.CollectionLibrary, book.ID, data)
				r.metrics.LibraryWrite("save", err)
				return err
			}
			err := r.store.Delete(ctx, userID, ports.CollectionLibrary, book.ID)
			r.metrics.LibraryWrite("unsave", err)
			return err
		},
		Revert: func(err error) {
			r.metrics.RolledBack()
			r.log.Warn("library write failed, reverting", zap.String("user_id", userID), zap.String("book_id", book.ID), zap.Bool("adding", adding), zap.Error(err))
			r.mu.Lock()
			defer r.mu.Unlock()
			state := owner
			if r.users[userID] != state {
				return
			}
			state.settle(state.settled, book.ID)
			state.pending[book.ID]--
			if state.pending[book.ID] > 0 {
				return
			}
			delete(state.pending, book.ID)
			if state.confirmed[book.ID] {
				if _, ok := state.saved[book.ID]; !ok {
					if before.ID == "" {
						before = summa.LibraryEntry{Book: book}
					}
					state.saved[book.ID] = before
				}
			} else {
				delete(state.saved, book.ID)
			}
		},
		Commit: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			state := owner
			if r.users[userID] != state {
				return
			}
			state.settle(state.settled, book.ID)
			state.confirmed[book.ID] = adding
			if !adding {
				delete(state.confirmed, book.ID)
			}
			state.pending[book.ID]--
			if state.pending[book.ID] <= 0 {
				delete(state.pending, book.ID)
			}
		},
	}.Run(ctx)
	if err != nil {
		return !adding, upstream("save book", err)
	}
	return adding, nil
}

// MarkFinished upserts the book into the finished collection. Marking an
// already finished book overwrites its record.
func (r *Reconciler) MarkFinished(ctx context.Context, userID string, book summa.Book) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSignInRequired
	}
	r.mu.Lock()
	owner := r.stateLocked(userID)
	r.mu.Unlock()

	now := r.clock.Now().UTC()
	entry := summa.LibraryEntry{Book: book, FinishedAt: &now}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = r.store.Upsert(ctx, userID, ports.CollectionFinished, book.ID, data)
	r.metrics.LibraryWrite("finish", err)
	if err != nil {
		r.log.Warn("mark finished failed", zap.String("user_id", userID), zap.String("book_id", book.ID), zap.Error(err))
		return upstream("mark finished", err)
	}

	r.mu.Lock()
	if r.users[userID] == owner {
		owner.finished[book.ID] = entry
		owner.settle(owner.finishedAt, book.ID)
	}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) finishWrite(userID string, id string, done chan struct{}) {
	close(done)
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.users[userID]; ok && state.tails[id] == done {
		delete(state.tails, id)
	}
}

func (r *Reconciler) stateLocked(userID string) *userState {
	state, ok := r.users[userID]
	if !ok {
		state = newUserState()
		r.users[userID] = state
	}
	return state
}

func decodeEntries(log *zap.Logger, docs []ports.Document) map[string]summa.LibraryEntry {
	out := make(map[string]summa.LibraryEntry, len(docs))
	for _, doc := range docs {
		var entry summa.LibraryEntry
		if err := json.Unmarshal(doc.Data, &entry); err != nil {
			log.Warn("skipping malformed library document", zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		if entry.ID == "" {
			entry.ID = doc.ID
		}
		out[doc.ID] = entry
	}
	return out
}

func sortedEntries(entries map[string]summa.LibraryEntry) []summa.LibraryEntry {
	out := make([]summa.LibraryEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := entryTime(out[i]), entryTime(out[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func entryTime(entry summa.LibraryEntry) time.Time {
	if entry.FinishedAt != nil {
		return *entry.FinishedAt
	}
	if entry.SavedAt != nil {
		return *entry.SavedAt
	}
	return time.Time{}
}

func containsID(entries []summa.LibraryEntry, id string) bool {
	for _, entry := range entries {
		if entry.ID == id {
			return true
		}
	}
	return false
}

func upstream(op string, err error) error {
	if errors.Is(err, core.ErrUpstreamUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, core.ErrUpstreamUnavailable, err)
}
