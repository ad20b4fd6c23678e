package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mikey-austin/summarist/internal/adapters/clock"
	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/duration"
	"github.com/mikey-austin/summarist/internal/library"
	"github.com/mikey-austin/summarist/internal/playback"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

type fakeAPI struct {
	mu       sync.Mutex
	segments map[summa.Segment][]summa.Book
	searches []string
}

func (f *fakeAPI) Segment(ctx context.Context, segment summa.Segment) ([]summa.Book, error) {
	return f.segments[segment], nil
}

func (f *fakeAPI) Book(ctx context.Context, id string) (summa.Book, error) {
	for _, books := range f.segments {
		for _, book := range books {
			if book.ID == id {
				return book, nil
			}
		}
	}
	return summa.Book{}, core.ErrNotFound
}

func (f *fakeAPI) Search(ctx context.Context, query string) ([]summa.Book, error) {
	f.mu.Lock()
	f.searches = append(f.searches, query)
	f.mu.Unlock()
	var out []summa.Book
	for _, books := range f.segments {
		for _, book := range books {
			if strings.Contains(strings.ToLower(book.Title), strings.ToLower(query)) {
				out = append(out, book)
			}
		}
	}
	return out, nil
}

type nopDriver struct{}

func (nopDriver) Play(url string, positionMS int64) error { return nil }
func (nopDriver) Pause() error                            { return nil }
func (nopDriver) Resume() error                           { return nil }
func (nopDriver) Stop() error                             { return nil }
func (nopDriver) Seek(positionMS int64) error             { return nil }
func (nopDriver) Position() (int64, int64, bool)          { return 0, 0, false }

func newTestApp(t *testing.T) (*App, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{segments: map[summa.Segment][]summa.Book{
		summa.SegmentSelected:    {{ID: "1", Title: "Atomic Habits", AudioLink: "a1"}},
		summa.SegmentRecommended: {{ID: "1", Title: "Duplicate"}, {ID: "2", Title: "Deep Work", AudioLink: "a2", SubscriptionRequired: true, Summary: "Focus is rare."}},
		summa.SegmentSuggested:   {{ID: "3", Title: "Range", Summary: "Generalists triumph."}},
	}}
	store, err := docstore.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	prober := duration.ProberFunc(func(ctx context.Context, ref string) (float64, error) {
		if ref == "a2" {
			return 0, errors.New("broken")
		}
		return 125, nil
	})
	a, err := New(nil, Options{
		Config: core.Config{SearchQuiet: 10 * time.Millisecond},
		API:    api,
		Store:  store,
		Prober: prober,
		Clock:  clock.Fixed{At: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		Driver: nopDriver{},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, api
}

func TestForYouMergesSegments(t *testing.T) {
	a, _ := newTestApp(t)
	result, err := a.ForYou(context.Background())
	if err != nil {
		t.Fatalf("for you: %v", err)
	}

	snap := a.Catalog.Snapshot()
	if got := strings.Join(snap.IDs(), ","); got != "1,2,3" {
		t.Fatalf("expected ids 1,2,3, got %s", got)
	}
	if book, _ := snap.Get("1"); book.Title != "Atomic Habits" {
		t.Fatalf("expected item 1 from selected, got %q", book.Title)
	}
	if result.Selected == nil || result.Selected.Book.ID != "1" {
		t.Fatalf("unexpected selected %+v", result.Selected)
	}
	if result.Selected.Duration == nil || *result.Selected.Duration != 125 {
		t.Fatalf("expected resolved duration, got %v", result.Selected.Duration)
	}
	if len(result.Recommended) != 2 || result.Recommended[1].Duration != nil {
		t.Fatalf("expected failed probe as nil duration, got %+v", result.Recommended)
	}
	if result.Recommended[1].Access != "upgrade" {
		t.Fatalf("expected restricted book to need upgrade, got %s", result.Recommended[1].Access)
	}
}

func TestRequiresSignIn(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.ToggleSave(context.Background(), "1"); !errors.Is(err, library.ErrSignInRequired) {
		t.Fatalf("expected sign-in error, got %v", err)
	}
	if err := a.SignIn(context.Background(), " "); core.ExitCode(err) != core.ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestLibraryLifecycle(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	saved, err := a.SetSaved(ctx, "3", true)
	if err != nil || !saved.Saved {
		t.Fatalf("save: %+v %v", saved, err)
	}
	saved, err = a.SetSaved(ctx, "3", true)
	if err != nil || !saved.Saved {
		t.Fatalf("idempotent save: %+v %v", saved, err)
	}
	lib, err := a.LoadLibrary(ctx)
	if err != nil {
		t.Fatalf("library: %v", err)
	}
	if len(lib.Saved) != 1 || lib.Saved[0].Book.ID != "3" || !lib.Saved[0].Saved {
		t.Fatalf("unexpected library %+v", lib)
	}

	a.SignOut(ctx)
	if a.UserID() != "" {
		t.Fatalf("expected signed out")
	}
	if len(a.Library.Sets("u1").Saved) != 0 {
		t.Fatalf("expected sets dropped on sign-out")
	}
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("sign in again: %v", err)
	}
	if !a.Library.Sets("u1").IsSaved("3") {
		t.Fatalf("expected persisted save reloaded")
	}
}

func TestSubscriptionUnlocksPlayback(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if _, err := a.Player.Load(ctx, a.UserID(), "2"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := a.Player.Play(ctx); !errors.Is(err, core.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}

	profile, err := a.Subscribe(ctx, summa.PlanPremiumPlus)
	if err != nil || !profile.Status.IsSubscribed {
		t.Fatalf("subscribe: %+v %v", profile, err)
	}
	state, err := a.Player.Play(ctx)
	if err != nil || state.Status != summa.StatusPlaying {
		t.Fatalf("play after subscribing: %+v %v", state, err)
	}

	if _, err := a.Player.Dispatch(ctx, playback.Ended{}); err != nil {
		t.Fatalf("ended: %v", err)
	}
	if !a.Library.Sets("u1").IsFinished("2") {
		t.Fatalf("expected completion to mark finished")
	}
	docs, err := a.store.List(ctx, "u1", ports.CollectionFinished)
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one finished document, got %d %v", len(docs), err)
	}

	profile, err = a.CancelSubscription(ctx)
	if err != nil || profile.Status.IsSubscribed {
		t.Fatalf("cancel: %+v %v", profile, err)
	}
	profile, err = a.Profile(ctx)
	if err != nil || profile.Status.IsSubscribed {
		t.Fatalf("profile after cancel: %+v %v", profile, err)
	}
}

func TestSearchBooksDebounces(t *testing.T) {
	a, api := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a.Search.SetQuery("r")
	result, err := a.SearchBooks(ctx, "ran")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(result.Books) != 1 || result.Books[0].Book.ID != "3" {
		t.Fatalf("unexpected results %+v", result)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.searches) != 1 || api.searches[0] != "ran" {
		t.Fatalf("expected one query for latest input, got %v", api.searches)
	}
}

func TestDurationAndBook(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	res, err := a.Duration(ctx, "1")
	if err != nil || res.Duration == nil || *res.Duration != 125 {
		t.Fatalf("duration: %+v %v", res, err)
	}
	if _, err := a.Book(ctx, "missing"); core.ExitCode(err) != core.ExitNotFound {
		t.Fatalf("expected not found exit code, got %v", err)
	}
}

func TestReadNeedsSubscriptionForRestrictedBooks(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	if err := a.SignIn(ctx, "u1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	open, err := a.Read(ctx, "3")
	if err != nil || open.Summary != "Generalists triumph." {
		t.Fatalf("read open book: %+v %v", open, err)
	}

	refused, err := a.Read(ctx, "2")
	if !errors.Is(err, core.ErrAccessDenied) || core.ExitCode(err) != core.ExitAccess {
		t.Fatalf("expected access denied, got %v", err)
	}
	if refused.Summary != "" || refused.Book.Book.Summary != "" || refused.Book.Access != "upgrade" {
		t.Fatalf("expected summary withheld, got %+v", refused)
	}
	detail, err := a.Book(ctx, "2")
	if err != nil || detail.Book.Book.Summary != "" {
		t.Fatalf("expected book view without summary: %+v %v", detail, err)
	}

	if _, err := a.Subscribe(ctx, summa.PlanPremium); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	granted, err := a.Read(ctx, "2")
	if err != nil || granted.Summary != "Focus is rare." || granted.Book.Access != "granted" {
		t.Fatalf("read after subscribing: %+v %v", granted, err)
	}
}
