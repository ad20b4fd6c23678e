// Package app wires the catalog, duration cache, search index, library,
// subscriptions and player into one object with a sign-in lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/access"
	"github.com/mikey-austin/summarist/internal/catalog"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/duration"
	"github.com/mikey-austin/summarist/internal/library"
	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/internal/playback"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/internal/search"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Options are the collaborators an App is built from.
type Options struct {
	Config    core.Config
	API       ports.ContentAPI
	Store     ports.DocumentStore
	Prober    ports.DurationProber
	Clock     ports.Clock
	Metrics   *metrics.Metrics
	Durations duration.CacheConfig
	// Driver enables the player; without it Player is nil.
	Driver       ports.Driver
	PollInterval time.Duration
	// OnPlayback observes player state changes.
	OnPlayback func(summa.PlaybackState)
	// OnUpgrade is called when the player refuses a restricted item.
	OnUpgrade func(itemID string)
	// SearchAfter overrides the debounce scheduler.
	SearchAfter search.AfterFunc
}

// App is the per-session application context.
type App struct {
	log     *zap.Logger
	config  core.Config
	store   ports.DocumentStore
	metrics *metrics.Metrics

	Catalog       *catalog.Store
	Durations     *duration.Cache
	Search        *search.Index
	Library       *library.Reconciler
	Subscriptions *library.Subscriptions
	Player        *playback.Session

	mu       sync.Mutex
	userID   string
	searches chan core.SearchResult
	closed   bool
}

// New builds an App. The caller owns opts.Store until New succeeds; after
// that Close releases it.
func New(log *zap.Logger, opts Options) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.API == nil {
		return nil, errors.New("content api required")
	}
	if opts.Store == nil {
		return nil, errors.New("document store required")
	}
	if opts.Prober == nil {
		return nil, errors.New("duration prober required")
	}
	if opts.Clock == nil {
		return nil, errors.New("clock required")
	}
	if opts.Durations.Timeout <= 0 {
		opts.Durations.Timeout = opts.Config.ProbeTimeout
	}

	durations, err := duration.NewCache(log.Named("durations"), opts.Prober, opts.Durations, opts.Metrics)
	if err != nil {
		return nil, err
	}
	a := &App{
		log:       log,
		config:    opts.Config,
		store:     opts.Store,
		metrics:   opts.Metrics,
		Durations: durations,
		searches:  make(chan core.SearchResult, 16),
	}
	a.Catalog = catalog.NewStore(log.Named("catalog"), opts.API, durations, opts.Metrics)
	a.Search = search.New(log.Named("search"), a.Catalog, search.Config{
		Quiet:    opts.Config.SearchQuiet,
		After:    opts.SearchAfter,
		OnChange: a.onSearch,
	}, opts.Metrics)
	a.Library = library.NewReconciler(log.Named("library"), opts.Store, opts.Clock, opts.Metrics)
	a.Subscriptions = library.NewSubscriptions(log.Named("subscriptions"), opts.Store, opts.Clock)

	if opts.Driver != nil {
		player, err := playback.NewSession(log.Named("player"), playback.Config{
			Driver:       opts.Driver,
			Items:        a.Catalog,
			Durations:    durations,
			Finisher:     a.Library,
			Entitlements: a.Subscriptions,
			PollInterval: opts.PollInterval,
			OnChange:     opts.OnPlayback,
			OnUpgrade:    opts.OnUpgrade,
			Metrics:      opts.Metrics,
		})
		if err != nil {
			return nil, err
		}
		a.Player = player
	}

	return a, nil
}

// UserID returns the signed-in user or "".
func (a *App) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID
}

// SignIn makes userID the active user and loads their library and profile.
// Load failures are returned but leave the user signed in.
func (a *App) SignIn(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.UsageError("user id required")
	}
	previous := a.UserID()
	if previous != "" && previous != userID {
		a.SignOut(ctx)
	}
	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()

	var errs []error
	if _, err := a.Library.Load(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if _, err := a.Subscriptions.LoadProfile(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SignOut drops all user-scoped state: library sets, subscription state and
// the active playback session.
func (a *App) SignOut(ctx context.Context) {
	a.mu.Lock()
	userID := a.userID
	a.userID = ""
	a.mu.Unlock()
	if userID == "" {
		return
	}
	a.Library.Reset(userID)
	a.Subscriptions.Reset(userID)
	if a.Player != nil {
		if _, err := a.Player.Unload(ctx); err != nil {
			a.log.Debug("unload on sign-out", zap.Error(err))
		}
	}
	a.log.Info("signed out", zap.String("user_id", userID))
}

// Close releases the search index, player and document store.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.Search.Close()
	if a.Player != nil {
		_, _ = a.Player.Unload(context.Background())
	}
	return a.store.Close()
}

// ForYou refreshes the catalog and returns the home view. Durations of the
// displayed books are resolved before returning.
func (a *App) ForYou(ctx context.Context) (core.ForYouResult, error) {
	fetched, err := a.Catalog.FetchAll(ctx)
	if err != nil {
		return core.ForYouResult{}, core.WrapError(core.ExitCode(err), "fetch catalog", err)
	}
	view := a.Catalog.ForYou()

	shown := append([]summa.Book{}, view.Recommended...)
	shown = append(shown, view.Suggested...)
	if view.Selected != nil {
		shown = append(shown, *view.Selected)
	}
	a.Durations.ResolveAll(ctx, shown)

	result := core.ForYouResult{
		Recommended: a.views(view.Recommended),
		Suggested:   a.views(view.Suggested),
	}
	if view.Selected != nil {
		selected := a.view(*view.Selected)
		result.Selected = &selected
	}
	for _, segment := range summa.Segments {
		if _, failed := fetched.Errors[segment]; failed {
			result.Failed = append(result.Failed, string(segment))
		}
	}
	return result, nil
}

// Book fetches a single book with its duration.
func (a *App) Book(ctx context.Context, id string) (core.BookResult, error) {
	book, err := a.Catalog.FetchByID(ctx, id)
	if err != nil {
		return core.BookResult{}, core.WrapError(core.ExitCode(err), "fetch book", err)
	}
	a.Durations.Resolve(ctx, book.ID, book.AudioLink)
	return core.BookResult{Book: a.view(book)}, nil
}

// Read returns a book's summary text. Restricted books need an active
// subscription; without one the book is returned with ErrAccessDenied.
func (a *App) Read(ctx context.Context, id string) (core.ReadResult, error) {
	book, err := a.Catalog.FetchByID(ctx, id)
	if err != nil {
		return core.ReadResult{}, core.WrapError(core.ExitCode(err), "fetch book", err)
	}
	status := a.Subscriptions.Status(a.UserID())
	result := core.ReadResult{Book: a.view(book)}
	if !access.Allow(book, status) {
		return result, fmt.Errorf("read %s: %w: subscription required", book.ID, core.ErrAccessDenied)
	}
	result.Summary = book.Summary
	return result, nil
}

// SearchBooks feeds text through the debounced index and waits for it to settle.
func (a *App) SearchBooks(ctx context.Context, text string) (core.SearchResult, error) {
	if strings.TrimSpace(text) == "" {
		a.Search.SetQuery(text)
		return core.SearchResult{Query: text, Books: []core.BookView{}}, nil
	}
	a.Search.SetQuery(text)
	for {
		select {
		case <-ctx.Done():
			return core.SearchResult{}, core.WrapError(core.ExitUpstream, "search", ctx.Err())
		case result := <-a.searches:
			if result.Query == text {
				return result, nil
			}
		}
	}
}

// SearchUpdates delivers every settled search. Slow readers miss
// intermediate results.
func (a *App) SearchUpdates() <-chan core.SearchResult {
	return a.searches
}

func (a *App) onSearch(query string, books []summa.Book) {
	result := core.SearchResult{Query: query, Books: a.views(books)}
	for {
		select {
		case a.searches <- result:
			return
		default:
		}
		select {
		case <-a.searches:
		default:
		}
	}
}

// LoadLibrary reloads the signed-in user's library.
func (a *App) LoadLibrary(ctx context.Context) (core.LibraryResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.LibraryResult{}, err
	}
	sets, err := a.Library.Load(ctx, userID)
	result := core.LibraryResult{UserID: userID, Saved: a.entryViews(sets.Saved), Finished: a.entryViews(sets.Finished)}
	if err != nil {
		return result, core.WrapError(core.ExitUpstream, "load library", err)
	}
	return result, nil
}

// SetSaved saves or unsaves a book. A book already in the wanted state is
// left alone.
func (a *App) SetSaved(ctx context.Context, id string, want bool) (core.SaveResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.SaveResult{}, err
	}
	if a.Library.Sets(userID).IsSaved(id) == want {
		return core.SaveResult{BookID: id, Saved: want}, nil
	}
	return a.ToggleSave(ctx, id)
}

// ToggleSave flips saved membership for a book.
func (a *App) ToggleSave(ctx context.Context, id string) (core.SaveResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.SaveResult{}, err
	}
	book, err := a.Catalog.Resolve(ctx, id)
	if err != nil {
		return core.SaveResult{}, core.WrapError(core.ExitCode(err), "fetch book", err)
	}
	saved, err := a.Library.ToggleSave(ctx, userID, book)
	if err != nil {
		return core.SaveResult{BookID: id, Saved: saved}, core.WrapError(core.ExitUpstream, "save book", err)
	}
	return core.SaveResult{BookID: id, Saved: saved}, nil
}

// MarkFinished records a book as finished for the signed-in user.
func (a *App) MarkFinished(ctx context.Context, id string) error {
	userID, err := a.requireUser()
	if err != nil {
		return err
	}
	book, err := a.Catalog.Resolve(ctx, id)
	if err != nil {
		return core.WrapError(core.ExitCode(err), "fetch book", err)
	}
	if err := a.Library.MarkFinished(ctx, userID, book); err != nil {
		return core.WrapError(core.ExitUpstream, "mark finished", err)
	}
	return nil
}

// Duration resolves a book's duration through the cache.
func (a *App) Duration(ctx context.Context, id string) (core.DurationResult, error) {
	book, err := a.Catalog.Resolve(ctx, id)
	if err != nil {
		return core.DurationResult{}, core.WrapError(core.ExitCode(err), "fetch book", err)
	}
	return core.DurationResult{BookID: book.ID, Duration: a.Durations.Resolve(ctx, book.ID, book.AudioLink)}, nil
}

// Subscribe starts a subscription for the signed-in user.
func (a *App) Subscribe(ctx context.Context, plan summa.Plan) (core.ProfileResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.ProfileResult{}, err
	}
	status, err := a.Subscriptions.Subscribe(ctx, userID, plan)
	if err != nil {
		return core.ProfileResult{UserID: userID, Status: status}, core.WrapError(core.ExitCode(err), "subscribe", err)
	}
	return core.ProfileResult{UserID: userID, Status: status}, nil
}

// CancelSubscription ends the signed-in user's subscription.
func (a *App) CancelSubscription(ctx context.Context) (core.ProfileResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.ProfileResult{}, err
	}
	status, err := a.Subscriptions.Cancel(ctx, userID)
	if err != nil {
		return core.ProfileResult{UserID: userID, Status: status}, core.WrapError(core.ExitCode(err), "cancel subscription", err)
	}
	return core.ProfileResult{UserID: userID, Status: status}, nil
}

// Profile reloads the signed-in user's subscription state.
func (a *App) Profile(ctx context.Context) (core.ProfileResult, error) {
	userID, err := a.requireUser()
	if err != nil {
		return core.ProfileResult{}, err
	}
	status, err := a.Subscriptions.LoadProfile(ctx, userID)
	if err != nil {
		return core.ProfileResult{UserID: userID, Status: status}, core.WrapError(core.ExitUpstream, "load profile", err)
	}
	return core.ProfileResult{UserID: userID, Status: status}, nil
}

// Playback returns the local player state.
func (a *App) Playback() (core.PlaybackResult, error) {
	if a.Player == nil {
		return core.PlaybackResult{}, errors.New("player not configured")
	}
	result := core.PlaybackResult{State: a.Player.State()}
	if book, ok := a.Player.Item(); ok {
		result.Title = book.Title
	}
	return result, nil
}

func (a *App) requireUser() (string, error) {
	userID := a.UserID()
	if userID == "" {
		return "", library.ErrSignInRequired
	}
	return userID, nil
}

type viewer struct {
	durations *duration.Cache
	sets      library.Sets
	status    summa.SubscriptionStatus
}

func (a *App) viewer() viewer {
	userID := a.UserID()
	return viewer{
		durations: a.Durations,
		sets:      a.Library.Sets(userID),
		status:    a.Subscriptions.Status(userID),
	}
}

func (v viewer) view(book summa.Book) core.BookView {
	if !access.Allow(book, v.status) {
		book.Summary = ""
	}
	out := core.BookView{
		Book:     book,
		Saved:    v.sets.IsSaved(book.ID),
		Finished: v.sets.IsFinished(book.ID),
		Access:   access.Decide(book, v.status).String(),
	}
	if seconds, ok := v.durations.Lookup(book.ID); ok {
		out.Duration = seconds
	}
	return out
}

func (a *App) view(book summa.Book) core.BookView {
	return a.viewer().view(book)
}

func (a *App) views(books []summa.Book) []core.BookView {
	v := a.viewer()
	out := make([]core.BookView, 0, len(books))
	for _, book := range books {
		out = append(out, v.view(book))
	}
	return out
}

func (a *App) entryViews(entries []summa.LibraryEntry) []core.BookView {
	v := a.viewer()
	out := make([]core.BookView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, v.view(entry.Book))
	}
	return out
}
