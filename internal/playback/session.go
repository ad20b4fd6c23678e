package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// DefaultPollInterval is how often the driver position is sampled.
const DefaultPollInterval = time.Second

// endSlack treats positions this close to the duration as end of media.
const endSlack = 250 * time.Millisecond

// Items resolves catalog items, from memory when already known.
type Items interface {
	Resolve(ctx context.Context, id string) (summa.Book, error)
}

// Durations resolves the playable length of an item.
type Durations interface {
	Resolve(ctx context.Context, id string, mediaRef string) *float64
}

// Finisher records completed items.
type Finisher interface {
	MarkFinished(ctx context.Context, userID string, book summa.Book) error
}

// Entitlements reports a user's subscription state.
type Entitlements interface {
	Status(userID string) summa.SubscriptionStatus
}

// lengthDriver is implemented by drivers that would otherwise measure the
// media themselves. Zero leaves the length unknown.
type lengthDriver interface {
	PlayLength(url string, positionMS int64, total time.Duration) error
}

// Config configures a Session.
type Config struct {
	Driver       ports.Driver
	Items        Items
	Durations    Durations
	Finisher     Finisher
	Entitlements Entitlements
	PollInterval time.Duration
	// OnChange observes every published state.
	OnChange func(summa.PlaybackState)
	// OnUpgrade is called when access is refused.
	OnUpgrade func(itemID string)
	Metrics   *metrics.Metrics
}

// Session owns the machine for one client and executes its effects.
type Session struct {
	log *zap.Logger
	cfg Config

	mu      sync.Mutex
	machine Machine
	version int64
}

// NewSession creates an idle session.
func NewSession(log *zap.Logger, cfg Config) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Driver == nil {
		return nil, errors.New("driver required")
	}
	if cfg.Items == nil {
		return nil, errors.New("item source required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Session{log: log, cfg: cfg, machine: NewMachine()}, nil
}

// State returns the current playback state.
func (s *Session) State() summa.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Item returns the active item.
func (s *Session) Item() (summa.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Item == nil {
		return summa.Book{}, false
	}
	return *s.machine.Item, true
}

// Load makes itemID the active item for userID and returns once it is
// Ready or has failed.
func (s *Session) Load(ctx context.Context, userID string, itemID string) (summa.PlaybackState, error) {
	return s.Dispatch(ctx, Load{ItemID: strings.TrimSpace(itemID), UserID: userID})
}

// Play starts or resumes playback when the gate allows it. A refused play
// returns core.ErrAccessDenied and leaves the session Ready.
func (s *Session) Play(ctx context.Context) (summa.PlaybackState, error) {
	s.mu.Lock()
	userID := s.machine.UserID
	s.mu.Unlock()

	var sub summa.SubscriptionStatus
	if s.cfg.Entitlements != nil && userID != "" {
		sub = s.cfg.Entitlements.Status(userID)
	}
	state, err := s.Dispatch(ctx, Play{Subscription: sub})
	if err == nil && state.UpgradeRequired {
		return state, fmt.Errorf("%w: subscription required", core.ErrAccessDenied)
	}
	return state, err
}

// Pause pauses playback.
func (s *Session) Pause(ctx context.Context) (summa.PlaybackState, error) {
	return s.Dispatch(ctx, Pause{})
}

// Seek moves by delta seconds, clamped to the item.
func (s *Session) Seek(ctx context.Context, delta float64) (summa.PlaybackState, error) {
	return s.Dispatch(ctx, Seek{Delta: delta})
}

// Skip moves SkipSeconds forward or back.
func (s *Session) Skip(ctx context.Context, forward bool) (summa.PlaybackState, error) {
	delta := float64(-SkipSeconds)
	if forward {
		delta = SkipSeconds
	}
	return s.Seek(ctx, delta)
}

// SeekFraction moves to fraction (0..1) of the item, as a progress bar does.
func (s *Session) SeekFraction(ctx context.Context, fraction float64) (summa.PlaybackState, error) {
	return s.Dispatch(ctx, SeekFraction{Fraction: fraction})
}

// Unload discards the session.
func (s *Session) Unload(ctx context.Context) (summa.PlaybackState, error) {
	return s.Dispatch(ctx, Unload{})
}

// Dispatch folds ev into the session and runs the resulting effects.
func (s *Session) Dispatch(ctx context.Context, ev Event) (summa.PlaybackState, error) {
	s.mu.Lock()
	prev := s.machine.Status
	next, effects, err := Transition(s.machine, ev)
	if err != nil {
		state := s.stateLocked()
		s.mu.Unlock()
		return state, err
	}
	s.machine = next

	var deferred []Effect
	var mediaErr error
	for _, effect := range effects {
		switch effect.(type) {
		case FetchItem, MarkFinished, RedirectUpgrade:
			deferred = append(deferred, effect)
			continue
		}
		if err := s.applyMediaLocked(effect); err != nil {
			s.log.Warn("media action failed", zap.String("action", effect.effectName()), zap.Error(err))
			failed, _, _ := Transition(s.machine, MediaFailed{Err: err})
			s.machine = failed
			mediaErr = fmt.Errorf("%w: %v", core.ErrMediaUnavailable, err)
			break
		}
	}
	state := s.publishLocked(prev)
	s.mu.Unlock()
	s.notify(state)

	if mediaErr != nil {
		return state, mediaErr
	}

	for _, effect := range deferred {
		switch e := effect.(type) {
		case FetchItem:
			return s.fetch(ctx, e)
		case MarkFinished:
			s.markFinished(ctx, e)
		case RedirectUpgrade:
			if s.cfg.OnUpgrade != nil {
				s.cfg.OnUpgrade(e.ItemID)
			}
		}
	}
	return state, nil
}

// Consume dispatches events until ctx is done or events is closed.
func (s *Session) Consume(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := s.Dispatch(ctx, ev); err != nil {
				s.log.Debug("media event rejected", zap.String("event", ev.eventName()), zap.Error(err))
			}
		}
	}
}

// Run polls the driver and feeds position and end events into the session
// until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.Consume(ctx, s.MediaEvents(ctx))
}

// MediaEvents samples the driver while playing and emits TimeUpdate events,
// plus one Ended per played item when the position reaches the duration.
func (s *Session) MediaEvents(ctx context.Context) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		var endSent bool
		var endSeq uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			s.mu.Lock()
			playing := s.machine.Status == summa.StatusPlaying
			seq := s.machine.Seq
			knownMS := toMS(s.machine.Total)
			s.mu.Unlock()
			if !playing {
				continue
			}
			if seq != endSeq {
				endSent = false
				endSeq = seq
			}
			posMS, durMS, ok := s.cfg.Driver.Position()
			if !ok {
				continue
			}
			batch := []Event{TimeUpdate{Position: float64(posMS) / 1000, Total: float64(durMS) / 1000}}
			endMS := durMS
			if endMS <= 0 {
				endMS = knownMS
			}
			atEnd := endMS > 0 && posMS >= endMS-endSlack.Milliseconds()
			if !atEnd {
				endSent = false
			} else if !endSent {
				endSent = true
				batch = append(batch, Ended{})
			}
			for _, ev := range batch {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events
}

func (s *Session) fetch(ctx context.Context, e FetchItem) (summa.PlaybackState, error) {
	book, err := s.cfg.Items.Resolve(ctx, e.ItemID)
	if err != nil {
		s.log.Warn("load failed", zap.String("item_id", e.ItemID), zap.Error(err))
		state, _ := s.Dispatch(ctx, LoadFailed{Seq: e.Seq, Err: err})
		return state, err
	}
	var total *float64
	if s.cfg.Durations != nil {
		total = s.cfg.Durations.Resolve(ctx, book.ID, book.AudioLink)
	}
	return s.Dispatch(ctx, Loaded{Seq: e.Seq, Item: book, Total: total})
}

func (s *Session) markFinished(ctx context.Context, e MarkFinished) {
	if s.cfg.Finisher == nil {
		return
	}
	if err := s.cfg.Finisher.MarkFinished(ctx, e.UserID, e.Item); err != nil {
		s.log.Warn("mark finished failed", zap.String("user_id", e.UserID), zap.String("item_id", e.Item.ID), zap.Error(err))
	}
}

func (s *Session) applyMediaLocked(effect Effect) error {
	driver := s.cfg.Driver
	switch e := effect.(type) {
	case StartMedia:
		if d, ok := driver.(lengthDriver); ok {
			return d.PlayLength(e.URL, e.PositionMS, time.Duration(s.machine.Total*float64(time.Second)))
		}
		return driver.Play(e.URL, e.PositionMS)
	case PauseMedia:
		return driver.Pause()
	case ResumeMedia:
		return driver.Resume()
	case SeekMedia:
		return driver.Seek(e.PositionMS)
	case StopMedia:
		return driver.Stop()
	default:
		return fmt.Errorf("unhandled effect %s", effect.effectName())
	}
}

func (s *Session) publishLocked(prev summa.PlayerStatus) summa.PlaybackState {
	s.version++
	if s.machine.Status != prev {
		s.cfg.Metrics.Transitioned(string(s.machine.Status))
		s.log.Debug("playback transition", zap.String("from", string(prev)), zap.String("to", string(s.machine.Status)), zap.String("item_id", s.machine.ItemID()))
	}
	return s.stateLocked()
}

func (s *Session) stateLocked() summa.PlaybackState {
	state := s.machine.State()
	state.Version = s.version
	state.TS = time.Now().Unix()
	return state
}

func (s *Session) notify(state summa.PlaybackState) {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(state)
	}
}
