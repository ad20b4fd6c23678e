// Package playback runs the single active audio session. Media and user
// events are folded through Transition, which is pure; Session executes the
// resulting effects against a Driver.
package playback

import (
	"errors"
	"fmt"
	"math"

	"github.com/mikey-austin/summarist/internal/access"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// SkipSeconds is the fixed skip forward/back delta.
const SkipSeconds = 10

var (
	// ErrInvalidTransition is returned for events the current state does not accept.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNoDuration is returned when seeking before a duration is known.
	ErrNoDuration = errors.New("duration unknown")
)

// Machine is the session state.
type Machine struct {
	Status          summa.PlayerStatus
	Item            *summa.Book
	UserID          string
	Position        float64
	Total           float64
	UpgradeRequired bool
	Err             string
	// Seq identifies the latest load so late fetch results can be dropped.
	Seq uint64

	pendingID string
}

// NewMachine returns an idle machine.
func NewMachine() Machine {
	return Machine{Status: summa.StatusIdle}
}

// ItemID returns the active item id or "".
func (m Machine) ItemID() string {
	if m.Item == nil {
		return ""
	}
	return m.Item.ID
}

// State projects the machine onto the observable playback state.
func (m Machine) State() summa.PlaybackState {
	state := summa.PlaybackState{
		Status:          m.Status,
		IsPlaying:       m.Status == summa.StatusPlaying,
		PositionSeconds: m.Position,
		TotalSeconds:    m.Total,
		Error:           m.Err,
		UpgradeRequired: m.UpgradeRequired,
	}
	if m.Item != nil {
		state.ActiveItemID = m.Item.ID
	} else if m.Status == summa.StatusLoading || m.Status == summa.StatusError {
		state.ActiveItemID = m.pendingID
	}
	return state
}

func (m Machine) mediaActive() bool {
	return m.Status == summa.StatusPlaying || m.Status == summa.StatusPaused
}

// Event is an input to Transition.
type Event interface {
	eventName() string
}

// Load starts loading an item, discarding the current session.
type Load struct {
	ItemID string
	UserID string
}

// Loaded delivers the fetched item for load Seq.
type Loaded struct {
	Seq   uint64
	Item  summa.Book
	Total *float64
}

// LoadFailed reports a failed fetch for load Seq.
type LoadFailed struct {
	Seq uint64
	Err error
}

// Play requests playback under the caller's subscription.
type Play struct {
	Subscription summa.SubscriptionStatus
}

// Pause requests a pause.
type Pause struct{}

// Seek moves the position by Delta seconds.
type Seek struct {
	Delta float64
}

// SeekFraction moves the position to a fraction of the total.
type SeekFraction struct {
	Fraction float64
}

// TimeUpdate reports the media element's position.
type TimeUpdate struct {
	Position float64
	Total    float64
}

// Ended reports natural end of media.
type Ended struct{}

// MediaFailed reports a media element error.
type MediaFailed struct {
	Err error
}

// Unload tears the session down.
type Unload struct{}

func (Load) eventName() string         { return "load" }
func (Loaded) eventName() string       { return "loaded" }
func (LoadFailed) eventName() string   { return "loadFailed" }
func (Play) eventName() string         { return "play" }
func (Pause) eventName() string        { return "pause" }
func (Seek) eventName() string         { return "seek" }
func (SeekFraction) eventName() string { return "seekFraction" }
func (TimeUpdate) eventName() string   { return "timeupdate" }
func (Ended) eventName() string        { return "ended" }
func (MediaFailed) eventName() string  { return "error" }
func (Unload) eventName() string       { return "unload" }

// Effect is an action requested by Transition.
type Effect interface {
	effectName() string
}

// FetchItem asks for the item to be resolved and reported as Loaded or LoadFailed.
type FetchItem struct {
	Seq    uint64
	ItemID string
}

// StartMedia starts the media element at PositionMS.
type StartMedia struct {
	URL        string
	PositionMS int64
}

// PauseMedia pauses the media element.
type PauseMedia struct{}

// ResumeMedia resumes the media element.
type ResumeMedia struct{}

// SeekMedia seeks the media element.
type SeekMedia struct {
	PositionMS int64
}

// StopMedia releases the media element.
type StopMedia struct{}

// MarkFinished records the item as finished for the user.
type MarkFinished struct {
	UserID string
	Item   summa.Book
}

// RedirectUpgrade sends the caller to plan selection.
type RedirectUpgrade struct {
	ItemID string
}

func (FetchItem) effectName() string       { return "fetch" }
func (StartMedia) effectName() string      { return "start" }
func (PauseMedia) effectName() string      { return "pause" }
func (ResumeMedia) effectName() string     { return "resume" }
func (SeekMedia) effectName() string       { return "seek" }
func (StopMedia) effectName() string       { return "stop" }
func (MarkFinished) effectName() string    { return "markFinished" }
func (RedirectUpgrade) effectName() string { return "upgrade" }

// Transition applies ev to m. It performs no I/O.
func Transition(m Machine, ev Event) (Machine, []Effect, error) {
	switch e := ev.(type) {
	case Load:
		return load(m, e)
	case Loaded:
		if e.Seq != m.Seq || m.Status != summa.StatusLoading {
			return m, nil, nil
		}
		item := e.Item
		m.Item = &item
		m.pendingID = ""
		m.Status = summa.StatusReady
		m.Position = 0
		m.Total = 0
		if e.Total != nil && validSeconds(*e.Total) {
			m.Total = *e.Total
		}
		return m, nil, nil
	case LoadFailed:
		if e.Seq != m.Seq || m.Status != summa.StatusLoading {
			return m, nil, nil
		}
		m.Status = summa.StatusError
		m.Err = errorText(e.Err)
		return m, nil, nil
	case Play:
		return play(m, e)
	case Pause:
		switch m.Status {
		case summa.StatusPlaying:
			m.Status = summa.StatusPaused
			return m, []Effect{PauseMedia{}}, nil
		case summa.StatusPaused:
			return m, nil, nil
		}
		return m, nil, invalid(ev, m)
	case Seek:
		return seekTo(m, ev, m.Position+e.Delta)
	case SeekFraction:
		fraction := e.Fraction
		if math.IsNaN(fraction) {
			return m, nil, core.UsageError("fraction must be a number")
		}
		return seekTo(m, ev, clamp(fraction, 0, 1)*m.Total)
	case TimeUpdate:
		if !m.mediaActive() {
			return m, nil, nil
		}
		if validSeconds(e.Total) {
			m.Total = e.Total
		}
		if !math.IsNaN(e.Position) {
			m.Position = math.Max(0, e.Position)
			if m.Total > 0 {
				m.Position = math.Min(m.Position, m.Total)
			}
		}
		return m, nil, nil
	case Ended:
		if m.Status != summa.StatusPlaying {
			return m, nil, nil
		}
		m.Status = summa.StatusCompleted
		m.Position = m.Total
		effects := []Effect{StopMedia{}}
		if m.UserID != "" && m.Item != nil {
			effects = append(effects, MarkFinished{UserID: m.UserID, Item: *m.Item})
		}
		return m, effects, nil
	case MediaFailed:
		if m.Status == summa.StatusIdle || m.Status == summa.StatusLoading {
			return m, nil, nil
		}
		var effects []Effect
		if m.mediaActive() {
			effects = append(effects, StopMedia{})
		}
		m.Status = summa.StatusError
		m.Err = errorText(e.Err)
		return m, effects, nil
	case Unload:
		var effects []Effect
		if m.mediaActive() {
			effects = append(effects, StopMedia{})
		}
		seq := m.Seq
		m = NewMachine()
		m.Seq = seq
		return m, effects, nil
	default:
		return m, nil, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
}

func load(m Machine, e Load) (Machine, []Effect, error) {
	if e.ItemID == "" {
		return m, nil, core.UsageError("item id required")
	}
	var effects []Effect
	if m.mediaActive() {
		effects = append(effects, StopMedia{})
	}
	seq := m.Seq + 1
	m = NewMachine()
	m.Seq = seq
	m.Status = summa.StatusLoading
	m.UserID = e.UserID
	m.pendingID = e.ItemID
	effects = append(effects, FetchItem{Seq: seq, ItemID: e.ItemID})
	return m, effects, nil
}

func play(m Machine, e Play) (Machine, []Effect, error) {
	switch m.Status {
	case summa.StatusPlaying:
		return m, nil, nil
	case summa.StatusReady, summa.StatusPaused, summa.StatusCompleted:
	default:
		return m, nil, invalid(e, m)
	}
	if !access.Allow(*m.Item, e.Subscription) {
		m.UpgradeRequired = true
		return m, []Effect{RedirectUpgrade{ItemID: m.Item.ID}}, nil
	}
	m.UpgradeRequired = false

	if m.Status == summa.StatusPaused {
		m.Status = summa.StatusPlaying
		return m, []Effect{ResumeMedia{}}, nil
	}
	if !m.Item.HasAudio() {
		return m, nil, fmt.Errorf("%w: no audio for %s", core.ErrMediaUnavailable, m.Item.ID)
	}
	if m.Status == summa.StatusCompleted && m.Position >= m.Total {
		m.Position = 0
	}
	m.Status = summa.StatusPlaying
	return m, []Effect{StartMedia{URL: m.Item.AudioLink, PositionMS: toMS(m.Position)}}, nil
}

func seekTo(m Machine, ev Event, target float64) (Machine, []Effect, error) {
	if m.Item == nil {
		return m, nil, invalid(ev, m)
	}
	if m.Total <= 0 {
		return m, nil, ErrNoDuration
	}
	if math.IsNaN(target) {
		return m, nil, core.UsageError("seek target must be a number")
	}
	m.Position = clamp(target, 0, m.Total)
	if m.mediaActive() {
		return m, []Effect{SeekMedia{PositionMS: toMS(m.Position)}}, nil
	}
	return m, nil, nil
}

func invalid(ev Event, m Machine) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.eventName(), m.Status)
}

func validSeconds(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v float64, lo float64, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func toMS(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
