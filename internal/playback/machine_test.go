package playback

import (
	"errors"
	"testing"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/pkg/summa"
)

func readyMachine(t *testing.T, book summa.Book, total float64) Machine {
	t.Helper()
	m, effects, err := Transition(NewMachine(), Load{ItemID: book.ID, UserID: "u1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fetch, ok := effects[len(effects)-1].(FetchItem)
	if !ok || fetch.ItemID != book.ID {
		t.Fatalf("expected fetch effect, got %#v", effects)
	}
	m, _, err = Transition(m, Loaded{Seq: fetch.Seq, Item: book, Total: &total})
	if err != nil {
		t.Fatalf("loaded: %v", err)
	}
	if m.Status != summa.StatusReady {
		t.Fatalf("expected ready, got %s", m.Status)
	}
	return m
}

func audioBook(id string) summa.Book {
	return summa.Book{ID: id, Title: "T", AudioLink: "https://cdn.example/" + id + ".mp3"}
}

func TestLoadDiscardsStaleFetch(t *testing.T) {
	m, _, _ := Transition(NewMachine(), Load{ItemID: "a"})
	first := m.Seq
	m, _, _ = Transition(m, Load{ItemID: "b"})

	total := 60.0
	m, _, _ = Transition(m, Loaded{Seq: first, Item: audioBook("a"), Total: &total})
	if m.Status != summa.StatusLoading {
		t.Fatalf("stale load must be ignored, got %s", m.Status)
	}
	if got := m.State().ActiveItemID; got != "b" {
		t.Fatalf("expected pending item b, got %q", got)
	}
	m, _, _ = Transition(m, Loaded{Seq: m.Seq, Item: audioBook("b"), Total: &total})
	if m.Status != summa.StatusReady || m.ItemID() != "b" || m.Total != 60 {
		t.Fatalf("unexpected machine %+v", m)
	}
}

func TestLoadFailureEntersError(t *testing.T) {
	m, _, _ := Transition(NewMachine(), Load{ItemID: "a"})
	m, _, _ = Transition(m, LoadFailed{Seq: m.Seq, Err: core.ErrNotFound})
	if m.Status != summa.StatusError || m.Err != core.ErrNotFound.Error() {
		t.Fatalf("unexpected machine %+v", m)
	}
	if _, _, err := Transition(m, Play{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid play from error, got %v", err)
	}
}

func TestPlayRefusedWithoutSubscription(t *testing.T) {
	book := audioBook("b1")
	book.SubscriptionRequired = true
	m := readyMachine(t, book, 100)

	next, effects, err := Transition(m, Play{Subscription: summa.SubscriptionStatus{}})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if next.Status != summa.StatusReady || !next.UpgradeRequired {
		t.Fatalf("expected ready with upgrade, got %+v", next)
	}
	if len(effects) != 1 {
		t.Fatalf("expected redirect only, got %#v", effects)
	}
	if _, ok := effects[0].(RedirectUpgrade); !ok {
		t.Fatalf("expected redirect, got %#v", effects[0])
	}

	next, effects, err = Transition(next, Play{Subscription: summa.SubscriptionStatus{IsSubscribed: true, Plan: summa.PlanPremium}})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if next.Status != summa.StatusPlaying || next.UpgradeRequired {
		t.Fatalf("expected playing, got %+v", next)
	}
	if start, ok := effects[0].(StartMedia); !ok || start.URL != book.AudioLink || start.PositionMS != 0 {
		t.Fatalf("unexpected effect %#v", effects[0])
	}
}

func TestPlayWithoutAudio(t *testing.T) {
	m := readyMachine(t, summa.Book{ID: "b1"}, 0)
	next, _, err := Transition(m, Play{})
	if !errors.Is(err, core.ErrMediaUnavailable) {
		t.Fatalf("expected media unavailable, got %v", err)
	}
	if next.Status != summa.StatusReady {
		t.Fatalf("expected ready, got %s", next.Status)
	}
}

func TestPauseResume(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 100)
	if _, _, err := Transition(m, Pause{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid pause from ready, got %v", err)
	}
	m, _, _ = Transition(m, Play{})
	m, effects, _ := Transition(m, Pause{})
	if m.Status != summa.StatusPaused {
		t.Fatalf("expected paused, got %s", m.Status)
	}
	if _, ok := effects[0].(PauseMedia); !ok {
		t.Fatalf("expected pause effect, got %#v", effects)
	}
	m, effects, _ = Transition(m, Play{})
	if m.Status != summa.StatusPlaying {
		t.Fatalf("expected playing, got %s", m.Status)
	}
	if _, ok := effects[0].(ResumeMedia); !ok {
		t.Fatalf("expected resume effect, got %#v", effects)
	}
}

func TestSeekClamps(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 25)

	m, effects, err := Transition(m, Seek{Delta: -SkipSeconds})
	if err != nil || m.Position != 0 || effects != nil {
		t.Fatalf("seek back from zero: pos=%v effects=%v err=%v", m.Position, effects, err)
	}
	for i := 0; i < 3; i++ {
		m, _, _ = Transition(m, Seek{Delta: SkipSeconds})
	}
	if m.Position != 25 {
		t.Fatalf("expected clamp to total, got %v", m.Position)
	}

	m, _, _ = Transition(m, SeekFraction{Fraction: 0.5})
	if m.Position != 12.5 {
		t.Fatalf("expected half, got %v", m.Position)
	}
	m, _, _ = Transition(m, SeekFraction{Fraction: 3})
	if m.Position != 25 {
		t.Fatalf("expected fraction clamp, got %v", m.Position)
	}

	m, _, _ = Transition(m, Seek{Delta: -20})
	m, effects, _ = Transition(m, Play{})
	if start := effects[0].(StartMedia); start.PositionMS != 5000 {
		t.Fatalf("expected play from seek position, got %d", start.PositionMS)
	}
	m, effects, _ = Transition(m, Seek{Delta: 1.5})
	if seek, ok := effects[0].(SeekMedia); !ok || seek.PositionMS != 6500 {
		t.Fatalf("expected media seek, got %#v", effects)
	}
}

func TestSeekNeedsDuration(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 0)
	if _, _, err := Transition(m, Seek{Delta: 10}); !errors.Is(err, ErrNoDuration) {
		t.Fatalf("expected no duration, got %v", err)
	}
	if _, _, err := Transition(NewMachine(), Seek{Delta: 10}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid seek when idle, got %v", err)
	}
}

func TestTimeUpdateKeepsStatus(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 0)
	m, _, _ = Transition(m, TimeUpdate{Position: 3, Total: 30})
	if m.Position != 0 || m.Total != 0 {
		t.Fatalf("time updates before play must be ignored, got %+v", m)
	}
	m, _, _ = Transition(m, Play{})
	m, _, _ = Transition(m, TimeUpdate{Position: 3, Total: 30})
	if m.Status != summa.StatusPlaying || m.Position != 3 || m.Total != 30 {
		t.Fatalf("unexpected machine %+v", m)
	}
}

func TestEndedCompletesOnce(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 30)
	m, _, _ = Transition(m, Play{})

	m, effects, _ := Transition(m, Ended{})
	if m.Status != summa.StatusCompleted || m.Position != 30 {
		t.Fatalf("expected completed at end, got %+v", m)
	}
	finished := 0
	for _, effect := range effects {
		if mark, ok := effect.(MarkFinished); ok {
			finished++
			if mark.UserID != "u1" || mark.Item.ID != "b1" {
				t.Fatalf("unexpected mark %+v", mark)
			}
		}
	}
	if finished != 1 {
		t.Fatalf("expected one finish effect, got %d", finished)
	}

	m, effects, _ = Transition(m, Ended{})
	if len(effects) != 0 || m.Status != summa.StatusCompleted {
		t.Fatalf("second end must be ignored, got %s %#v", m.Status, effects)
	}
	m, _, _ = Transition(m, TimeUpdate{Position: 1, Total: 30})
	if m.Status != summa.StatusCompleted {
		t.Fatalf("time update must not leave completed, got %s", m.Status)
	}

	m, effects, _ = Transition(m, Play{})
	if start := effects[0].(StartMedia); m.Status != summa.StatusPlaying || start.PositionMS != 0 {
		t.Fatalf("expected restart from zero, got %s %#v", m.Status, effects)
	}
}

func TestEndedWithoutUserStillCompletes(t *testing.T) {
	m, _, _ := Transition(NewMachine(), Load{ItemID: "b1"})
	total := 10.0
	m, _, _ = Transition(m, Loaded{Seq: m.Seq, Item: audioBook("b1"), Total: &total})
	m, _, _ = Transition(m, Play{})
	m, effects, err := Transition(m, Ended{})
	if err != nil || m.Status != summa.StatusCompleted {
		t.Fatalf("expected completed, got %s %v", m.Status, err)
	}
	for _, effect := range effects {
		if _, ok := effect.(MarkFinished); ok {
			t.Fatalf("no finish without user")
		}
	}
}

func TestUnloadStopsMedia(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 30)
	m, _, _ = Transition(m, Play{})
	m, effects, _ := Transition(m, Unload{})
	if m.Status != summa.StatusIdle || m.Item != nil || m.Position != 0 {
		t.Fatalf("expected reset, got %+v", m)
	}
	if _, ok := effects[0].(StopMedia); !ok {
		t.Fatalf("expected stop, got %#v", effects)
	}
}

func TestMediaFailedEntersError(t *testing.T) {
	m := readyMachine(t, audioBook("b1"), 30)
	m, _, _ = Transition(m, Play{})
	m, effects, _ := Transition(m, MediaFailed{Err: errors.New("decode error")})
	if m.Status != summa.StatusError || m.Err != "decode error" {
		t.Fatalf("unexpected machine %+v", m)
	}
	if len(effects) != 1 {
		t.Fatalf("expected stop, got %#v", effects)
	}
}
