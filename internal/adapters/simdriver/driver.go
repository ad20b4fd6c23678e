// Package simdriver is a media driver that plays nothing and advances the
// position with the wall clock. It backs headless players and tests.
package simdriver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikey-austin/summarist/internal/duration"
	"github.com/mikey-austin/summarist/internal/ports"
)

// LengthFunc reports the length of a media URL. Zero means unknown.
type LengthFunc func(url string) time.Duration

// ProbedLength measures media with prober, giving up after timeout.
func ProbedLength(prober ports.DurationProber, timeout time.Duration) LengthFunc {
	return func(url string) time.Duration {
		if prober == nil {
			return 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
		defer cancel()
		seconds, err := duration.Probe(ctx, prober, url, timeout)
		if err != nil || seconds == nil {
			return 0
		}
		return time.Duration(*seconds * float64(time.Second))
	}
}

// Driver simulates a media element.
type Driver struct {
	clock  ports.Clock
	length LengthFunc

	mu       sync.Mutex
	loaded   bool
	playing  bool
	url      string
	offset   time.Duration
	started  time.Time
	duration time.Duration
}

// New creates a simulated driver. length may be nil.
func New(clock ports.Clock, length LengthFunc) *Driver {
	return &Driver{clock: clock, length: length}
}

// Play starts url at positionMS, measuring its length first.
func (d *Driver) Play(url string, positionMS int64) error {
	if url == "" {
		return errors.New("url required")
	}
	var total time.Duration
	if d.length != nil {
		total = d.length(url)
	}
	return d.PlayLength(url, positionMS, total)
}

// PlayLength starts url at positionMS with an already known length, so no
// measurement runs. Zero means unknown.
func (d *Driver) PlayLength(url string, positionMS int64, total time.Duration) error {
	if url == "" {
		return errors.New("url required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = true
	d.playing = true
	d.url = url
	d.duration = total
	d.offset = time.Duration(positionMS) * time.Millisecond
	d.started = d.clock.Now()
	return nil
}

// Pause freezes the position.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return errors.New("nothing loaded")
	}
	d.offset = d.positionLocked()
	d.playing = false
	return nil
}

// Resume continues from the frozen position.
func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return errors.New("nothing loaded")
	}
	if !d.playing {
		d.started = d.clock.Now()
		d.playing = true
	}
	return nil
}

// Stop unloads the media.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loaded = false
	d.playing = false
	d.offset = 0
	return nil
}

// Seek moves to positionMS.
func (d *Driver) Seek(positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return errors.New("nothing loaded")
	}
	d.offset = time.Duration(positionMS) * time.Millisecond
	d.started = d.clock.Now()
	return nil
}

// Position reports the simulated position and length.
func (d *Driver) Position() (int64, int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return 0, 0, false
	}
	return d.positionLocked().Milliseconds(), d.duration.Milliseconds(), true
}

func (d *Driver) positionLocked() time.Duration {
	pos := d.offset
	if d.playing {
		pos += d.clock.Now().Sub(d.started)
	}
	if d.duration > 0 && pos > d.duration {
		pos = d.duration
	}
	return pos
}
