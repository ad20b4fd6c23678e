//go:build gstreamer

package gstdriver

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-gst/go-gst/gst"
)

// Driver plays audio through a GStreamer pipeline built from a template.
type Driver struct {
	mu       sync.Mutex
	pipeline string
	device   string
	volume   float64
	current  *gst.Element
}

var gstInitOnce sync.Once

// NewDriver creates a driver. The template may reference {url}, {device}
// and {volume}.
func NewDriver(pipeline string, device string, volume float64) (*Driver, error) {
	if strings.TrimSpace(pipeline) == "" {
		pipeline = DefaultPipeline
	}
	if volume <= 0 {
		volume = 1.0
	}
	gstInitOnce.Do(func() {
		gst.Init(nil)
	})
	return &Driver{pipeline: pipeline, device: device, volume: volume}, nil
}

// Play replaces the current pipeline and starts at positionMS.
func (d *Driver) Play(url string, positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pipeline, err := d.buildPipeline(url)
	if err != nil {
		return err
	}
	_ = d.stopCurrentLocked()
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return err
	}
	d.current = pipeline
	if positionMS > 0 {
		if err := d.seekLocked(positionMS); err != nil {
			return fmt.Errorf("initial seek: %w", err)
		}
	}
	return nil
}

// Pause pauses playback.
func (d *Driver) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return errors.New("not playing")
	}
	return d.current.SetState(gst.StatePaused)
}

// Resume resumes playback.
func (d *Driver) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return errors.New("not playing")
	}
	return d.current.SetState(gst.StatePlaying)
}

// Stop releases the pipeline.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stopCurrentLocked()
}

// Seek seeks within the current pipeline.
func (d *Driver) Seek(positionMS int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return errors.New("not playing")
	}
	return d.seekLocked(positionMS)
}

// Position reports the pipeline position and duration.
func (d *Driver) Position() (int64, int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return 0, 0, false
	}
	okPos, posNS := d.current.QueryPosition(gst.FormatTime)
	okDur, durNS := d.current.QueryDuration(gst.FormatTime)
	if !okPos {
		return 0, 0, false
	}
	if !okDur || durNS < 0 {
		durNS = 0
	}
	return posNS / int64(time.Millisecond), durNS / int64(time.Millisecond), true
}

func (d *Driver) buildPipeline(url string) (*gst.Element, error) {
	pipeline := d.pipeline
	pipeline = strings.ReplaceAll(pipeline, "{url}", url)
	pipeline = strings.ReplaceAll(pipeline, "{device}", d.device)
	pipeline = strings.ReplaceAll(pipeline, "{volume}", fmt.Sprintf("%0.2f", d.volume))

	el, err := gst.ParseLaunch(pipeline)
	if err != nil {
		return nil, err
	}
	return el, nil
}

func (d *Driver) stopCurrentLocked() error {
	if d.current == nil {
		return nil
	}
	_ = d.current.SetState(gst.StateNull)
	d.current = nil
	return nil
}

func (d *Driver) seekLocked(positionMS int64) error {
	positionNS := positionMS * int64(time.Millisecond)
	if !d.current.SeekSimple(positionNS, gst.FormatTime, gst.SeekFlagFlush|gst.SeekFlagKeyUnit) {
		return errors.New("seek rejected")
	}
	return nil
}
