package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gopxl/beep/v2/mp3"
)

const defaultMaxBytes = 256 << 20

// MP3 downloads an mp3 resource and decodes its frame count to a duration.
type MP3 struct {
	Client   *http.Client
	MaxBytes int64
}

// NewMP3 creates an mp3 prober with an HTTP timeout.
func NewMP3(timeout time.Duration) *MP3 {
	return &MP3{Client: &http.Client{Timeout: timeout}, MaxBytes: defaultMaxBytes}
}

type seekCloser struct {
	*bytes.Reader
}

func (seekCloser) Close() error { return nil }

// Probe returns the duration of mediaRef in seconds.
func (p *MP3) Probe(ctx context.Context, mediaRef string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaRef, nil)
	if err != nil {
		return 0, err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("media fetch: %s", resp.Status)
	}

	limit := p.MaxBytes
	if limit <= 0 {
		limit = defaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, err
	}
	return decodeLength(data)
}

func decodeLength(data []byte) (float64, error) {
	// go-mp3 only computes the stream length when the reader can seek.
	streamer, format, err := mp3.Decode(seekCloser{bytes.NewReader(data)})
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	defer streamer.Close()
	samples := streamer.Len()
	if samples <= 0 {
		return 0, errors.New("mp3 length unknown")
	}
	return format.SampleRate.D(samples).Seconds(), nil
}
