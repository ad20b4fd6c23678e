// Package duration resolves and memoizes the playable length of audio resources.
package duration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
)

// DefaultProbeTimeout bounds a single probe.
const DefaultProbeTimeout = 10 * time.Second

// ProberFunc adapts a function to ports.DurationProber.
type ProberFunc func(ctx context.Context, mediaRef string) (float64, error)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, mediaRef string) (float64, error) {
	return f(ctx, mediaRef)
}

// Probe resolves mediaRef to seconds. An absent reference yields nil without
// error. Any failure, including the timeout elapsing, is reported as
// core.ErrMediaUnavailable. The call returns within timeout even if the
// prober ignores its context.
func Probe(ctx context.Context, prober ports.DurationProber, mediaRef string, timeout time.Duration) (*float64, error) {
	if strings.TrimSpace(mediaRef) == "" {
		return nil, nil
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		seconds float64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		seconds, err := prober.Probe(ctx, mediaRef)
		done <- result{seconds: seconds, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", core.ErrMediaUnavailable, mediaRef, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, core.ErrMediaUnavailable) {
				return nil, res.err
			}
			return nil, fmt.Errorf("%w: %s: %v", core.ErrMediaUnavailable, mediaRef, res.err)
		}
		if math.IsNaN(res.seconds) || math.IsInf(res.seconds, 0) || res.seconds <= 0 {
			return nil, fmt.Errorf("%w: %s: invalid duration %v", core.ErrMediaUnavailable, mediaRef, res.seconds)
		}
		seconds := res.seconds
		return &seconds, nil
	}
}
