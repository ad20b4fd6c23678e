// Package probe implements duration probers for remote audio resources.
package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// FFProbe shells out to ffprobe to read the container duration.
type FFProbe struct {
	Path string
}

// Probe returns the duration of mediaRef in seconds.
func (p FFProbe) Probe(ctx context.Context, mediaRef string) (float64, error) {
	bin := p.Path
	if bin == "" {
		bin = "ffprobe"
	}
	cmd := exec.CommandContext(ctx, bin, "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", mediaRef)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return parseFFProbeOutput(string(out))
}

func parseFFProbeOutput(out string) (float64, error) {
	val := strings.TrimSpace(out)
	if val == "" || val == "N/A" {
		return 0, errors.New("no duration found")
	}
	secs, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, err
	}
	return secs, nil
}
