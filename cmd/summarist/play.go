package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/clock"
	"github.com/mikey-austin/summarist/internal/adapters/gstdriver"
	"github.com/mikey-austin/summarist/internal/adapters/simdriver"
	"github.com/mikey-austin/summarist/internal/app"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

const playHelp = `Controls, one per line on stdin:
  p        toggle play/pause
  f, b     skip forward or back 10 seconds
  s <0-1>  seek to a fraction of the book
  q        quit`

func playCommand(c *cli) *cobra.Command {
	var (
		driverName string
		pipeline   string
		device     string
		volume     float64
	)

	cmd := &cobra.Command{
		Use:   "play <id>",
		Short: "Play a book's audio summary locally",
		Long:  "Play a book's audio summary locally.\n\n" + playHelp,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch driverName {
			case "gstreamer":
				c.driver = func() (ports.Driver, error) {
					driver, err := gstdriver.NewDriver(pipeline, device, volume)
					if err != nil {
						return nil, core.WrapError(core.ExitRuntime, "gstreamer driver", err)
					}
					return driver, nil
				}
			case "null":
				c.driver = func() (ports.Driver, error) {
					return simdriver.New(clock.Clock{}, simdriver.ProbedLength(c.cfg.Prober(), c.cfg.Core().ProbeTimeout)), nil
				}
			default:
				return core.UsageError(fmt.Sprintf("unknown driver %q", driverName))
			}
			states := make(chan summa.PlaybackState, 16)
			c.onPlayback = func(state summa.PlaybackState) {
				select {
				case states <- state:
				default:
				}
			}
			return runPlayer(cmd.Context(), c, args[0], states)
		},
	}
	cmd.Flags().StringVar(&driverName, "driver", "gstreamer", "media driver (gstreamer|null)")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "gstreamer sink pipeline")
	cmd.Flags().StringVar(&device, "device", "", "audio output device")
	cmd.Flags().Float64Var(&volume, "volume", 1.0, "output volume")

	return cmd
}

func runPlayer(ctx context.Context, c *cli, bookID string, states <-chan summa.PlaybackState) error {
	a, err := c.application(ctx)
	if err != nil {
		return err
	}
	player := a.Player
	if player == nil {
		return errors.New("player not configured")
	}

	loadCtx, cancel := c.withTimeout(ctx)
	_, err = player.Load(loadCtx, a.UserID(), bookID)
	cancel()
	if err != nil {
		return err
	}
	if _, err := player.Play(ctx); err != nil {
		_ = showPlayback(c, a)
		return err
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := player.Run(ctx); err != nil {
			c.log.Debug("media events stopped", zap.Error(err))
		}
	}()

	commands := make(chan string)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case commands <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := showPlayback(c, a); err != nil {
		return err
	}
	for len(states) > 0 {
		<-states
	}
	last := player.State().Status
	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-commands:
			quit, err := control(ctx, player, line)
			if err != nil {
				if errors.Is(err, core.ErrAccessDenied) || core.ExitCode(err) == core.ExitUsage {
					fmt.Fprintln(c.out, err)
					continue
				}
				return err
			}
			if quit {
				return nil
			}
			if err := showPlayback(c, a); err != nil {
				return err
			}
		case state := <-states:
			if state.Status == last {
				continue
			}
			last = state.Status
			if err := showPlayback(c, a); err != nil {
				return err
			}
			switch state.Status {
			case summa.StatusCompleted:
				return nil
			case summa.StatusError:
				return core.WrapError(core.ExitRuntime, "playback", core.ErrMediaUnavailable)
			}
		}
	}
}

type playerControls interface {
	State() summa.PlaybackState
	Play(ctx context.Context) (summa.PlaybackState, error)
	Pause(ctx context.Context) (summa.PlaybackState, error)
	Skip(ctx context.Context, forward bool) (summa.PlaybackState, error)
	SeekFraction(ctx context.Context, fraction float64) (summa.PlaybackState, error)
}

// control applies one stdin command. It reports whether to quit.
func control(ctx context.Context, player playerControls, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	var err error
	switch fields[0] {
	case "q", "quit":
		return true, nil
	case "p", "pause", "play":
		if player.State().Status == summa.StatusPlaying {
			_, err = player.Pause(ctx)
		} else {
			_, err = player.Play(ctx)
		}
	case "f", "forward":
		_, err = player.Skip(ctx, true)
	case "b", "back":
		_, err = player.Skip(ctx, false)
	case "s", "seek":
		if len(fields) != 2 {
			return false, core.UsageError("seek needs a fraction between 0 and 1")
		}
		fraction, perr := strconv.ParseFloat(fields[1], 64)
		if perr != nil {
			return false, core.UsageError("seek needs a fraction between 0 and 1")
		}
		_, err = player.SeekFraction(ctx, fraction)
	default:
		return false, core.UsageError(playHelp)
	}
	return false, err
}

func showPlayback(c *cli, a *app.App) error {
	result, err := a.Playback()
	if err != nil {
		return err
	}
	return c.printer.Print(result)
}
