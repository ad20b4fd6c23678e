package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/pkg/summa"
)

func remoteCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a player hosted by summaristd",
	}

	cmd.AddCommand(remoteLoadCommand(c))
	cmd.AddCommand(remoteSimpleCommand(c, "play", "Start or resume playback", summa.CmdPlay))
	cmd.AddCommand(remoteSimpleCommand(c, "resume", "Resume playback", summa.CmdPlay))
	cmd.AddCommand(remoteSimpleCommand(c, "pause", "Pause playback", summa.CmdPause))
	cmd.AddCommand(remoteSimpleCommand(c, "stop", "Unload the book", summa.CmdStop))
	cmd.AddCommand(remoteSeekCommand(c))
	cmd.AddCommand(remoteSkipCommand(c))
	cmd.AddCommand(remoteStatusCommand(c))
	cmd.AddCommand(remotePlayersCommand(c))
	return cmd
}

func (c *cli) sendRemote(cmd *cobra.Command, cmdType string, body any) error {
	control, err := c.controller()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(cmd.Context())
	defer cancel()

	playerID := c.cfg.Remote.PlayerID
	state, err := control.Command(ctx, playerID, cmdType, body)
	if err != nil {
		return err
	}
	return c.printer.Print(core.PlaybackResult{PlayerID: playerID, State: state})
}

func remoteLoadCommand(c *cli) *cobra.Command {
	var play bool

	cmd := &cobra.Command{
		Use:   "load <id>",
		Short: "Load a book on the remote player",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.sendRemote(cmd, summa.CmdLoad, summa.LoadBody{BookID: args[0], UserID: c.cfg.User.ID}); err != nil {
				return err
			}
			if play {
				return c.sendRemote(cmd, summa.CmdPlay, summa.EmptyBody{})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&play, "play", false, "start playback once loaded")

	return cmd
}

func remoteSimpleCommand(c *cli, use string, short string, cmdType string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.sendRemote(cmd, cmdType, summa.EmptyBody{})
		},
	}
}

func remoteSeekCommand(c *cli) *cobra.Command {
	var fraction bool

	cmd := &cobra.Command{
		Use:   "seek <seconds|fraction>",
		Short: "Seek by a number of seconds, or to a fraction with --to",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return core.UsageError(fmt.Sprintf("invalid seek value %q", args[0]))
			}
			if fraction {
				return c.sendRemote(cmd, summa.CmdSeekFraction, summa.SeekFractionBody{Fraction: value})
			}
			return c.sendRemote(cmd, summa.CmdSeek, summa.SeekBody{DeltaSeconds: value})
		},
	}
	cmd.Flags().BoolVar(&fraction, "to", false, "treat the value as a fraction (0-1) of the book")

	return cmd
}

func remoteSkipCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "skip <forward|back>",
		Short:     "Skip 10 seconds forward or back",
		Args:      exactArgs(1),
		ValidArgs: []string{"forward", "back"},
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "forward", "f", "+":
				return c.sendRemote(cmd, summa.CmdSkip, summa.SkipBody{Forward: true})
			case "back", "b", "-":
				return c.sendRemote(cmd, summa.CmdSkip, summa.SkipBody{Forward: false})
			default:
				return core.UsageError("skip direction must be forward or back")
			}
		},
	}
}

func remoteStatusCommand(c *cli) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the remote player's state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			control, err := c.controller()
			if err != nil {
				return err
			}
			playerID := c.cfg.Remote.PlayerID
			if !watch {
				ctx, cancel := c.withTimeout(cmd.Context())
				defer cancel()
				state, err := control.State(ctx, playerID)
				if err != nil {
					return err
				}
				return c.printer.Print(core.PlaybackResult{PlayerID: playerID, State: state})
			}

			states, err := control.Watch(cmd.Context(), playerID)
			if err != nil {
				return err
			}
			for state := range states {
				if err := c.printer.Print(core.PlaybackResult{PlayerID: playerID, State: state}); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream state updates")

	return cmd
}

func remotePlayersCommand(c *cli) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "players",
		Short: "List players on the bus",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			control, err := c.controller()
			if err != nil {
				return err
			}
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			players, err := control.Players(ctx, wait)
			if err != nil {
				return err
			}
			for _, player := range players {
				if err := c.printer.Print(player); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 500*time.Millisecond, "how long to collect retained states")

	return cmd
}
