package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/core"
)

func libraryCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "library",
		Aliases: []string{"lib"},
		Short:   "Manage saved and finished books",
	}
	cmd.AddCommand(libraryListCommand(c))
	cmd.AddCommand(librarySaveCommand(c, "save", true))
	cmd.AddCommand(librarySaveCommand(c, "unsave", false))
	cmd.AddCommand(libraryToggleCommand(c))
	cmd.AddCommand(libraryFinishCommand(c))
	cmd.AddCommand(libraryWatchCommand(c))
	return cmd
}

func libraryListCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List saved and finished books",
		Args:    exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.LoadLibrary(ctx)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func librarySaveCommand(c *cli, use string, want bool) *cobra.Command {
	short := "Save a book to the library"
	if !want {
		short = "Remove a book from the library"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.SetSaved(ctx, args[0], want)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func libraryToggleCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a book's saved state",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.ToggleSave(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func libraryFinishCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "finish <id>",
		Short: "Mark a book as finished",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			if err := a.MarkFinished(ctx, args[0]); err != nil {
				return err
			}
			result, err := a.LoadLibrary(ctx)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func libraryWatchCommand(c *cli) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the library whenever another client changes it",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			fs, ok := c.store.(*docstore.FileStore)
			if !ok {
				return core.UsageError("library watch requires the file store backend")
			}
			userID := a.UserID()
			if userID == "" {
				return core.UsageError("sign in required")
			}

			show := func() error {
				loadCtx, cancel := c.withTimeout(ctx)
				defer cancel()
				result, err := a.LoadLibrary(loadCtx)
				if err != nil {
					return err
				}
				return c.printer.Print(result)
			}
			if err := show(); err != nil {
				return err
			}

			changes := make(chan struct{}, 1)
			watchErr := make(chan error, 1)
			go func() {
				watchErr <- fs.Watch(ctx, userID, debounce, func() {
					select {
					case changes <- struct{}{}:
					default:
					}
				})
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case err := <-watchErr:
					if err != nil && !errors.Is(err, context.Canceled) {
						return fmt.Errorf("watch library: %w", err)
					}
					return nil
				case <-changes:
					if err := show(); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "coalesce bursts of changes")

	return cmd
}
