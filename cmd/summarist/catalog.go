package main

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/summarist/internal/core"
)

func forYouCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "foryou",
		Short: "Show selected, recommended and suggested books",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.ForYou(ctx)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func bookCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "book <id>",
		Short: "Show a book",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.Book(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func readCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "read <id>",
		Short: "Read a book's summary",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.Read(ctx, args[0])
			if errors.Is(err, core.ErrAccessDenied) {
				if perr := c.printer.Print(core.BookResult{Book: result.Book}); perr != nil {
					return perr
				}
				return core.WrapError(core.ExitAccess, "subscription required: choose a plan with `summarist subscribe`", err)
			}
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func durationCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "duration <id>",
		Short: "Probe a book's audio length",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.Duration(ctx, args[0])
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func searchCommand(c *cli) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search books by author or title",
		Long:  "Search books by author or title. With --live, each line read from stdin replaces the query and settled results are printed as they arrive.",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if live {
				return liveSearch(cmd.Context(), c)
			}
			query := strings.Join(args, " ")
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.SearchBooks(ctx, query)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "read queries from stdin")

	return cmd
}

func liveSearch(ctx context.Context, c *cli) error {
	a, err := c.application(ctx)
	if err != nil {
		return err
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var (
		last     string
		deadline <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				if err := <-readErr; err != nil {
					return err
				}
				if strings.TrimSpace(last) == "" {
					return nil
				}
				deadline = time.After(c.timeout)
				continue
			}
			last = line
			a.Search.SetQuery(line)
		case result := <-a.SearchUpdates():
			if err := c.printer.Print(result); err != nil {
				return err
			}
			if lines == nil && result.Query == last {
				return nil
			}
		case <-deadline:
			return core.WrapError(core.ExitUpstream, "search", context.DeadlineExceeded)
		}
	}
}
