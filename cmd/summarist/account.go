package main

import (
	"github.com/spf13/cobra"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/pkg/summa"
)

func subscribeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <plan>",
		Short: "Start a subscription (premium|premium-plus)",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := summa.ParsePlan(args[0])
			if err != nil {
				return core.UsageError(err.Error())
			}
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.Subscribe(ctx, plan)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func cancelCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the subscription",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.CancelSubscription(ctx)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}

func profileCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show subscription state",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			a, err := c.application(ctx)
			if err != nil {
				return err
			}
			result, err := a.Profile(ctx)
			if err != nil {
				return err
			}
			return c.printer.Print(result)
		},
	}
}
