// Package daemon holds the summaristd configuration, logging and module supervisor.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ModuleRunner runs a module within the supervisor.
type ModuleRunner struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervisor manages module lifecycles. The first module to fail stops the rest.
type Supervisor struct {
	Logger *zap.Logger
}

// Run starts all module runners and waits for termination.
func (s Supervisor) Run(ctx context.Context, modules []ModuleRunner) error {
	if len(modules) == 0 {
		return fmt.Errorf("no modules enabled")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, module := range modules {
		m := module
		group.Go(func() error {
			log := logger.With(zap.String("module", m.Name))
			log.Info("starting module")
			if err := m.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("module exited", zap.Error(err))
				return fmt.Errorf("%s: %w", m.Name, err)
			}
			log.Info("module stopped")
			return nil
		})
	}

	go func() {
		<-groupCtx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown requested")
		}
	}()
	return group.Wait()
}
