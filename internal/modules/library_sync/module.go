// Package librarysync keeps the daemon's library sets in step with the
// document store when other clients write to it.
package librarysync

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Refresher reloads the active user's library.
type Refresher interface {
	Activate(ctx context.Context) error
}

// Users signs in the user whose library is kept fresh.
type Users interface {
	SignIn(ctx context.Context, userID string) error
}

// Watcher reports document store changes for a user.
type Watcher interface {
	Watch(ctx context.Context, userID string, debounce time.Duration, fn func()) error
}

// Config configures the library sync module.
type Config struct {
	UserID   string
	Interval time.Duration
	Debounce time.Duration
}

// Module refreshes the library on an interval and on store change
// notifications.
type Module struct {
	log       *zap.Logger
	refresher Refresher
	users     Users
	watcher   Watcher
	config    Config
}

// NewModule creates a library sync module. watcher may be nil.
func NewModule(log *zap.Logger, refresher Refresher, users Users, watcher Watcher, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("user_id required")
	}
	if refresher == nil || users == nil {
		return nil, errors.New("refresher and users required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	return &Module{log: log, refresher: refresher, users: users, watcher: watcher, config: cfg}, nil
}

// Run refreshes until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	if err := m.users.SignIn(ctx, m.config.UserID); err != nil {
		m.log.Warn("initial library load failed", zap.String("user_id", m.config.UserID), zap.Error(err))
	}

	changed := make(chan struct{}, 1)
	if m.watcher != nil {
		go func() {
			err := m.watcher.Watch(ctx, m.config.UserID, m.config.Debounce, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warn("library watch stopped", zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refresh(ctx, "interval")
		case <-changed:
			m.refresh(ctx, "watch")
		}
	}
}

func (m *Module) refresh(ctx context.Context, reason string) {
	if err := m.refresher.Activate(ctx); err != nil {
		m.log.Warn("library refresh failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	m.log.Debug("library refreshed", zap.String("reason", reason))
}
