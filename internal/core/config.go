package core

import "time"

// Config is runtime configuration shared by the CLI and daemon.
type Config struct {
	UserID       string
	APIBaseURL   string
	APITimeout   time.Duration
	SearchQuiet  time.Duration
	ProbeTimeout time.Duration
}
