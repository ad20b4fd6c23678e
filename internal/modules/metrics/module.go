// Package metrics serves prometheus metrics and health probes for summaristd.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	appmetrics "github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// StateFunc reports the hosted player's state, if any.
type StateFunc func() (summa.PlaybackState, bool)

// Config configures the metrics module.
type Config struct {
	Listen string
}

// Module serves /metrics, /healthz and /player.
type Module struct {
	log     *zap.Logger
	metrics *appmetrics.Metrics
	state   StateFunc
	config  Config
}

// NewModule creates a metrics module. state may be nil.
func NewModule(log *zap.Logger, m *appmetrics.Metrics, state StateFunc, cfg Config) (*Module, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		return nil, errors.New("metrics registry required")
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:9464"
	}
	return &Module{log: log, metrics: m, state: state, config: cfg}, nil
}

// Router builds the HTTP routes.
func (m *Module) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/metrics", m.metrics.Handler())
	r.Get("/player", m.handlePlayer)
	return r
}

func (m *Module) handlePlayer(w http.ResponseWriter, _ *http.Request) {
	if m.state == nil {
		http.Error(w, "player not enabled", http.StatusNotFound)
		return
	}
	state, ok := m.state()
	if !ok {
		http.Error(w, "player not enabled", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(state); err != nil {
		m.log.Debug("write player state", zap.Error(err))
	}
}

// Run serves until ctx is done.
func (m *Module) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.config.Listen)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	m.log.Info("metrics listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
