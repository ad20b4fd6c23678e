//go:build integration
// +build integration

package integration

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/clock"
	"github.com/mikey-austin/summarist/internal/adapters/contentapi"
	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/adapters/idgen"
	"github.com/mikey-austin/summarist/internal/adapters/mqtt"
	"github.com/mikey-austin/summarist/internal/adapters/simdriver"
	"github.com/mikey-austin/summarist/internal/app"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/duration"
	embeddedmqtt "github.com/mikey-austin/summarist/internal/modules/embedded_mqtt"
	"github.com/mikey-austin/summarist/internal/modules/player"
	"github.com/mikey-austin/summarist/pkg/summa"
)

const playerID = "den"

type integrationOptions struct {
	allowAnonymous bool
	username       string
	password       string
}

type integrationHarness struct {
	ctx       context.Context
	logger    *zap.Logger
	brokerURL string
	app       *app.App
	control   *mqtt.Controller
}

func TestRemotePlaybackIntegration(t *testing.T) {
	h := setupIntegration(t)
	ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
	defer cancel()

	state, err := h.control.Command(ctx, playerID, summa.CmdLoad, summa.LoadBody{BookID: "b1", UserID: "u1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Status != summa.StatusReady || state.ActiveItemID != "b1" || state.TotalSeconds != 60 {
		t.Fatalf("unexpected loaded state: %+v", state)
	}

	if state, err = h.control.Command(ctx, playerID, summa.CmdPlay, summa.EmptyBody{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if state.Status != summa.StatusPlaying {
		t.Fatalf("expected playing, got %+v", state)
	}

	if state, err = h.control.Command(ctx, playerID, summa.CmdSkip, summa.SkipBody{Forward: true}); err != nil {
		t.Fatalf("skip: %v", err)
	}
	if state.PositionSeconds < 10 {
		t.Fatalf("expected position past 10s, got %+v", state)
	}

	if state, err = h.control.Command(ctx, playerID, summa.CmdSeekFraction, summa.SeekFractionBody{Fraction: 0.5}); err != nil {
		t.Fatalf("seek fraction: %v", err)
	}
	if state.PositionSeconds != 30 {
		t.Fatalf("expected position 30, got %+v", state)
	}

	if _, err = h.control.Command(ctx, playerID, summa.CmdPause, summa.EmptyBody{}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitForStatus(t, ctx, h.control, summa.StatusPaused)

	players, err := h.control.Players(ctx, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(players) != 1 || players[0].PlayerID != playerID || players[0].State.Status != summa.StatusPaused {
		t.Fatalf("unexpected players: %+v", players)
	}

	if _, err = h.control.Command(ctx, playerID, summa.CmdLoad, summa.LoadBody{BookID: "b2"}); err != nil {
		t.Fatalf("load restricted: %v", err)
	}
	_, err = h.control.Command(ctx, playerID, summa.CmdPlay, summa.EmptyBody{})
	if !errors.Is(err, core.ErrAccessDenied) || core.ExitCode(err) != core.ExitAccess {
		t.Fatalf("expected access denied, got %v", err)
	}

	_, err = h.control.Command(ctx, playerID, summa.CmdLoad, summa.LoadBody{BookID: "missing"})
	if core.ExitCode(err) != core.ExitNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEmbeddedMQTTAuth(t *testing.T) {
	h := setupIntegrationWithOptions(t, integrationOptions{
		username: "summarist",
		password: "secret",
	})

	unauth, err := mqtt.Dial(mqtt.Options{
		BrokerURL: h.brokerURL,
		ClientID:  "summarist-int-unauth-" + idgen.Generator{}.NewID(),
		Timeout:   500 * time.Millisecond,
	})
	if err == nil {
		unauth.Close()
		t.Fatalf("expected unauthenticated connection to fail")
	}

	ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
	defer cancel()
	if _, err := h.control.Command(ctx, playerID, summa.CmdStatus, summa.EmptyBody{}); err != nil {
		t.Fatalf("authenticated status: %v", err)
	}
}

func setupIntegration(t *testing.T) *integrationHarness {
	return setupIntegrationWithOptions(t, integrationOptions{allowAnonymous: true})
}

func setupIntegrationWithOptions(t *testing.T, opts integrationOptions) *integrationHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := testLogger()
	listen := freeListenAddr(t)
	brokerURL := embeddedmqtt.BrokerURL(listen, false)

	broker, err := embeddedmqtt.NewModule(logger, embeddedmqtt.Config{
		Listen:         listen,
		AllowAnonymous: opts.allowAnonymous,
		Username:       opts.username,
		Password:       opts.password,
	})
	if err != nil {
		t.Fatalf("embedded mqtt module: %v", err)
	}
	runModule(t, ctx, "embedded_mqtt", broker.Run)
	select {
	case <-broker.Ready():
	case <-time.After(3 * time.Second):
		t.Fatalf("broker not ready")
	}

	a := newApp(t, logger)
	serverConn := dial(t, brokerURL, opts)
	mod, err := player.NewModule(logger, serverConn, a.Player, a, clock.Clock{}, player.Config{
		PlayerID:      playerID,
		StateInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("player module: %v", err)
	}
	runModule(t, ctx, "player", mod.Run)

	clientConn := dial(t, brokerURL, opts)
	control, err := mqtt.NewController(clientConn, mqtt.ControllerOptions{
		Identity: "integration",
		Timeout:  3 * time.Second,
		IDs:      idgen.Generator{},
		Clock:    clock.Clock{},
	})
	if err != nil {
		t.Fatalf("controller: %v", err)
	}

	h := &integrationHarness{ctx: ctx, logger: logger, brokerURL: brokerURL, app: a, control: control}
	waitForStatus(t, ctx, control, summa.StatusIdle)
	return h
}

func newApp(t *testing.T, logger *zap.Logger) *app.App {
	t.Helper()
	books := map[string]summa.Book{
		"b1": {ID: "b1", Title: "Atomic Habits", AudioLink: "https://example.com/b1.mp3"},
		"b2": {ID: "b2", Title: "Deep Work", AudioLink: "https://example.com/b2.mp3", SubscriptionRequired: true},
	}
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/getBook":
			if book, ok := books[r.URL.Query().Get("id")]; ok {
				_ = json.NewEncoder(w).Encode(book)
				return
			}
			_, _ = w.Write([]byte("null"))
		default:
			_, _ = w.Write([]byte("[]"))
		}
	}))
	t.Cleanup(api.Close)

	store, err := docstore.NewFileStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	prober := duration.ProberFunc(func(ctx context.Context, ref string) (float64, error) {
		return 60, nil
	})
	a, err := app.New(logger, app.Options{
		API:    contentapi.NewClient(logger, contentapi.Config{BaseURL: api.URL}),
		Store:  store,
		Prober: prober,
		Clock:  clock.Clock{},
		Driver: simdriver.New(clock.Clock{}, simdriver.ProbedLength(prober, time.Second)),
	})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func runModule(t *testing.T, ctx context.Context, name string, run func(context.Context) error) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx)
	}()
	t.Cleanup(func() {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("%s module failed: %v", name, err)
			}
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func dial(t *testing.T, brokerURL string, opts integrationOptions) *mqtt.Conn {
	t.Helper()
	var lastErr error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := mqtt.Dial(mqtt.Options{
			BrokerURL: brokerURL,
			ClientID:  "summarist-int-" + idgen.Generator{}.NewID(),
			Timeout:   2 * time.Second,
			Username:  opts.username,
			Password:  opts.password,
		})
		if err == nil {
			t.Cleanup(conn.Close)
			return conn
		}
		lastErr = err
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("connect mqtt: %v", lastErr)
	return nil
}

func waitForStatus(t *testing.T, ctx context.Context, control *mqtt.Controller, want summa.PlayerStatus) {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	var last summa.PlaybackState
	for time.Now().Before(deadline) {
		state, err := control.State(ctx, playerID)
		if err == nil {
			if state.Status == want {
				return
			}
			last = state
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s, last state %+v", want, last)
}

func freeListenAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("network listen not permitted in this environment")
		}
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func testLogger() *zap.Logger {
	if v := os.Getenv("SUMMARIST_INTEGRATION_DEBUG"); strings.EqualFold(v, "1") || strings.EqualFold(v, "true") {
		logger, err := zap.NewDevelopment()
		if err == nil {
			return logger
		}
	}
	return zap.NewNop()
}
