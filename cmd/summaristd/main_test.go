package main

import (
	"context"
	"path/filepath"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/adapters/simdriver"
	"github.com/mikey-austin/summarist/internal/daemon"
	appmetrics "github.com/mikey-austin/summarist/internal/metrics"
	"github.com/mikey-austin/summarist/pkg/summa"
)

type nopBroker struct{}

func (nopBroker) Publish(string, byte, bool, []byte) error          { return nil }
func (nopBroker) Subscribe(string, byte, paho.MessageHandler) error { return nil }
func (nopBroker) Unsubscribe(...string) error                       { return nil }

func TestBuildModulesModuleOnlyFilter(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Modules.Metrics.Enabled = true
	cfg.Modules.EmbeddedMQTT.Enabled = true
	cfg.Modules.EmbeddedMQTT.AllowAnonymous = true

	rt := deps{metrics: appmetrics.New()}
	modules, err := buildModules(cfg, rt, zap.NewNop(), moduleMetrics, false)
	if err != nil {
		t.Fatalf("buildModules: %v", err)
	}
	if len(modules) != 1 || modules[0].Name != moduleMetrics {
		t.Fatalf("expected metrics module only, got %+v", modules)
	}

	if _, err := buildModules(cfg, rt, zap.NewNop(), moduleLibrarySync, false); err == nil {
		t.Fatalf("expected error for disabled module")
	}

	modules, err = buildModules(cfg, rt, zap.NewNop(), "", true)
	if err != nil {
		t.Fatalf("buildModules: %v", err)
	}
	if len(modules) != 1 || modules[0].Name != moduleMetrics {
		t.Fatalf("expected embedded broker to be skipped, got %+v", modules)
	}
}

func TestApplyOverridesUsesEmbeddedBroker(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Modules.EmbeddedMQTT.Enabled = true
	cfg.Modules.EmbeddedMQTT.Listen = "127.0.0.1:18830"

	applyOverrides(&cfg, overrides{identity: "den", driver: daemon.DriverNull})
	if cfg.Server.Broker != "mqtt://127.0.0.1:18830" {
		t.Fatalf("unexpected broker %q", cfg.Server.Broker)
	}
	if cfg.Server.Identity != "den" || cfg.Modules.Player.Driver != daemon.DriverNull {
		t.Fatalf("overrides not applied: %+v", cfg.Server)
	}
	if cfg.Server.TopicBase != summa.BaseTopic {
		t.Fatalf("unexpected topic base %q", cfg.Server.TopicBase)
	}
	if got := embeddedBrokerURL(cfg); got != cfg.Server.Broker {
		t.Fatalf("expected embedded url to match broker, got %q", got)
	}
}

func TestBuildAppWithNullPlayer(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Store.Backend = docstore.BackendFile
	cfg.Store.Path = filepath.Join(t.TempDir(), "library")
	cfg.Modules.Player.Enabled = true
	cfg.Modules.Player.Driver = daemon.DriverNull
	cfg.Modules.LibrarySync.Enabled = true
	cfg.Modules.LibrarySync.UserID = "u1"
	cfg.Modules.LibrarySync.Watch = true

	m := appmetrics.New()
	a, store, err := buildApp(context.Background(), cfg, zap.NewNop(), m)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer func() { _ = a.Close() }()
	if a.Player == nil {
		t.Fatalf("expected player")
	}
	fs, ok := store.(*docstore.FileStore)
	if !ok {
		t.Fatalf("expected file store, got %T", store)
	}

	rt := deps{client: nopBroker{}, app: a, watcher: fs, metrics: m}
	modules, err := buildModules(cfg, rt, zap.NewNop(), "", false)
	if err != nil {
		t.Fatalf("buildModules: %v", err)
	}
	names := []string{}
	for _, mod := range modules {
		names = append(names, mod.Name)
	}
	if len(names) != 2 || names[0] != modulePlayer || names[1] != moduleLibrarySync {
		t.Fatalf("unexpected modules %v", names)
	}
}

func TestBuildModulesPlayerRequiresBroker(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Modules.Player.Enabled = true
	if _, err := buildModules(cfg, deps{metrics: appmetrics.New()}, zap.NewNop(), "", false); err == nil {
		t.Fatalf("expected error without broker")
	}
}

func TestBuildDriverNull(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Modules.Player.Driver = daemon.DriverNull
	driver, err := buildDriver(cfg, nil, 0)
	if err != nil {
		t.Fatalf("buildDriver: %v", err)
	}
	if _, ok := driver.(*simdriver.Driver); !ok {
		t.Fatalf("expected simulated driver, got %T", driver)
	}
}

func TestEnabledModules(t *testing.T) {
	cfg := daemon.DefaultConfig()
	cfg.Modules.Player.Enabled = true
	cfg.Modules.Metrics.Enabled = true
	got := enabledModules(cfg)
	if len(got) != 2 || got[0] != modulePlayer || got[1] != moduleMetrics {
		t.Fatalf("unexpected modules %v", got)
	}
}
