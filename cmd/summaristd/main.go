package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/clock"
	"github.com/mikey-austin/summarist/internal/adapters/contentapi"
	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/adapters/gstdriver"
	"github.com/mikey-austin/summarist/internal/adapters/mqtt"
	"github.com/mikey-austin/summarist/internal/adapters/simdriver"
	"github.com/mikey-austin/summarist/internal/app"
	"github.com/mikey-austin/summarist/internal/daemon"
	appmetrics "github.com/mikey-austin/summarist/internal/metrics"
	embeddedmqtt "github.com/mikey-austin/summarist/internal/modules/embedded_mqtt"
	librarysync "github.com/mikey-austin/summarist/internal/modules/library_sync"
	metricsmodule "github.com/mikey-austin/summarist/internal/modules/metrics"
	"github.com/mikey-austin/summarist/internal/modules/player"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

const (
	moduleEmbeddedMQTT = "embedded_mqtt"
	modulePlayer       = "player"
	moduleLibrarySync  = "library_sync"
	moduleMetrics      = "metrics"
)

func main() {
	var (
		configPath  string
		broker      string
		identity    string
		topicBase   string
		logLevel    string
		logFormat   string
		logOutput   string
		logUTC      bool
		driver      string
		printConfig bool
		dryRun      bool
		moduleOnly  string
	)

	defaultConfig, err := daemon.DefaultConfigPath()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	flag.StringVar(&configPath, "config", defaultConfig, "config file path")
	flag.StringVar(&broker, "broker", "", "MQTT broker URL override")
	flag.StringVar(&identity, "identity", "", "server identity override")
	flag.StringVar(&topicBase, "topic-base", "", "topic base override")
	flag.StringVar(&logLevel, "log-level", "", "log level override")
	flag.StringVar(&logFormat, "log-format", "", "log format override (console|json)")
	flag.StringVar(&logOutput, "log-output", "", "log output override (stdout|stderr)")
	flag.BoolVar(&logUTC, "log-utc", false, "use UTC timestamps in logs")
	flag.StringVar(&driver, "driver", "", "player driver override (gstreamer|null)")
	flag.StringVar(&moduleOnly, "module", "", "limit to a single module")
	flag.BoolVar(&printConfig, "print-config", false, "print resolved config and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "validate config and exit")
	flag.Parse()

	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyOverrides(&cfg, overrides{
		broker:    broker,
		identity:  identity,
		topicBase: topicBase,
		logLevel:  logLevel,
		logFormat: logFormat,
		logOutput: logOutput,
		logUTC:    logUTC,
		driver:    driver,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if printConfig {
		printResolvedConfig(cfg)
		return
	}
	if dryRun {
		return
	}

	logger, err := daemon.NewLogger(daemon.LogConfig{
		Level:  cfg.Server.LogLevel,
		Format: cfg.Server.LogFormat,
		Output: cfg.Server.LogOutput,
		UTC:    cfg.Server.LogUTC,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, cfg, logger, moduleOnly); err != nil {
		logger.Error("summaristd failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, cfg daemon.Config, logger *zap.Logger, moduleOnly string) error {
	skipEmbedded := false
	if moduleOnly != moduleEmbeddedMQTT && cfg.Modules.EmbeddedMQTT.Enabled && cfg.Server.Broker == embeddedBrokerURL(cfg) {
		if err := startEmbeddedBroker(ctx, cfg, logger, cancel); err != nil {
			return fmt.Errorf("embedded mqtt: %w", err)
		}
		skipEmbedded = true
	}

	logger.Info("summaristd starting",
		zap.String("broker", cfg.Server.Broker),
		zap.String("identity", cfg.Server.Identity),
		zap.String("topic_base", cfg.Server.TopicBase),
		zap.String("log_level", cfg.Server.LogLevel),
		zap.String("log_format", cfg.Server.LogFormat),
		zap.Strings("modules", enabledModules(cfg)),
	)

	rt := deps{metrics: appmetrics.New()}
	if wants(cfg, moduleOnly, modulePlayer) {
		if cfg.Server.Broker == "" {
			return errors.New("broker is required")
		}
		conn, err := mqtt.Dial(mqtt.Options{
			BrokerURL: cfg.Server.Broker,
			ClientID:  fmt.Sprintf("summaristd-%d", time.Now().UnixNano()),
			Username:  cfg.Server.Auth.User,
			Password:  cfg.Server.Auth.Pass,
			TLSCA:     cfg.Server.TLS.CA,
			TLSCert:   cfg.Server.TLS.Cert,
			TLSKey:    cfg.Server.TLS.Key,
			Timeout:   2 * time.Second,
			Logger:    logger.Named("mqtt"),
			Debug:     cfg.Server.Debug,
		})
		if err != nil {
			return fmt.Errorf("mqtt connection: %w", err)
		}
		defer conn.Close()
		rt.client = conn
	}

	if wants(cfg, moduleOnly, modulePlayer) || wants(cfg, moduleOnly, moduleLibrarySync) || wants(cfg, moduleOnly, moduleMetrics) {
		a, store, err := buildApp(ctx, cfg, logger, rt.metrics)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("close app", zap.Error(err))
			}
		}()
		rt.app = a
		if fs, ok := store.(*docstore.FileStore); ok && cfg.Modules.LibrarySync.Watch {
			rt.watcher = fs
		}
	}

	modules, err := buildModules(cfg, rt, logger, moduleOnly, skipEmbedded)
	if err != nil {
		return fmt.Errorf("build modules: %w", err)
	}
	supervisor := daemon.Supervisor{Logger: logger}
	return supervisor.Run(ctx, modules)
}

type overrides struct {
	broker    string
	identity  string
	topicBase string
	logLevel  string
	logFormat string
	logOutput string
	logUTC    bool
	driver    string
}

func applyOverrides(cfg *daemon.Config, o overrides) {
	if o.broker != "" {
		cfg.Server.Broker = o.broker
	}
	if o.identity != "" {
		cfg.Server.Identity = o.identity
	}
	if o.topicBase != "" {
		cfg.Server.TopicBase = o.topicBase
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Server.LogFormat = o.logFormat
	}
	if o.logOutput != "" {
		cfg.Server.LogOutput = o.logOutput
	}
	if o.logUTC {
		cfg.Server.LogUTC = true
	}
	if o.driver != "" {
		cfg.Modules.Player.Driver = o.driver
	}
	if cfg.Server.TopicBase == "" {
		cfg.Server.TopicBase = summa.BaseTopic
	}
	if cfg.Server.Identity == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Server.Identity = "summaristd@" + host
		} else {
			cfg.Server.Identity = "summaristd"
		}
	}
	if cfg.Server.Broker == "" && cfg.Modules.EmbeddedMQTT.Enabled {
		cfg.Server.Broker = embeddedBrokerURL(cfg)
	}
}

// deps carries the shared collaborators modules are built from.
type deps struct {
	client  mqtt.Broker
	app     *app.App
	watcher librarysync.Watcher
	metrics *appmetrics.Metrics
}

func buildApp(ctx context.Context, cfg daemon.Config, logger *zap.Logger, m *appmetrics.Metrics) (*app.App, ports.DocumentStore, error) {
	shared := cfg.Shared()
	storeCfg, err := shared.DocumentStore()
	if err != nil {
		return nil, nil, err
	}
	store, err := docstore.Open(ctx, storeCfg, logger.Named("store"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	opts := app.Options{
		Config:    shared.Core(),
		API:       contentapi.NewClient(logger.Named("api"), shared.ContentAPI()),
		Store:     store,
		Prober:    shared.Prober(),
		Clock:     clock.Clock{},
		Metrics:   m,
		Durations: shared.DurationCache(),
	}
	if cfg.Modules.Player.Enabled {
		driver, err := buildDriver(cfg, opts.Prober, shared.Core().ProbeTimeout)
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		opts.Driver = driver
	}

	a, err := app.New(logger, opts)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return a, store, nil
}

func buildDriver(cfg daemon.Config, prober ports.DurationProber, timeout time.Duration) (ports.Driver, error) {
	pc := cfg.Modules.Player
	switch pc.Driver {
	case daemon.DriverNull:
		return simdriver.New(clock.Clock{}, simdriver.ProbedLength(prober, timeout)), nil
	default:
		driver, err := gstdriver.NewDriver(pc.Pipeline, pc.Device, pc.Volume)
		if err != nil {
			return nil, fmt.Errorf("gstreamer driver: %w", err)
		}
		return driver, nil
	}
}

func buildModules(cfg daemon.Config, rt deps, logger *zap.Logger, moduleOnly string, skipEmbedded bool) ([]daemon.ModuleRunner, error) {
	modules := []daemon.ModuleRunner{}

	if wants(cfg, moduleOnly, moduleEmbeddedMQTT) && !skipEmbedded {
		mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", moduleEmbeddedMQTT)), embeddedConfig(cfg))
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{Name: moduleEmbeddedMQTT, Run: mod.Run})
	}

	if wants(cfg, moduleOnly, modulePlayer) {
		if rt.app == nil || rt.app.Player == nil || rt.client == nil {
			return nil, errors.New("player module requires a broker connection and driver")
		}
		pc := cfg.Modules.Player
		mod, err := player.NewModule(logger.With(zap.String("module", modulePlayer)), rt.client, rt.app.Player, rt.app, clock.Clock{}, player.Config{
			PlayerID:      pc.PlayerID,
			TopicBase:     cfg.Server.TopicBase,
			UserID:        pc.UserID,
			StateInterval: time.Duration(pc.StateIntervalMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{Name: modulePlayer, Run: mod.Run})
	}

	if wants(cfg, moduleOnly, moduleLibrarySync) {
		if rt.app == nil {
			return nil, errors.New("library_sync module requires the app")
		}
		lc := cfg.Modules.LibrarySync
		mod, err := librarysync.NewModule(logger.With(zap.String("module", moduleLibrarySync)), rt.app.Library, rt.app, rt.watcher, librarysync.Config{
			UserID:   lc.UserID,
			Interval: time.Duration(lc.IntervalMS) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{Name: moduleLibrarySync, Run: mod.Run})
	}

	if wants(cfg, moduleOnly, moduleMetrics) {
		mod, err := metricsmodule.NewModule(logger.With(zap.String("module", moduleMetrics)), rt.metrics, playerState(rt.app), metricsmodule.Config{
			Listen: cfg.Modules.Metrics.Listen,
		})
		if err != nil {
			return nil, err
		}
		modules = append(modules, daemon.ModuleRunner{Name: moduleMetrics, Run: mod.Run})
	}

	if moduleOnly != "" && len(modules) == 0 {
		return nil, fmt.Errorf("module %q is not enabled", moduleOnly)
	}
	return modules, nil
}

func playerState(a *app.App) metricsmodule.StateFunc {
	if a == nil || a.Player == nil {
		return nil
	}
	return func() (summa.PlaybackState, bool) {
		return a.Player.State(), true
	}
}

func wants(cfg daemon.Config, moduleOnly string, name string) bool {
	if moduleOnly != "" && moduleOnly != name {
		return false
	}
	switch name {
	case moduleEmbeddedMQTT:
		return cfg.Modules.EmbeddedMQTT.Enabled
	case modulePlayer:
		return cfg.Modules.Player.Enabled
	case moduleLibrarySync:
		return cfg.Modules.LibrarySync.Enabled
	case moduleMetrics:
		return cfg.Modules.Metrics.Enabled
	}
	return false
}

func enabledModules(cfg daemon.Config) []string {
	out := []string{}
	for _, name := range []string{moduleEmbeddedMQTT, modulePlayer, moduleLibrarySync, moduleMetrics} {
		if wants(cfg, "", name) {
			out = append(out, name)
		}
	}
	return out
}

func printResolvedConfig(cfg daemon.Config) {
	fmt.Fprintf(os.Stdout,
		"broker=%s identity=%s topic_base=%s log_level=%s log_format=%s log_output=%s log_utc=%t store=%s driver=%s modules=%v\n",
		cfg.Server.Broker,
		cfg.Server.Identity,
		cfg.Server.TopicBase,
		cfg.Server.LogLevel,
		cfg.Server.LogFormat,
		cfg.Server.LogOutput,
		cfg.Server.LogUTC,
		cfg.Store.Backend,
		cfg.Modules.Player.Driver,
		enabledModules(cfg),
	)
}

func embeddedConfig(cfg daemon.Config) embeddedmqtt.Config {
	ec := cfg.Modules.EmbeddedMQTT
	return embeddedmqtt.Config{
		Listen:         ec.Listen,
		AllowAnonymous: ec.AllowAnonymous,
		Username:       ec.Username,
		Password:       ec.Password,
		TLSCA:          ec.TLSCA,
		TLSCert:        ec.TLSCert,
		TLSKey:         ec.TLSKey,
		TopicBase:      cfg.Server.TopicBase,
	}
}

func embeddedBrokerURL(cfg daemon.Config) string {
	ec := embeddedConfig(cfg)
	listen := ec.Listen
	if listen == "" {
		listen = embeddedmqtt.DefaultListen
	}
	return embeddedmqtt.BrokerURL(listen, ec.TLSEnabled())
}

func startEmbeddedBroker(ctx context.Context, cfg daemon.Config, logger *zap.Logger, cancel context.CancelFunc) error {
	mod, err := embeddedmqtt.NewModule(logger.With(zap.String("module", moduleEmbeddedMQTT)), embeddedConfig(cfg))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- mod.Run(ctx)
	}()

	select {
	case <-mod.Ready():
	case err := <-errCh:
		if err == nil {
			err = errors.New("embedded mqtt exited before listening")
		}
		return err
	case <-time.After(3 * time.Second):
		return fmt.Errorf("embedded mqtt not ready at %s", mod.URL())
	}

	go func() {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("embedded mqtt exited", zap.Error(err))
			cancel()
		}
	}()
	return nil
}
