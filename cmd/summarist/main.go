package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/adapters/clock"
	"github.com/mikey-austin/summarist/internal/adapters/config"
	"github.com/mikey-austin/summarist/internal/adapters/contentapi"
	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/adapters/idgen"
	"github.com/mikey-austin/summarist/internal/adapters/mqtt"
	"github.com/mikey-austin/summarist/internal/adapters/output"
	"github.com/mikey-austin/summarist/internal/app"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// cli is the per-invocation state shared by commands. The application and
// the broker connection are built on first use.
type cli struct {
	cfg     config.Config
	printer output.Printer
	log     *zap.Logger
	timeout time.Duration
	in      io.Reader
	out     io.Writer

	// driver, when set, enables the local player.
	driver     func() (ports.Driver, error)
	onPlayback func(summa.PlaybackState)

	app     *app.App
	store   ports.DocumentStore
	conn    *mqtt.Conn
	control remoteControl
}

// remoteControl drives players hosted by summaristd.
type remoteControl interface {
	Command(ctx context.Context, playerID string, cmdType string, body any) (summa.PlaybackState, error)
	State(ctx context.Context, playerID string) (summa.PlaybackState, error)
	Watch(ctx context.Context, playerID string) (<-chan summa.PlaybackState, error)
	Players(ctx context.Context, wait time.Duration) ([]core.PlaybackResult, error)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, c := newRootCommand(os.Stdin, os.Stdout)
	err := root.ExecuteContext(ctx)
	c.close()
	cancel()
	if err != nil {
		os.Exit(core.ExitCode(err))
	}
}

func newRootCommand(in io.Reader, out io.Writer) (*cobra.Command, *cli) {
	c := &cli{in: in, out: out}
	root := &cobra.Command{
		Use:          "summarist",
		Short:        "Book summary client",
		SilenceUsage: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return core.UsageError(err.Error())
	})
	root.SetIn(in)
	root.SetOut(out)

	var (
		configPath string
		envFile    string
		verbose    bool
	)
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file path")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading SUMMARIST_* variables")
	flags.StringP("user", "u", "", "signed-in user id")
	flags.String("api-url", "", "content API base URL")
	flags.String("store", "", "document store backend (file|redis|sqlite|postgres)")
	flags.String("store-path", "", "file store directory or sqlite database")
	flags.String("store-url", "", "redis address or postgres DSN")
	flags.String("probe", "", "duration probe (mp3|ffprobe)")
	flags.StringP("output", "o", "", "output format (human|json)")
	flags.BoolP("json", "j", false, "output json")
	flags.StringP("broker", "b", "", "MQTT broker URL for remote commands")
	flags.StringP("player", "p", "", "remote player id")
	flags.Duration("search-quiet", 0, "search debounce interval")
	flags.DurationVarP(&c.timeout, "timeout", "t", 15*time.Second, "command timeout")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
		path := configPath
		if path == "" {
			var err error
			if path, err = config.Path(); err != nil {
				return err
			}
		}
		cfg, err := config.LoadFile(path)
		if err != nil {
			return core.WrapError(core.ExitUsage, "load config", err)
		}

		v := viper.New()
		config.BindEnv(v)
		if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
			return err
		}
		if err := cfg.Overlay(v); err != nil {
			return core.WrapError(core.ExitUsage, "config", err)
		}
		c.cfg = cfg
		c.printer = output.New(cfg.Output.Format, out)

		c.log = zap.NewNop()
		if verbose {
			log, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			c.log = log
		}
		return nil
	}

	root.AddCommand(forYouCommand(c))
	root.AddCommand(bookCommand(c))
	root.AddCommand(readCommand(c))
	root.AddCommand(searchCommand(c))
	root.AddCommand(durationCommand(c))
	root.AddCommand(libraryCommand(c))
	root.AddCommand(playCommand(c))
	root.AddCommand(subscribeCommand(c))
	root.AddCommand(cancelCommand(c))
	root.AddCommand(profileCommand(c))
	root.AddCommand(remoteCommand(c))

	return root, c
}

// application builds the App on first use and signs in the configured user.
func (c *cli) application(ctx context.Context) (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	storeCfg, err := c.cfg.DocumentStore()
	if err != nil {
		return nil, err
	}
	store, err := docstore.Open(ctx, storeCfg, c.log.Named("store"))
	if err != nil {
		return nil, core.WrapError(core.ExitUpstream, "open store", err)
	}

	opts := app.Options{
		Config:     c.cfg.Core(),
		API:        contentapi.NewClient(c.log.Named("api"), c.cfg.ContentAPI()),
		Store:      store,
		Prober:     c.cfg.Prober(),
		Clock:      clock.Clock{},
		Durations:  c.cfg.DurationCache(),
		OnPlayback: c.onPlayback,
	}
	if c.driver != nil {
		driver, err := c.driver()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		opts.Driver = driver
	}
	a, err := app.New(c.log, opts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	c.app = a
	c.store = store

	if userID := c.cfg.User.ID; userID != "" {
		if err := a.SignIn(ctx, userID); err != nil {
			c.log.Warn("sign-in incomplete", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return a, nil
}

// controller dials the broker for remote commands.
func (c *cli) controller() (remoteControl, error) {
	if c.control != nil {
		return c.control, nil
	}
	if c.cfg.Remote.Broker == "" {
		return nil, core.UsageError("broker is required (set --broker or [remote] broker)")
	}
	identity := defaultIdentity()
	conn, err := mqtt.Dial(mqtt.Options{
		BrokerURL: c.cfg.Remote.Broker,
		ClientID:  fmt.Sprintf("summarist-%d", time.Now().UnixNano()),
		Timeout:   5 * time.Second,
		Logger:    c.log.Named("mqtt"),
	})
	if err != nil {
		return nil, core.WrapError(core.ExitUpstream, "connect broker", err)
	}
	control, err := mqtt.NewController(conn, mqtt.ControllerOptions{
		Identity:  identity,
		TopicBase: c.cfg.Remote.TopicBase,
		Timeout:   c.timeout,
		IDs:       idgen.Generator{},
		Clock:     clock.Clock{},
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	c.conn = conn
	c.control = control
	return control, nil
}

func (c *cli) close() {
	if c.app != nil {
		if err := c.app.Close(); err != nil && c.log != nil {
			c.log.Warn("close", zap.Error(err))
		}
		c.app = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func (c *cli) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func defaultIdentity() string {
	usr, _ := user.Current()
	host, _ := os.Hostname()
	if usr != nil && host != "" {
		return fmt.Sprintf("%s@%s", usr.Username, host)
	}
	if host != "" {
		return host
	}
	return "summarist"
}

// exactArgs reports argument count mistakes as usage errors.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return core.UsageError(err.Error())
		}
		return nil
	}
}
