package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/mikey-austin/summarist/internal/adapters/contentapi"
	"github.com/mikey-austin/summarist/internal/adapters/docstore"
	"github.com/mikey-austin/summarist/internal/adapters/probe"
	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/duration"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Config holds CLI configuration from config.toml.
type Config struct {
	API       APIConfig       `toml:"api"`
	User      UserConfig      `toml:"user"`
	Store     StoreConfig     `toml:"store"`
	Durations DurationsConfig `toml:"durations"`
	Search    SearchConfig    `toml:"search"`
	Output    OutputConfig    `toml:"output"`
	Remote    RemoteConfig    `toml:"remote"`
}

// APIConfig configures the content service client.
type APIConfig struct {
	BaseURL    string  `toml:"base_url"`
	TimeoutMS  int     `toml:"timeout_ms"`
	RatePerSec float64 `toml:"rate_per_sec"`
	Burst      int     `toml:"burst"`
	Retries    int     `toml:"retries"`
}

// UserConfig selects the signed-in user.
type UserConfig struct {
	ID string `toml:"id"`
}

// StoreConfig selects the per-user document store.
type StoreConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	URL           string `toml:"url"`
	Prefix        string `toml:"prefix"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// DurationsConfig configures audio duration probing.
type DurationsConfig struct {
	Probe       string `toml:"probe"`
	FFProbePath string `toml:"ffprobe_path"`
	TimeoutMS   int    `toml:"timeout_ms"`
	Capacity    int    `toml:"capacity"`
	Concurrency int    `toml:"concurrency"`
}

// SearchConfig configures the search debounce.
type SearchConfig struct {
	QuietMS int `toml:"quiet_ms"`
}

// OutputConfig selects the output format.
type OutputConfig struct {
	Format string `toml:"format"`
}

// RemoteConfig points the CLI at a daemon-hosted player.
type RemoteConfig struct {
	Broker    string `toml:"broker"`
	PlayerID  string `toml:"player_id"`
	TopicBase string `toml:"topic_base"`
}

// Probe kinds.
const (
	ProbeFFProbe = "ffprobe"
	ProbeMP3     = "mp3"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:    contentapi.DefaultBaseURL,
			TimeoutMS:  10000,
			RatePerSec: 8,
			Burst:      4,
			Retries:    2,
		},
		Store: StoreConfig{
			Backend:       docstore.BackendFile,
			BusyTimeoutMS: 5000,
		},
		Durations: DurationsConfig{
			Probe:       ProbeMP3,
			TimeoutMS:   int(duration.DefaultProbeTimeout / time.Millisecond),
			Capacity:    4096,
			Concurrency: 8,
		},
		Search: SearchConfig{QuietMS: 300},
		Output: OutputConfig{Format: "human"},
		Remote: RemoteConfig{
			Broker:    "tcp://localhost:1883",
			PlayerID:  "default",
			TopicBase: summa.BaseTopic,
		},
	}
}

// Load loads config.toml if present. Missing file returns the defaults.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

// LoadFile loads a specific config file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Path returns the default config file location.
func Path() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "summarist", "config.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "summarist", "config.toml"), nil
}

// DataDir returns the default root of the file document store.
func DataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "summarist"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "summarist"), nil
}

// Validate checks enumerated settings.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case docstore.BackendFile, docstore.BackendRedis, docstore.BackendSQLite, docstore.BackendPostgres:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Durations.Probe {
	case ProbeFFProbe, ProbeMP3:
	default:
		return fmt.Errorf("unknown duration probe %q", c.Durations.Probe)
	}
	switch c.Output.Format {
	case "human", "json":
	default:
		return fmt.Errorf("unknown output format %q", c.Output.Format)
	}
	if c.Search.QuietMS < 0 {
		return errors.New("search quiet_ms must be >= 0")
	}
	return nil
}

// Overlay applies values set through flags or SUMMARIST_* environment
// variables. Keys that were never set keep their file values.
func (c *Config) Overlay(v *viper.Viper) error {
	setString(v, "user", &c.User.ID)
	setString(v, "api-url", &c.API.BaseURL)
	setString(v, "store", &c.Store.Backend)
	setString(v, "store-path", &c.Store.Path)
	setString(v, "store-url", &c.Store.URL)
	setString(v, "probe", &c.Durations.Probe)
	setString(v, "output", &c.Output.Format)
	setString(v, "broker", &c.Remote.Broker)
	setString(v, "player", &c.Remote.PlayerID)
	if v.IsSet("json") && v.GetBool("json") {
		c.Output.Format = "json"
	}
	if v.IsSet("search-quiet") {
		c.Search.QuietMS = int(v.GetDuration("search-quiet") / time.Millisecond)
	}
	return c.Validate()
}

// EnvPrefix prefixes environment overrides, e.g. SUMMARIST_USER.
const EnvPrefix = "SUMMARIST"

// BindEnv makes v read SUMMARIST_* variables for flag-style keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// LoadEnvFile loads a dotenv file into the process environment. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := gotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func setString(v *viper.Viper, key string, dst *string) {
	if !v.IsSet(key) {
		return
	}
	if val := strings.TrimSpace(v.GetString(key)); val != "" {
		*dst = val
	}
}

// ContentAPI returns the content client settings.
func (c Config) ContentAPI() contentapi.Config {
	return contentapi.Config{
		BaseURL:    c.API.BaseURL,
		Timeout:    millis(c.API.TimeoutMS),
		RatePerSec: c.API.RatePerSec,
		Burst:      c.API.Burst,
		Retries:    c.API.Retries,
	}
}

// DocumentStore returns the document store settings. The file and sqlite
// backends default to the XDG data directory.
func (c Config) DocumentStore() (docstore.Config, error) {
	out := docstore.Config{
		Backend:     c.Store.Backend,
		Path:        c.Store.Path,
		URL:         c.Store.URL,
		Prefix:      c.Store.Prefix,
		BusyTimeout: millis(c.Store.BusyTimeoutMS),
	}
	if out.Path != "" {
		return out, nil
	}
	switch out.Backend {
	case docstore.BackendFile, docstore.BackendSQLite:
		dir, err := DataDir()
		if err != nil {
			return docstore.Config{}, err
		}
		out.Path = filepath.Join(dir, "library")
		if out.Backend == docstore.BackendSQLite {
			out.Path = filepath.Join(dir, "library.db")
		}
	}
	return out, nil
}

// DurationCache returns the cache settings.
func (c Config) DurationCache() duration.CacheConfig {
	return duration.CacheConfig{
		Capacity:    c.Durations.Capacity,
		Concurrency: c.Durations.Concurrency,
		Timeout:     millis(c.Durations.TimeoutMS),
	}
}

// Prober builds the configured duration prober.
func (c Config) Prober() ports.DurationProber {
	if c.Durations.Probe == ProbeFFProbe {
		return probe.FFProbe{Path: c.Durations.FFProbePath}
	}
	return probe.NewMP3(millis(c.Durations.TimeoutMS))
}

// Core returns the runtime settings shared with the application layer.
func (c Config) Core() core.Config {
	return core.Config{
		UserID:       c.User.ID,
		APIBaseURL:   c.API.BaseURL,
		APITimeout:   millis(c.API.TimeoutMS),
		SearchQuiet:  millis(c.Search.QuietMS),
		ProbeTimeout: millis(c.Durations.TimeoutMS),
	}
}

func millis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
