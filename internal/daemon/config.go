package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/summarist/internal/adapters/config"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Config is the top-level configuration for summaristd. The [api], [store]
// and [durations] sections share their schema with the CLI config.
type Config struct {
	Server    ServerConfig           `toml:"server"`
	API       config.APIConfig       `toml:"api"`
	Store     config.StoreConfig     `toml:"store"`
	Durations config.DurationsConfig `toml:"durations"`
	Modules   ModulesConfig          `toml:"modules"`
}

// ServerConfig defines shared server settings.
type ServerConfig struct {
	Broker    string     `toml:"broker"`
	Identity  string     `toml:"identity"`
	TopicBase string     `toml:"topic_base"`
	LogLevel  string     `toml:"log_level"`
	LogFormat string     `toml:"log_format"`
	LogOutput string     `toml:"log_output"`
	LogUTC    bool       `toml:"log_utc"`
	Debug     bool       `toml:"debug"`
	TLS       TLSConfig  `toml:"tls"`
	Auth      AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// ModulesConfig holds module configurations.
type ModulesConfig struct {
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
	Player       PlayerConfig       `toml:"player"`
	LibrarySync  LibrarySyncConfig  `toml:"library_sync"`
	Metrics      MetricsConfig      `toml:"metrics"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// PlayerConfig configures the remote player module.
type PlayerConfig struct {
	Enabled  bool   `toml:"enabled"`
	PlayerID string `toml:"player_id"`
	// Driver is "gstreamer" or "null".
	Driver          string  `toml:"driver"`
	Pipeline        string  `toml:"pipeline"`
	Device          string  `toml:"device"`
	Volume          float64 `toml:"volume"`
	UserID          string  `toml:"user_id"`
	StateIntervalMS int64   `toml:"state_interval_ms"`
}

// LibrarySyncConfig configures periodic library refresh.
type LibrarySyncConfig struct {
	Enabled    bool   `toml:"enabled"`
	UserID     string `toml:"user_id"`
	IntervalMS int64  `toml:"interval_ms"`
	Watch      bool   `toml:"watch"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Player drivers.
const (
	DriverGStreamer = "gstreamer"
	DriverNull      = "null"
)

// LoadConfig loads a config file from path over the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// DefaultConfig returns the settings used for keys absent from the file.
func DefaultConfig() Config {
	shared := config.Default()
	return Config{
		Server: ServerConfig{
			TopicBase: summa.BaseTopic,
			LogLevel:  "info",
			LogFormat: "console",
			LogOutput: "stderr",
		},
		API:       shared.API,
		Store:     shared.Store,
		Durations: shared.Durations,
		Modules: ModulesConfig{
			Player: PlayerConfig{
				PlayerID:        "default",
				Driver:          DriverGStreamer,
				Volume:          1.0,
				StateIntervalMS: 1000,
			},
			LibrarySync: LibrarySyncConfig{IntervalMS: 60000},
			Metrics:     MetricsConfig{Listen: "127.0.0.1:9464"},
		},
	}
}

// Validate checks cross-field settings.
func (c Config) Validate() error {
	shared := config.Default()
	shared.Store = c.Store
	shared.Durations = c.Durations
	if err := shared.Validate(); err != nil {
		return err
	}
	switch c.Modules.Player.Driver {
	case DriverGStreamer, DriverNull:
	default:
		return fmt.Errorf("unknown player driver %q", c.Modules.Player.Driver)
	}
	if c.Modules.Player.Enabled && strings.TrimSpace(c.Modules.Player.PlayerID) == "" {
		return errors.New("modules.player.player_id is required")
	}
	if c.Modules.LibrarySync.Enabled && strings.TrimSpace(c.Modules.LibrarySync.UserID) == "" {
		return errors.New("modules.library_sync.user_id is required")
	}
	return nil
}

// Shared returns the CLI-compatible view of the shared sections.
func (c Config) Shared() config.Config {
	shared := config.Default()
	shared.API = c.API
	shared.Store = c.Store
	shared.Durations = c.Durations
	return shared
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "summarist", "summaristd.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "summarist", "summaristd.toml"), nil
}
