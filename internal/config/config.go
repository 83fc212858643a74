package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/imdario/mergo"
	"github.com/spf13/viper"
)

var ErrNoServers = errors.New("no signaling servers configured")

// ConnectionOptions tunes a single signaling connection.
// Zero values mean "inherit the global setting".
type ConnectionOptions struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ResendOnTimeout bool          `mapstructure:"resend_on_timeout"`
	LogIncoming     bool          `mapstructure:"log_incoming"`
	LogOutgoing     bool          `mapstructure:"log_outgoing"`
}

type Server struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Options ConnectionOptions `mapstructure:"options"`
}

type HTTP struct {
	Addr   string `mapstructure:"addr"`
	Secret string `mapstructure:"secret"`
}

type Config struct {
	App      string   `mapstructure:"app"`
	Mode     string   `mapstructure:"mode"`
	LogLevel string   `mapstructure:"log_level"`
	Servers  []Server `mapstructure:"servers"`

	Connection ConnectionOptions `mapstructure:"connection"`

	RetriesOnTempError    int           `mapstructure:"retries_on_temp_error"`
	TempErrorDelay        time.Duration `mapstructure:"temp_error_delay"`
	PersErrorDelay        time.Duration `mapstructure:"pers_error_delay"`
	ReadyPollInterval     time.Duration `mapstructure:"ready_poll_interval"`
	SessionTTL            time.Duration `mapstructure:"session_ttl"`
	ExtendSessionInterval time.Duration `mapstructure:"extend_session_interval"`
	BroadcastRegistration bool          `mapstructure:"broadcast_registration"`

	StorePath string `mapstructure:"store_path"`
	HTTP      HTTP   `mapstructure:"http"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app", "vocs")
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("connection.request_timeout", "5s")
	v.SetDefault("connection.resend_on_timeout", false)
	v.SetDefault("connection.log_incoming", false)
	v.SetDefault("connection.log_outgoing", false)
	v.SetDefault("retries_on_temp_error", 5)
	v.SetDefault("temp_error_delay", "1s")
	v.SetDefault("pers_error_delay", "5s")
	v.SetDefault("ready_poll_interval", "1s")
	v.SetDefault("session_ttl", "50m")
	v.SetDefault("extend_session_interval", "30m")
	v.SetDefault("broadcast_registration", false)
	v.SetDefault("store_path", "")
	v.SetDefault("http.addr", "127.0.0.1:8089")
	v.SetDefault("http.secret", "vocs-local-secret")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("VOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	fmt.Printf("🧩 Mode: %s | Servers: %d | Store: %q\n", cfg.Mode, len(cfg.Servers), cfg.StorePath)
	return cfg, nil
}

// FromViper decodes an already populated viper instance, applying defaults.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	for i, s := range c.Servers {
		if s.URL == "" {
			return fmt.Errorf("server %d (%s): url is required", i, s.Name)
		}
	}
	if c.RetriesOnTempError < 0 {
		return fmt.Errorf("retries_on_temp_error must not be negative, got %d", c.RetriesOnTempError)
	}
	return nil
}

// ServerOptions returns the global connection options overridden by the
// non-zero per-server ones.
func (c *Config) ServerOptions(s Server) (ConnectionOptions, error) {
	opts := c.Connection
	if err := mergo.Merge(&opts, s.Options, mergo.WithOverride); err != nil {
		return c.Connection, fmt.Errorf("merge options for %s: %w", s.Name, err)
	}
	return opts, nil
}
