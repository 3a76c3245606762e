// Package config loads a ListenerConfig from file and environment using
// github.com/spf13/viper, the way the teacher's surrounding ecosystem
// configures long-running services.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ListenerConfig is the frozen, validated configuration a listener is
// built from: the network/timeout/routing knobs plus the
// logging/metrics/TLS additions layered on top.
type ListenerConfig struct {
	Address             string        `mapstructure:"address"`
	Backlog             int           `mapstructure:"backlog"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
	SSLHandshakeTimeout time.Duration `mapstructure:"ssl_handshake_timeout"`
	HeaderBudgetBytes   int           `mapstructure:"header_budget_bytes"`
	AcceptLoops         int           `mapstructure:"accept_loops"`
	MaxInFlight         int           `mapstructure:"max_in_flight"`
	Banner              string        `mapstructure:"banner"`
	ForceTrailingSlash  bool          `mapstructure:"force_trailing_slash"`
	MatchHeadAsGet      bool          `mapstructure:"match_head_as_get"`
	LogLevel            string        `mapstructure:"log_level"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("address", ":8080")
	v.SetDefault("backlog", 1024)
	v.SetDefault("read_timeout", 30*time.Second)
	v.SetDefault("write_timeout", 30*time.Second)
	v.SetDefault("ssl_handshake_timeout", 10*time.Second)
	v.SetDefault("header_budget_bytes", 8192)
	v.SetDefault("accept_loops", 1)
	v.SetDefault("max_in_flight", 4096)
	v.SetDefault("banner", "")
	v.SetDefault("force_trailing_slash", false)
	v.SetDefault("match_head_as_get", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_enabled", false)
	v.SetDefault("tls_cert_file", "")
	v.SetDefault("tls_key_file", "")
}

// Load reads configuration from path (if non-empty) plus any ENGINE_
// prefixed environment variable overrides, validates it, and returns a
// ready-to-use ListenerConfig.
func Load(path string) (*ListenerConfig, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg ListenerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *ListenerConfig) error {
	if cfg.Backlog < 1024 {
		return fmt.Errorf("config: backlog must be >= 1024, got %d", cfg.Backlog)
	}
	if cfg.ReadTimeout <= 0 {
		return fmt.Errorf("config: read_timeout must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be > 0")
	}
	if cfg.SSLHandshakeTimeout <= 0 {
		return fmt.Errorf("config: ssl_handshake_timeout must be > 0")
	}
	if cfg.HeaderBudgetBytes <= 0 {
		return fmt.Errorf("config: header_budget_bytes must be > 0")
	}
	if cfg.AcceptLoops < 1 {
		return fmt.Errorf("config: accept_loops must be >= 1")
	}
	return nil
}
