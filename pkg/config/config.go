package config

// Package config provides a reusable loader for the 2030.5 client's
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"se2030/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for an se2030 client process. It
// mirrors the teacher's mapstructure-tagged, section-per-concern shape
// (core/../pkg/config/config.go), with sections replaced to match this
// module's domain: network/discovery, TLS, retrieval and logging instead
// of network/consensus/VM/storage.
type Config struct {
	Network struct {
		ServiceType    string   `mapstructure:"service_type" json:"service_type"`
		BootstrapHosts []string `mapstructure:"bootstrap_hosts" json:"bootstrap_hosts"`
		DiscoveryPort  int      `mapstructure:"discovery_port" json:"discovery_port"`
	} `mapstructure:"network" json:"network"`

	TLS struct {
		CertFile   string `mapstructure:"cert_file" json:"cert_file"`
		KeyFile    string `mapstructure:"key_file" json:"key_file"`
		CAFile     string `mapstructure:"ca_file" json:"ca_file"`
		CipherOnly bool   `mapstructure:"cipher_only" json:"cipher_only"`
	} `mapstructure:"tls" json:"tls"`

	Retrieval struct {
		DefaultPollRateSeconds int `mapstructure:"default_poll_rate_seconds" json:"default_poll_rate_seconds"`
		ListPageSize           int `mapstructure:"list_page_size" json:"list_page_size"`
		IdleTimeoutSeconds     int `mapstructure:"idle_timeout_seconds" json:"idle_timeout_seconds"`
		BackoffInitialMS       int `mapstructure:"backoff_initial_ms" json:"backoff_initial_ms"`
		BackoffMaxMS           int `mapstructure:"backoff_max_ms" json:"backoff_max_ms"`
		BackoffFactor          float64 `mapstructure:"backoff_factor" json:"backoff_factor"`
	} `mapstructure:"retrieval" json:"retrieval"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is
// loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/se2030client/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("SE2030")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // picks up SE2030_* overrides

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SE2030_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SE2030_ENV", ""))
}
