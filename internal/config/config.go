// Package config loads peer startup configuration the way a
// production peer is actually launched: a config file plus
// environment-variable overrides, via viper, instead of hand-parsed
// os.Args.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/meff-network/meff/internal/types"
)

// Config is the fully-resolved startup configuration for one peer.
type Config struct {
	Name             string
	Port             string
	BootstrapAddress string // empty to start a fresh network
	Debug            bool
	MetricsAddr      string // empty disables the metrics server
}

// Load reads configuration from an optional file at path (skipped if
// path is empty or missing) and from MEFF_-prefixed environment
// variables, which always take precedence. Metrics stay disabled by
// default.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("name", "peer")
	v.SetDefault("port", "4000")
	v.SetDefault("bootstrap_address", "")
	v.SetDefault("debug", false)
	v.SetDefault("metrics_addr", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !os.IsNotExist(err) {
				return Config{}, errors.Wrapf(err, "config: read %s", path)
			}
		}
	}

	cfg := Config{
		Name:             v.GetString("name"),
		Port:             v.GetString("port"),
		BootstrapAddress: v.GetString("bootstrap_address"),
		Debug:            v.GetBool("debug"),
		MetricsAddr:      v.GetString("metrics_addr"),
	}

	if err := types.ValidatePort(cfg.Port); err != nil {
		return Config{}, errors.Wrap(err, "config: invalid port")
	}
	if cfg.Name == "" {
		return Config{}, errors.New("config: name must not be empty")
	}

	return cfg, nil
}
