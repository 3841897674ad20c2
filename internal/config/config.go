// Package config loads the demo CLI's tunables the way beads' own
// internal/labelmutex loads a config.yaml fragment: a fresh spf13/viper
// instance pointed at a YAML file (decoded with gopkg.in/yaml.v3
// underneath, same as Viper's own yaml codec), layered with RELAY_*
// environment variables. The core engine itself takes every one of these
// values as plain Go arguments or struct fields. The demo CLI
// (cmd/relayctl) does not call Load, and no other code in the module
// reads a Config.
package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Key names for the tunables this project actually has (spec §4.H.5 index
// idle-eviction, §4.K.7 graph GC timeout, §7 awaitTxId timeout, §4.B
// default compareOptions.stringSort locale).
const (
	KeyIndexIdleTimeout    = "index.idle-timeout"
	KeyGraphGCTimeout      = "graph.gc-timeout"
	KeyAwaitTxIDTimeout    = "scheduler.await-txid-timeout"
	KeyDefaultStringLocale = "orderby.default-locale"
)

// Defaults mirror the zero-config behavior documented alongside each
// tunable's consumer.
var defaults = map[string]any{
	KeyIndexIdleTimeout:    "30s",
	KeyGraphGCTimeout:      "5m",
	KeyAwaitTxIDTimeout:    "10s",
	KeyDefaultStringLocale: "", // empty = root/lexical
}

// Config is a loaded, typed view over the demo CLI's tunables.
type Config struct {
	v *viper.Viper
}

// Load reads path (if it exists) as YAML, applies defaults for anything
// unset, and merges RELAY_*-prefixed environment variables over both.
// A missing path is not an error — the zero-config defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("RELAY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	return &Config{v: v}, nil
}

// IndexIdleTimeout is how long a derived index with zero referencing
// subscribers sits before its storage is released (spec §4.H.5).
func (c *Config) IndexIdleTimeout() time.Duration {
	return c.v.GetDuration(KeyIndexIdleTimeout)
}

// GraphGCTimeout is how long a live-query collection or effect with zero
// subscribers waits before tearing its compiled graph down (spec §4.K.7).
func (c *Config) GraphGCTimeout() time.Duration {
	return c.v.GetDuration(KeyGraphGCTimeout)
}

// AwaitTxIDTimeout bounds an adapter's AwaitTxID poll loop before it
// reports errs.ErrTimeoutAwaitingTxID (spec §7).
func (c *Config) AwaitTxIDTimeout() time.Duration {
	return c.v.GetDuration(KeyAwaitTxIDTimeout)
}

// DefaultStringLocale is the BCP-47 locale applied to an orderBy term that
// requests locale-aware string sorting without specifying one explicitly
// (spec §4.B, internal/collate). Empty means root-locale collation.
func (c *Config) DefaultStringLocale() string {
	return c.v.GetString(KeyDefaultStringLocale)
}
