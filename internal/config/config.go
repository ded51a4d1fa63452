// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/router"
	"github.com/sigil-dev/rpcrouter/internal/secrets"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// RPCROUTER_SETTINGS_PROBE_INTERVAL.
const EnvPrefix = "RPCROUTER"

// Config is the top-level router configuration.
type Config struct {
	Settings  SettingsConfig   `mapstructure:"settings"`
	Routing   RoutingConfig    `mapstructure:"routing"`
	Providers []ProviderConfig `mapstructure:"providers"`

	// Path is the file the configuration was read from, empty when none.
	Path string `mapstructure:"-"`
}

// SettingsConfig holds process-wide settings.
type SettingsConfig struct {
	Port             int           `mapstructure:"port"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	FailureThreshold int64         `mapstructure:"failure_threshold"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
}

// RoutingConfig overrides the method classification.
type RoutingConfig struct {
	BroadcastMethods []string `mapstructure:"broadcast_methods"`
	LatencyMethods   []string `mapstructure:"latency_methods"`
}

// ProviderConfig is one [[providers]] entry.
type ProviderConfig struct {
	Name   string  `mapstructure:"name"`
	URL    string  `mapstructure:"url"`
	Weight uint64  `mapstructure:"weight"`
	MaxRPS float64 `mapstructure:"max_rps"`

	// SecretRef is the keyring reference URL was resolved from, if any.
	SecretRef string `mapstructure:"-"`
}

// SetDefaults registers the default value of every settings key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("settings.port", 3000)
	v.SetDefault("settings.probe_interval", provider.DefaultProbeInterval)
	v.SetDefault("settings.probe_timeout", provider.DefaultProbeTimeout)
	v.SetDefault("settings.request_timeout", 10*time.Second)
	v.SetDefault("settings.failure_threshold", provider.DefaultFailureThreshold)
	v.SetDefault("settings.cors_origins", []string{"*"})
	v.SetDefault("routing.broadcast_methods", router.DefaultBroadcastMethods)
	v.SetDefault("routing.latency_methods", router.DefaultLatencyMethods)
}

// SetupEnv wires environment overrides. The bare PORT variable also sets
// settings.port; RPCROUTER_SETTINGS_PORT wins when both are set.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("settings.port", "PORT")
}

// SearchPaths lists the directories searched for config.toml when no path is
// given.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "rpcrouter"))
	}
	return append(paths, "/etc/rpcrouter")
}

type loadOptions struct {
	store secrets.Store
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithSecretStore sets the store keyring:// provider URLs resolve against.
// The OS keyring is used by default.
func WithSecretStore(s secrets.Store) LoadOption {
	return func(o *loadOptions) {
		if s != nil {
			o.store = s
		}
	}
}

// Load reads configuration from path, or from config.toml in SearchPaths
// when path is empty, applies environment overrides, resolves keyring
// references and validates the result.
func Load(path string, opts ...LoadOption) (*Config, error) {
	o := loadOptions{store: secrets.NewKeyringStore()}
	for _, opt := range opts {
		opt(&o)
	}

	v := viper.New()
	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound) && path == "":
			return nil, sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure,
				"no config.toml found in %s", strings.Join(SearchPaths(), ", "))
		case errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist):
			return nil, sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		default:
			return nil, sigilerr.Errorf(sigilerr.CodeConfigParseInvalidFormat, "parsing config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()

	if err := cfg.ResolveSecrets(o.store); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting all of
// them rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateSettings()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateProviders()...)

	return errs
}

func (c *Config) validateSettings() []error {
	var errs []error
	s := c.Settings

	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"config: settings.port must be between 1 and 65535, got %d", s.Port))
	}
	if s.ProbeInterval <= 0 {
		errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"config: settings.probe_interval must be positive, got %s", s.ProbeInterval))
	}
	if s.ProbeTimeout <= 0 {
		errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"config: settings.probe_timeout must be positive, got %s", s.ProbeTimeout))
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"config: settings.request_timeout must be positive, got %s", s.RequestTimeout))
	}
	if s.FailureThreshold < 1 {
		errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
			"config: settings.failure_threshold must be at least 1, got %d", s.FailureThreshold))
	}

	return errs
}

func (c *Config) validateRouting() []error {
	var errs []error

	for i, m := range c.Routing.BroadcastMethods {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: routing.broadcast_methods[%d] must not be empty", i))
		}
	}
	for i, m := range c.Routing.LatencyMethods {
		if strings.TrimSpace(m) == "" {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: routing.latency_methods[%d] must not be empty", i))
		}
	}

	return errs
}

func (c *Config) validateProviders() []error {
	var errs []error

	if len(c.Providers) == 0 {
		return []error{sigilerr.New(sigilerr.CodeConfigValidateInvalidValue,
			"config: at least one [[providers]] entry is required")}
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: providers[%d].name must not be empty", i))
		} else if seen[p.Name] {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: providers[%d].name %q is duplicated", i, p.Name))
		}
		seen[p.Name] = true

		if u, err := url.Parse(p.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			// The raw URL may carry an API key.
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: providers[%d].url must be an http(s) URL, got %q", i, provider.MaskURL(p.URL)))
		}
		if p.Weight < 1 {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: providers[%d].weight must be at least 1", i))
		}
		if p.MaxRPS < 0 {
			errs = append(errs, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"config: providers[%d].max_rps must not be negative, got %g", i, p.MaxRPS))
		}
	}

	return errs
}

// ProviderList converts the configured providers for the registry.
func (c *Config) ProviderList() []provider.Provider {
	out := make([]provider.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, provider.Provider{Name: p.Name, URL: p.URL, Weight: p.Weight, MaxRPS: p.MaxRPS})
	}
	return out
}

// ResolveSecrets replaces keyring:// provider URLs with the stored value.
func (c *Config) ResolveSecrets(store secrets.Store) error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if !secrets.IsRef(p.URL) {
			continue
		}
		resolved, err := secrets.Resolve(store, p.URL)
		if err != nil {
			return sigilerr.Wrapf(err, sigilerr.CodeSecretResolveFailure, "config: providers[%d] (%s)", i, p.Name)
		}
		p.SecretRef, p.URL = p.URL, resolved
	}
	return nil
}

// HasCredentials reports whether any provider URL written in the config file
// embeds a secret. Keyring-resolved URLs do not count.
func (c *Config) HasCredentials() bool {
	for _, p := range c.Providers {
		if p.SecretRef == "" && provider.MaskURL(p.URL) != p.URL {
			return true
		}
	}
	return false
}
