package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/proxyvisr/internal/env"
	"github.com/loykin/proxyvisr/internal/logger"
	"github.com/loykin/proxyvisr/internal/metrics"
	"github.com/loykin/proxyvisr/internal/process"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	"github.com/loykin/proxyvisr/internal/sysproxy"
)

// EnvPrefix is the prefix of environment variables overriding file values,
// e.g. PROXYVISR_CORE_BINARY.
const EnvPrefix = "PROXYVISR"

// Engine modes.
const (
	ModeDesktop = "desktop"
	ModeVPN     = "vpn"
)

// Config is the full proxyvisr configuration file.
type Config struct {
	Core        CoreConfig        `mapstructure:"core"`
	SystemProxy SystemProxyConfig `mapstructure:"system_proxy"`
	VPN         VPNConfig         `mapstructure:"vpn"`
	Log         logger.Config     `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	History     HistoryConfig     `mapstructure:"history"`
}

// CoreConfig describes the proxy core binary.
type CoreConfig struct {
	Mode string `mapstructure:"mode"`
	// Kind selects argument and dialect presets: sing-box or trojan-go.
	Kind string `mapstructure:"kind"`
	// Name labels log files and metrics for the core.
	Name   string   `mapstructure:"name"`
	Binary string   `mapstructure:"binary"`
	Args   []string `mapstructure:"args"`
	// Dialect overrides the dialect implied by Kind.
	Dialect      string        `mapstructure:"dialect"`
	ProxyHost    string        `mapstructure:"proxy_host"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	WorkDir      string        `mapstructure:"work_dir"`
	PIDFile      string        `mapstructure:"pid_file"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`
	InheritEnv   bool          `mapstructure:"inherit_env"`
}

type SystemProxyConfig struct {
	// Backend is auto, memory, none, gsettings, networksetup or registry.
	Backend        string   `mapstructure:"backend"`
	Bypass         []string `mapstructure:"bypass"`
	NetworkService string   `mapstructure:"network_service"`
}

type VPNConfig struct {
	HelperURL string        `mapstructure:"helper_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on a separate address; empty mounts it on the API server.
	Listen  string                `mapstructure:"listen"`
	Sampler metrics.SamplerConfig `mapstructure:"sampler"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Sinks   []string `mapstructure:"sinks"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Core: CoreConfig{
			Mode:        ModeDesktop,
			Kind:        string(proxyconf.DialectSingBox),
			Name:        "core",
			Binary:      "sing-box",
			ProxyHost:   "127.0.0.1",
			StopTimeout: 3 * time.Second,
			InheritEnv:  true,
		},
		SystemProxy: SystemProxyConfig{Backend: sysproxy.BackendAuto},
		VPN:         VPNConfig{Timeout: 5 * time.Second},
		Log:         logger.DefaultConfig(),
		Server:      ServerConfig{Listen: "127.0.0.1:7575", BasePath: "/api"},
		Metrics: MetricsConfig{
			Sampler: metrics.SamplerConfig{Interval: 5 * time.Second},
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("core.mode", d.Core.Mode)
	v.SetDefault("core.kind", d.Core.Kind)
	v.SetDefault("core.name", d.Core.Name)
	v.SetDefault("core.binary", d.Core.Binary)
	v.SetDefault("core.proxy_host", d.Core.ProxyHost)
	v.SetDefault("core.stop_timeout", d.Core.StopTimeout)
	v.SetDefault("core.inherit_env", d.Core.InheritEnv)
	v.SetDefault("system_proxy.backend", d.SystemProxy.Backend)
	v.SetDefault("vpn.timeout", d.VPN.Timeout)
	v.SetDefault("log.slog.level", d.Log.Slog.Level)
	v.SetDefault("log.slog.format", d.Log.Slog.Format)
	v.SetDefault("log.slog.timestamps", d.Log.Slog.TimeStamps)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("metrics.sampler.interval", d.Metrics.Sampler.Interval)
}

// Load reads path (TOML unless the extension says yaml/json) and applies
// PROXYVISR_* environment overrides. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			v.SetConfigType("yaml")
		case ".json":
			v.SetConfigType("json")
		default:
			v.SetConfigType("toml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Core.Mode {
	case ModeDesktop:
		if strings.TrimSpace(c.Core.Binary) == "" {
			errs = append(errs, errors.New("core.binary is required in desktop mode"))
		}
	case ModeVPN:
		if c.VPN.HelperURL == "" {
			errs = append(errs, errors.New("vpn.helper_url is required in vpn mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("core.mode must be %q or %q, got %q", ModeDesktop, ModeVPN, c.Core.Mode))
	}
	if _, err := c.Core.ResolveDialect(); err != nil {
		errs = append(errs, err)
	}
	if c.Core.StopTimeout < 0 {
		errs = append(errs, errors.New("core.stop_timeout must not be negative"))
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		errs = append(errs, errors.New("history.sinks is empty while history is enabled"))
	}
	return errors.Join(errs...)
}

// ResolveDialect returns the configured dialect, falling back to Kind.
func (c CoreConfig) ResolveDialect() (proxyconf.Dialect, error) {
	if c.Dialect != "" {
		return proxyconf.ParseDialect(c.Dialect)
	}
	return proxyconf.ParseDialect(c.Kind)
}

// ProcessSpec builds the launch spec, applying Kind's argument preset when
// no args are configured.
func (c CoreConfig) ProcessSpec(log logger.FileConfig) (process.Spec, error) {
	args := c.Args
	if len(args) == 0 {
		d, err := proxyconf.ParseDialect(c.Kind)
		if err != nil {
			return process.Spec{}, err
		}
		switch d {
		case proxyconf.DialectTrojanGo:
			args = process.TrojanGoArgs
		default:
			args = process.SingBoxArgs
		}
	}
	spec := process.Spec{
		Name:         c.Name,
		Binary:       c.Binary,
		Args:         append([]string(nil), args...),
		WorkDir:      c.WorkDir,
		PIDFile:      c.PIDFile,
		DrainTimeout: c.DrainTimeout,
		Log:          log,
	}
	return spec, spec.Validate()
}

// Environment composes the core's environment: the OS environment when
// InheritEnv is set, then env_files in order, then the env list.
func (c CoreConfig) Environment() (env.Env, error) {
	e := env.Empty()
	if c.InheritEnv {
		e = env.FromOS()
	}
	for _, p := range c.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return e, fmt.Errorf("load env file %s: %w", p, err)
		}
		e = e.WithVars(env.Parse(pairs))
	}
	return e.WithVars(env.Parse(c.Env)), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order. Blank lines, comments and an optional "export " prefix are
// handled; surrounding quotes are stripped.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if n := len(v); n >= 2 && (v[0] == '"' || v[0] == '\'') && v[n-1] == v[0] {
			v = v[1 : n-1]
		}
		if k != "" {
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
