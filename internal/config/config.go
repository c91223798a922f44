// Package config loads and validates monitor configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/politeping/politeping/internal/keyword"
	"github.com/politeping/politeping/internal/monitor"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Logging   LoggingConfig      `mapstructure:"logging"`
	Monitor   MonitorConfig      `mapstructure:"monitor"`
	Keywords  KeywordsConfig     `mapstructure:"keywords"`
	Endpoints []monitor.Endpoint `mapstructure:"endpoints"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MonitorConfig holds probe timing, rate limiting, and scan tunables.
type MonitorConfig struct {
	UserAgent                  string  `mapstructure:"user_agent"`
	ConnectTimeoutSeconds      float64 `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds         float64 `mapstructure:"read_timeout_seconds"`
	TotalTimeoutSeconds        float64 `mapstructure:"total_timeout_seconds"`
	TTFBSLASeconds             float64 `mapstructure:"ttfb_sla_seconds"`
	HostMinIntervalSeconds     float64 `mapstructure:"host_min_interval_seconds"`
	EndpointMinIntervalSeconds float64 `mapstructure:"endpoint_min_interval_seconds"`
	GlobalMaxConcurrency       int     `mapstructure:"global_max_concurrency"`
	PerHostConcurrency         int     `mapstructure:"per_host_concurrency"`
	PolitenessDelayMs          int     `mapstructure:"politeness_delay_ms"`
	RobotsTimeoutSeconds       float64 `mapstructure:"robots_timeout_seconds"`
	RobotsTTLHours             float64 `mapstructure:"robots_ttl_hours"`
	MaxBytesToScan             int64   `mapstructure:"max_bytes_to_scan"`
}

// KeywordsConfig is the raw keyword document plus matcher settings.
type KeywordsConfig struct {
	keyword.RuleSet `mapstructure:",squash"`
	Settings        KeywordSettings `mapstructure:"settings"`
}

// KeywordSettings toggles text normalization for matching.
type KeywordSettings struct {
	CaseInsensitive     bool `mapstructure:"case_insensitive"`
	NormalizeWhitespace bool `mapstructure:"normalize_whitespace"`
}

// Load builds a Config from disk and environment. The key delimiter
// is "::" rather than viper's default "." so that hostname map keys
// like "law.go.kr" and "*.go.kr" in the keyword config stay single
// keys instead of being split into nested paths.
func Load(path string) (Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetEnvPrefix("POLITEPING")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server::port", 8080)
	v.SetDefault("logging::development", false)
	v.SetDefault("monitor::user_agent", "politeping/1.0 (+contact@example.com)")
	v.SetDefault("monitor::connect_timeout_seconds", 5)
	v.SetDefault("monitor::read_timeout_seconds", 8)
	v.SetDefault("monitor::total_timeout_seconds", 12)
	v.SetDefault("monitor::ttfb_sla_seconds", 8)
	v.SetDefault("monitor::host_min_interval_seconds", 60)
	v.SetDefault("monitor::endpoint_min_interval_seconds", 600)
	v.SetDefault("monitor::global_max_concurrency", 3)
	v.SetDefault("monitor::per_host_concurrency", 1)
	v.SetDefault("monitor::politeness_delay_ms", 200)
	v.SetDefault("monitor::robots_timeout_seconds", 3)
	v.SetDefault("monitor::robots_ttl_hours", 24)
	v.SetDefault("monitor::max_bytes_to_scan", 3_000_000)
	v.SetDefault("keywords::settings::case_insensitive", true)
	v.SetDefault("keywords::settings::normalize_whitespace", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Monitor.GlobalMaxConcurrency <= 0 {
		return fmt.Errorf("monitor.global_max_concurrency must be > 0")
	}
	if c.Monitor.PerHostConcurrency <= 0 {
		return fmt.Errorf("monitor.per_host_concurrency must be > 0")
	}
	if c.Monitor.TotalTimeoutSeconds <= 0 {
		return fmt.Errorf("monitor.total_timeout_seconds must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d]: name is required", i)
		}
		u, err := url.Parse(ep.URL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("endpoints[%d] (%s): url must be absolute", i, ep.Name)
		}
		if _, dup := seen[ep.URL]; dup {
			return fmt.Errorf("endpoints[%d] (%s): duplicate url %s", i, ep.Name, ep.URL)
		}
		seen[ep.URL] = struct{}{}
	}
	return nil
}

// Duration helpers converting the second/ms knobs into time.Duration.

// ConnectTimeout returns the per-connection dial budget.
func (m MonitorConfig) ConnectTimeout() time.Duration {
	return secondsToDuration(m.ConnectTimeoutSeconds)
}

// ReadTimeout returns the response-header wait budget.
func (m MonitorConfig) ReadTimeout() time.Duration {
	return secondsToDuration(m.ReadTimeoutSeconds)
}

// TotalTimeout returns the whole-request budget.
func (m MonitorConfig) TotalTimeout() time.Duration {
	return secondsToDuration(m.TotalTimeoutSeconds)
}

// TTFBSLA returns the latency threshold separating OK from UNSTABLE.
func (m MonitorConfig) TTFBSLA() time.Duration {
	return secondsToDuration(m.TTFBSLASeconds)
}

// HostMinInterval returns the minimum spacing between probes of one host.
func (m MonitorConfig) HostMinInterval() time.Duration {
	return secondsToDuration(m.HostMinIntervalSeconds)
}

// EndpointMinInterval returns the minimum spacing between probes of one endpoint.
func (m MonitorConfig) EndpointMinInterval() time.Duration {
	return secondsToDuration(m.EndpointMinIntervalSeconds)
}

// PolitenessDelay returns the fixed pause inserted before each request.
func (m MonitorConfig) PolitenessDelay() time.Duration {
	return time.Duration(m.PolitenessDelayMs) * time.Millisecond
}

// RobotsTimeout returns the robots.txt fetch budget.
func (m MonitorConfig) RobotsTimeout() time.Duration {
	return secondsToDuration(m.RobotsTimeoutSeconds)
}

// RobotsTTL returns the robots cache lifetime.
func (m MonitorConfig) RobotsTTL() time.Duration {
	return time.Duration(m.RobotsTTLHours * float64(time.Hour))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
