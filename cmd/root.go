// Package cmd defines the CLI commands for the politeping executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/politeping/politeping/internal/checker"
	"github.com/politeping/politeping/internal/clock/system"
	"github.com/politeping/politeping/internal/config"
	"github.com/politeping/politeping/internal/id/uuid"
	"github.com/politeping/politeping/internal/keyword"
	"github.com/politeping/politeping/internal/logging"
	"github.com/politeping/politeping/internal/probe"
	"github.com/politeping/politeping/internal/ratelimit"
	"github.com/politeping/politeping/internal/robots"
	"github.com/politeping/politeping/internal/textnorm"
)

var (
	cfgFile string
	devLog  bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "politeping",
		Short: "A polite health monitor for public endpoints",
		Long: `politeping periodically probes a fixed set of external endpoints,
respecting robots.txt and per-host rate limits, and classifies health
from HTTP status, latency, and outage keywords found in page content.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&devLog, "dev", false, "enable development logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves the config file and logger from the persistent flags.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(devLog || cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// buildChecker wires the monitoring object graph from configuration.
func buildChecker(cfg config.Config, logger *zap.Logger) *checker.Checker {
	clk := system.New()

	normalizer := textnorm.New(textnorm.Options{
		NFKC:                true,
		NormalizeWhitespace: cfg.Keywords.Settings.NormalizeWhitespace,
		Lowercase:           cfg.Keywords.Settings.CaseInsensitive,
	})
	matcher := keyword.Compile(cfg.Keywords.RuleSet, cfg.Keywords.Settings.CaseInsensitive, logger)

	gate := robots.New(robots.Config{
		UserAgent: cfg.Monitor.UserAgent,
		Timeout:   cfg.Monitor.RobotsTimeout(),
		TTL:       cfg.Monitor.RobotsTTL(),
	}, clk, logger)

	rate := ratelimit.New(ratelimit.Config{
		GlobalMaxConcurrency: cfg.Monitor.GlobalMaxConcurrency,
		PerHostConcurrency:   cfg.Monitor.PerHostConcurrency,
	}, clk)

	executor := probe.New(probe.Config{
		UserAgent:      cfg.Monitor.UserAgent,
		ConnectTimeout: cfg.Monitor.ConnectTimeout(),
		ReadTimeout:    cfg.Monitor.ReadTimeout(),
		TotalTimeout:   cfg.Monitor.TotalTimeout(),
		MaxScanBytes:   cfg.Monitor.MaxBytesToScan,
	}, normalizer, logger)

	return checker.New(gate, rate, executor, matcher, normalizer, clk, uuid.New(), checker.Config{
		HostMinInterval:     cfg.Monitor.HostMinInterval(),
		EndpointMinInterval: cfg.Monitor.EndpointMinInterval(),
		TTFBSLA:             cfg.Monitor.TTFBSLA(),
		PolitenessDelay:     cfg.Monitor.PolitenessDelay(),
	}, logger)
}
