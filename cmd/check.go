package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/politeping/politeping/internal/metrics"
	"github.com/politeping/politeping/internal/monitor"
)

var csvHeader = []string{
	"timestamp", "name", "url", "domain", "http_status", "ttfb_ms",
	"outcome", "matched_keywords", "title", "content_sha256",
	"robots_decision", "error",
}

func newCheckCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Runs one check cycle and writes the records as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckCommand(cmd, outPath)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV file (default stdout)")
	return cmd
}

func runCheckCommand(cmd *cobra.Command, outPath string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer syncLogger(logger)

	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	metrics.Init()
	chk := buildChecker(cfg, logger)
	results := chk.RunCycle(cmd.Context(), cfg.Endpoints)

	out := io.Writer(os.Stdout)
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("close output file", zap.Error(cerr))
			}
		}()
		out = f
	}

	if err := writeCSV(out, results); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	logger.Info("check cycle finished", zap.Int("endpoints", len(results)))
	return nil
}

func writeCSV(out io.Writer, results []monitor.CheckResult) error {
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, res := range results {
		status := ""
		if res.HTTPStatus != nil {
			status = strconv.Itoa(*res.HTTPStatus)
		}
		row := []string{
			res.Timestamp.Format(time.RFC3339),
			res.Name,
			res.URL,
			res.Domain,
			status,
			strconv.FormatFloat(res.TTFBMs, 'f', 1, 64),
			string(res.Outcome),
			res.MatchedKeywords,
			res.Title,
			res.ContentSHA256,
			string(res.Robots),
			res.Error,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
