package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chred/internal/config"
)

// options collects flags shared by every subcommand.
type options struct {
	configPath string
	logLevel   string
	logFormat  string
}

func buildRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chred",
		Short:         "Context hub runtime daemon with simulated WiFi",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CHRED_CONFIG"), "Config file (.yaml|.yml|.json|.toml; defaults CHRED_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: console|json (overrides config)")

	root.AddCommand(newServeCmd(opts), newDumpCmd(), newConfigCmd(opts), newNanoappsCmd())
	return root
}

// loadConfig reads the optional config file and applies the persistent flag
// overrides. Defaults are filled in and the result validated.
func loadConfig(opts *options) (config.Config, error) {
	var cfg config.Config
	if opts.configPath != "" {
		c, err := config.Load(opts.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = c
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.LogFormat = opts.logFormat
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Level and format are validated by
// config.Validate.
func newLogger(cfg config.Config, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	out := w
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "chred").Logger()
}

// splitCSV splits a comma-separated flag value, dropping empty items.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
