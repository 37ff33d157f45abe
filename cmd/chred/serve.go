package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chred/internal/config"
	"chred/internal/eventloop"
	"chred/internal/httpapi"
	"chred/internal/platform"
	"chred/internal/platform/simwifi"
	"chred/internal/registry"
	"chred/internal/runtime"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	defaultAddr := ""
	if v := os.Getenv("CHRED_ADDR"); v != "" {
		defaultAddr = v
	}
	var (
		addr     string
		nanoapps string
		origins  string
	)
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the runtime and its HTTP API",
		Example: "  chred serve --addr :8080\n  chred serve -c chred.yaml --nanoapps wifi_world",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("nanoapps") {
				cfg.Nanoapps = splitCSV(nanoapps)
			}
			if origins != "" {
				cfg.CORS.Enabled = true
				cfg.CORS.AllowedOrigins = splitCSV(origins)
				cfg = cfg.WithDefaults()
			}
			log := newLogger(cfg, os.Stderr)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultAddr, "HTTP listen address, e.g. :8080 (defaults CHRED_ADDR or config)")
	cmd.Flags().StringVar(&nanoapps, "nanoapps", "", "Comma-separated nanoapps to load (overrides config)")
	cmd.Flags().StringVar(&origins, "cors-origins", "", "Comma-separated allowed CORS origins; enables CORS")
	return cmd
}

// serve runs the runtime and HTTP server until ctx is done or either fails.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clock := platform.NewMonotonicClock()
	simCfg := simwifi.Config{
		MonitorLatency:      cfg.SimWifi.MonitorLatency.Std(),
		ScanLatency:         cfg.SimWifi.ScanLatency.Std(),
		ResultsPerEvent:     cfg.SimWifi.ResultsPerEvent,
		PassiveScanInterval: cfg.SimWifi.PassiveInterval.Std(),
		Clock:               clock,
		Logger:              log,
	}
	if cfg.SimWifi.ResultsTotal > 0 {
		simCfg.AccessPoints = simwifi.DefaultAccessPoints(cfg.SimWifi.ResultsTotal)
	}
	sim := simwifi.New(simCfg)
	defer sim.Close()

	rt, err := runtime.New(runtime.Config{
		MaxEvents:                 cfg.MaxEvents,
		MaxTimerRequests:          cfg.MaxTimerRequests,
		MaxScanMonitorTransitions: cfg.MaxScanMonitorTransitions,
		ScanResultTimeout:         cfg.ScanResultTimeout.Std(),
		Clock:                     clock,
		Wifi:                      sim,
		Logger:                    log,
		FatalHandler: func(err *eventloop.FatalError) {
			log.Fatal().Err(err).Msg("runtime invariant violated")
		},
	})
	if err != nil {
		return err
	}
	entries, err := registry.Resolve(cfg.Nanoapps)
	if err != nil {
		return err
	}
	if err := registry.LoadAll(rt, entries); err != nil {
		return err
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetDumpTimeout(cfg.DumpTimeout.Std())
	httpapi.SetCORSOptions(cfg.CORS.Enabled, cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- rt.Run(ctx)
	}()
	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("boot_id", rt.BootID()).Strs("nanoapps", cfg.Nanoapps).Msg("chred listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var result error
	runDone := false
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-srvErr:
		log.Error().Err(err).Msg("server error")
		result = err
	case err := <-runErr:
		// The loop only returns early on a startup error.
		log.Error().Err(err).Msg("runtime exited")
		result = err
		runDone = true
	}

	cancel()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if !runDone {
		select {
		case err := <-runErr:
			if err != nil && result == nil {
				result = err
			}
		case <-shutdownCtx.Done():
			log.Warn().Msg("runtime did not stop before shutdown timeout")
		}
	}
	return result
}
