// Command telemetryd runs the packet pipeline: memory pools, a packet
// factory, a default simulation source, a subscription manager, and a
// dispatcher wired together by internal/manager. Grounded on the
// teacher's cmd/main.go (go-server/cmd/main.go), generalized from an
// HTTP+WebSocket server entrypoint to the packet pipeline's own
// composition root.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/automaxprocs/maxprocs"

	"odin-telemetry/internal/config"
	"odin-telemetry/internal/logging"
	"odin-telemetry/internal/manager"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to a YAML/JSON config file (optional)")
		envFile    = flag.String("env", "", "path to a .env file (optional)")
	)
	flag.Parse()

	bootLogger := logging.New(logging.Config{Service: "odin-telemetry", Level: logging.LevelInfo, Format: logging.FormatJSON})

	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		bootLogger.Info().Msgf(format, args...)
	})); err != nil {
		bootLogger.Warn().Err(err).Msg("failed to set GOMAXPROCS from cgroup limits")
	}

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(cfg.Logging)

	m := manager.New(log)
	if err := m.Initialize(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize packet manager")
	}
	if err := m.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start packet manager")
	}
	log.Info().Msg("packet manager started")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if m.State() != manager.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			State      string      `json:"state"`
			Dispatcher interface{} `json:"dispatcher"`
			Pools      interface{} `json:"pools"`
			Errors     []string    `json:"recent_errors"`
		}{
			State:      m.State().String(),
			Dispatcher: m.Dispatcher.Stats(),
			Pools:      m.Pools.AllStats(),
			Errors:     m.Errors(),
		})
	})
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("http endpoints listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	if err := m.Stop(); err != nil {
		log.Error().Err(err).Msg("packet manager shutdown error")
	}
}
