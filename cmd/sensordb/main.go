package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensordb/sensordb/sensordb"
)

const appName = "sensordb"

// Version is set via build flag -ldflags -X main.Version
var Version = "dev"

func main() {
	printVersion := flag.Bool("version", false, "Print version and exit")

	cfg, configVerify, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}
	if *printVersion {
		fmt.Printf("%s, version %s\n", appName, Version)
		os.Exit(0)
	}

	logger := newLogger(cfg.LogLevel)

	if err := cfg.Engine.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}
	if configVerify {
		level.Info(logger).Log("msg", "configuration is valid")
		os.Exit(0)
	}

	level.Info(logger).Log("msg", "starting "+appName, "version", Version, "storage_mode", cfg.Engine.StorageMode)

	engine, err := sensordb.New(cfg.Engine, logger)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create engine", "err", err)
		os.Exit(1)
	}
	rebuilder := sensordb.NewRebuilder(engine, logger)

	router := mux.NewRouter()
	newHandler(engine, rebuilder, logger).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.HTTPListenAddress, cfg.HTTPListenPort)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	stop := make(chan struct{})
	go cleanupLoop(engine, logger, time.Duration(cfg.CleanupIntervalSeconds)*time.Second, stop)

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		level.Info(logger).Log("msg", "shutting down server...")
		close(stop)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			level.Error(logger).Log("msg", "error during shutdown", "err", err)
		}
		close(done)
	}()

	level.Info(logger).Log("msg", "server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		level.Error(logger).Log("msg", "server error", "err", err)
		os.Exit(1)
	}

	<-done
	engine.Shutdown()
	level.Info(logger).Log("msg", "server stopped")
}

func newLogger(logLevel string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	var opt level.Option
	switch logLevel {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

// cleanupLoop runs the engine's cache housekeeping until stop closes.
func cleanupLoop(engine *sensordb.Engine, logger log.Logger, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			engine.CleanupCaches()
			if s := engine.CacheStats(); s != nil {
				level.Debug(logger).Log("msg", "cache state", "entries", s.Entries, "size", humanize.IBytes(uint64(s.Bytes)))
			}
		case <-stop:
			return
		}
	}
}
