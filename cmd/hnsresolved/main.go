// Command hnsresolved runs the HNS-Resolve recursive name daemon: a UDP/TCP
// DNS listener fronting the Handshake-aware resolver chain, plus an optional
// management REST API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jroosing/hnsresolve/internal/api"
	"github.com/jroosing/hnsresolve/internal/config"
	"github.com/jroosing/hnsresolve/internal/logging"
	"github.com/jroosing/hnsresolve/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	configPath string
	host       string
	port       int
	workers    int
	noTCP      bool
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override DNS server bind host")
	flag.IntVar(&f.port, "port", 0, "Override DNS server bind port")
	flag.IntVar(&f.workers, "workers", -1, "Clamp GOMAXPROCS (can only reduce; -1 means default/auto)")
	flag.BoolVar(&f.noTCP, "no-tcp", false, "Disable TCP server")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.workers >= 0 {
		cfg.Server.Workers.Mode = config.WorkersFixed
		cfg.Server.Workers.Value = f.workers
	}
	if f.noTCP {
		cfg.Server.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfgPath := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("hnsresolved starting",
		"config", cfgPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"tcp", cfg.Server.EnableTCP,
		"handshake_tlds", cfg.Handshake.RegisteredTLDs,
	)

	runner := server.NewRunner(logger)

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, logger)
		runner.SetAPIHandler(apiSrv.Handler())
		logger.Info("management API starting", "addr", apiSrv.Addr())
		go func() {
			serveErr := apiSrv.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("API server error", "err", serveErr)
		}()
	}

	err = runner.Run(cfg)

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(shutdownCtx)
		shutdownCancel()
		logger.Info("management API stopped")
	}

	if err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
