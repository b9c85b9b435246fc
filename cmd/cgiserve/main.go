package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Brownie44l1/cgiserve/internal/cgi"
	"github.com/Brownie44l1/cgiserve/internal/config"
	"github.com/Brownie44l1/cgiserve/internal/dispatch"
	"github.com/Brownie44l1/cgiserve/internal/logger"
	"github.com/Brownie44l1/cgiserve/internal/resolve"
	"github.com/Brownie44l1/cgiserve/internal/server"
	"github.com/Brownie44l1/cgiserve/internal/static"
)

var (
	configFile string
	overrides  = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "cgiserve [flags] [PORT ROOT]",
	Short: "Serve files from ROOT and run scripts from ROOT/scripts over HTTP/1.0.",
	Long: `Serve a directory over plaintext HTTP.

Files are served as-is with a Content-Type chosen from their extension and
directories get an HTML listing. Requests for /scripts/... execute the file
below ROOT/scripts; the request body goes to its stdin, request headers, query
parameters, Method and Path go to its environment, and its stdout becomes the
response. Every connection carries exactly one request.`,
	Args:          cobra.MatchAll(cobra.RangeArgs(0, 2), oneOrNone),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	f.Uint16VarP(&overrides.Port, "port", "p", overrides.Port, "TCP port to listen on")
	f.StringVarP(&overrides.Root, "root", "r", overrides.Root, "directory to serve")
	f.DurationVar(&overrides.ReadTimeout, "read-timeout", overrides.ReadTimeout, "time allowed to receive a request")
	f.DurationVar(&overrides.WriteTimeout, "write-timeout", overrides.WriteTimeout, "time allowed to send a response")
	f.DurationVar(&overrides.ScriptTimeout, "script-timeout", overrides.ScriptTimeout, "time a script may run before it is killed")
	f.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", overrides.ShutdownTimeout, "time to wait for in-flight requests on shutdown")
	f.Int64Var(&overrides.MaxConnections, "max-connections", overrides.MaxConnections, "connections served concurrently")
	f.Int64Var(&overrides.MaxBodyBytes, "max-body-bytes", overrides.MaxBodyBytes, "largest accepted request body")
	f.IntVar(&overrides.MaxHeaderBytes, "max-header-bytes", overrides.MaxHeaderBytes, "largest accepted request line and header block")
	f.Int64Var(&overrides.CacheMaxBytes, "cache-bytes", overrides.CacheMaxBytes, "static file cache size, 0 disables it")
	f.StringSliceVar(&overrides.InheritEnv, "inherit-env", overrides.InheritEnv, "environment variables passed on to scripts")
	f.StringVar(&overrides.LogLevel, "log-level", overrides.LogLevel, "debug, info, warn or error")
}

func oneOrNone(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return errors.New("PORT and ROOT must be given together")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cgiserve:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	log := logger.NewDefaultLogger(os.Stderr, level)

	srv, cleanup, err := build(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", logger.F("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete, closing connections", logger.F("error", err))
		srv.Close()
	}

	stats := srv.Metrics().Snapshot()
	log.Info("final stats",
		logger.F("requests", stats.RequestsTotal),
		logger.F("errors_4xx", stats.Errors4xx),
		logger.F("errors_5xx", stats.Errors5xx),
		logger.F("rejected", stats.RejectedRequests),
		logger.F("avg_latency", stats.AverageLatency))
	return nil
}

// loadConfig layers defaults, the optional config file, explicitly set
// flags and finally the positional PORT ROOT pair.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("port", func() { cfg.Port = overrides.Port })
	set("root", func() { cfg.Root = overrides.Root })
	set("read-timeout", func() { cfg.ReadTimeout = overrides.ReadTimeout })
	set("write-timeout", func() { cfg.WriteTimeout = overrides.WriteTimeout })
	set("script-timeout", func() { cfg.ScriptTimeout = overrides.ScriptTimeout })
	set("shutdown-timeout", func() { cfg.ShutdownTimeout = overrides.ShutdownTimeout })
	set("max-connections", func() { cfg.MaxConnections = overrides.MaxConnections })
	set("max-body-bytes", func() { cfg.MaxBodyBytes = overrides.MaxBodyBytes })
	set("max-header-bytes", func() { cfg.MaxHeaderBytes = overrides.MaxHeaderBytes })
	set("cache-bytes", func() { cfg.CacheMaxBytes = overrides.CacheMaxBytes })
	set("inherit-env", func() { cfg.InheritEnv = overrides.InheritEnv })
	set("log-level", func() { cfg.LogLevel = overrides.LogLevel })

	if len(args) == 2 {
		port, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", args[0])
		}
		cfg.Port = uint16(port)
		cfg.Root = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// build wires the request pipeline for cfg.
func build(cfg *config.Config, log logger.Logger) (*server.Server, func(), error) {
	resolver, err := resolve.New(cfg.Root)
	if err != nil {
		return nil, nil, err
	}

	files, err := static.NewServer(static.Options{CacheMaxBytes: cfg.CacheMaxBytes, Logger: log})
	if err != nil {
		return nil, nil, err
	}

	bridge, err := cgi.NewBridge(cgi.Config{
		ScriptsDir: cfg.ScriptsDir(),
		Runner:     &cgi.ExecRunner{},
		Timeout:    cfg.ScriptTimeout,
		InheritEnv: cfg.InheritEnv,
		Logger:     log,
	})
	if err != nil {
		files.Close()
		return nil, nil, err
	}

	metrics := server.NewMetrics()
	handler := server.Chain(
		dispatch.New(resolver, files, bridge, log),
		server.RecoveryMiddleware(log),
		server.LoggingMiddleware(log),
		server.MetricsMiddleware(metrics),
	)

	srv := server.New(handler, server.Options{
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxConnections: cfg.MaxConnections,
		Limits:         cfg.RequestLimits(),
		Logger:         log,
		Metrics:        metrics,
	})
	log.Info("serving",
		logger.F("root", resolver.Root()),
		logger.F("scripts", bridge.ScriptsRoot()),
		logger.F("port", cfg.Port))
	return srv, files.Close, nil
}
