// Package main implements the entry point for the shopcore service: the
// storefront's resilient integration layer for the commerce backend and
// the payment gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/kadochi/shopcore/checkout"
	"github.com/kadochi/shopcore/config"
	"github.com/kadochi/shopcore/health"
	"github.com/kadochi/shopcore/metric"
	"github.com/kadochi/shopcore/payment"
	"github.com/kadochi/shopcore/pkg/worker"
	"github.com/kadochi/shopcore/server"
	"github.com/kadochi/shopcore/upstream"
)

const (
	appName = "shopcore"
	version = "0.1.0"
)

type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	validate    bool
	showVersion bool
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags := parseFlags()

	if flags.showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}

	logger := setupLogger(flags.logLevel, flags.logFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if flags.validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting shopcore",
		"version", version,
		"backend", cfg.Backend.BaseURL,
		"gateway_env", cfg.Gateway.Environment)

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()
	monitor := health.NewMonitor()

	backend, err := upstream.New(upstream.Config{
		BaseURL:    cfg.Backend.BaseURL,
		RelayURL:   cfg.Backend.RelayURL,
		Credential: cfg.Backend.Credential,
		Timeout:    cfg.Backend.Timeout.Std(),
	},
		upstream.WithLogger(logger.With("component", "upstream")),
		upstream.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	monitor.UpdateHealthy("upstream", "configured")
	metrics.HealthCheckStatus.WithLabelValues("upstream").Set(1)

	gateway, err := payment.New(payment.Config{
		MerchantID:  cfg.Gateway.MerchantID,
		Environment: cfg.Gateway.Environment,
		Timeout:     cfg.Gateway.Timeout.Std(),
	},
		payment.WithLogger(logger.With("component", "payment")),
		payment.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	monitor.UpdateHealthy("gateway", "configured")
	metrics.HealthCheckStatus.WithLabelValues("gateway").Set(1)

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	updates := worker.NewPool(4, 256, orderUpdateProcessor(backend, logger),
		worker.WithMetricsRegistry[checkout.OrderUpdate](registry, "order_updates"))
	if err := updates.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := updates.Stop(5 * time.Second); err != nil {
			slog.Warn("order update pool did not drain", "error", err)
		}
	}()

	flow := checkout.NewFlow(checkout.Config{
		CallbackURL:   cfg.Gateway.CallbackURL,
		SuccessPath:   cfg.Checkout.SuccessPath,
		FailurePath:   cfg.Checkout.FailurePath,
		StashTTL:      cfg.Checkout.StashTTL.Std(),
		LookupTimeout: cfg.Checkout.LookupTimeout.Std(),
	}, gateway,
		checkout.WithAmountLookup(&checkout.OrderTotalLookup{Client: backend}),
		checkout.WithOrderUpdater(updates),
		checkout.WithLogger(logger.With("component", "checkout")),
		checkout.WithMetrics(metrics),
	)
	defer flow.Close()

	srv, err := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    cfg.Server.WriteTimeout.Std(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
		AllowedOrigins:  cfg.Backend.RelayAllowedOrigins,
		RelayRate:       100,
		RelayBurst:      20,
	}, flow, backend,
		server.WithHealthMonitor(monitor),
		server.WithMetricsRegistry(registry),
		server.WithLogger(logger.With("component", "server")),
	)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

// orderUpdateProcessor attaches the gateway reference to the order record
// on the backend. Best effort; a failure is logged and dropped.
func orderUpdateProcessor(backend *upstream.Client, logger *slog.Logger) func(context.Context, checkout.OrderUpdate) error {
	return func(ctx context.Context, update checkout.OrderUpdate) error {
		uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		body := fmt.Sprintf(`{"transaction_id":%d,"card_mask":%q,"authority":%q}`,
			update.RefID, update.CardMask, update.Authority)
		_, err := backend.Call(uctx, upstream.Descriptor{
			Method: "POST",
			Path:   "/orders/" + update.OrderID + "/payment",
			Body:   []byte(body),
		})
		if err != nil {
			logger.Warn("order record update failed",
				"order", update.OrderID, "error", err)
		}
		return err
	}
}

func parseFlags() *cliFlags {
	flags := &cliFlags{}
	flag.StringVar(&flags.configPath, "config", "", "Path to JSON or YAML configuration file")
	flag.StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&flags.logFormat, "log-format", "text", "Log format (text, json)")
	flag.BoolVar(&flags.validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&flags.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return flags
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
