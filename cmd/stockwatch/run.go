package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"github.com/coachpo/stockwatch/internal/catalog"
	"github.com/coachpo/stockwatch/internal/config"
	"github.com/coachpo/stockwatch/internal/fetch"
	"github.com/coachpo/stockwatch/internal/monitor"
	"github.com/coachpo/stockwatch/internal/notify"
	httpserver "github.com/coachpo/stockwatch/internal/server/http"
	"github.com/coachpo/stockwatch/internal/state"
	"github.com/coachpo/stockwatch/internal/stock"
	"github.com/coachpo/stockwatch/internal/telemetry"
)

const (
	shutdownTimeout          = 3 * time.Minute
	statusServerShutdown     = 5 * time.Second
	monitorShutdownTimeout   = 2 * time.Minute
	stateShutdownTimeout     = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func runMonitor(cmd *cobra.Command, opts *rootOptions) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()
	cfg, err := loadConfig(ctx, logger, opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Printf("configuration initialised: env=%s, filters=%s, state=%s",
		cfg.Environment, strings.Join(cfg.Filters, ","), cfg.State.Backend)
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.Printf("CRITICAL: telegram credentials missing for %s; their alerts will not be delivered", strings.Join(missing, ", "))
	}

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	instruments, err := telemetry.NewInstruments(telemetryProvider.Meter(telemetry.MeterName), telemetryProvider.Environment())
	if err != nil {
		return fmt.Errorf("initialise instruments: %w", err)
	}

	client, err := buildClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialise http client: %w", err)
	}
	if err := client.Init(ctx); err != nil {
		logger.Printf("fetch: continuing without a warmed-up session: %v", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	ledger := state.NewLedger(store, logger)
	ledger.Load(ctx)

	mon, err := buildMonitor(cfg, client, ledger, buildRouter(cfg, instruments, logger), instruments, logger)
	if err != nil {
		return fmt.Errorf("initialise monitor: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler, err := httpserver.NewHandler(mon, registry)
	if err != nil {
		return fmt.Errorf("initialise status server: %w", err)
	}
	server := httpserver.NewServer(cfg.Server.Addr, handler)

	var lifecycle conc.WaitGroup
	startStatusServer(&lifecycle, logger, server)
	logger.Printf("status server listening on %s", server.Addr)
	lifecycle.Go(func() {
		if err := mon.Run(ctx); err != nil {
			logger.Printf("monitor: %v", err)
		}
	})

	logger.Print("stockwatch started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     server,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		closeStore: closeStore,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
	return nil
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.AppConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
		telemetryCfg.Enabled = cfg.Telemetry.EnableMetrics
	}
	if cfg.Telemetry.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.Telemetry.ServiceName
	}
	telemetryCfg.Environment = string(cfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	telemetryCfg.ServiceVersion = version

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, err
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialised: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func buildClient(cfg config.AppConfig, logger *log.Logger) (*fetch.Client, error) {
	factory := fetch.StandardFactory(cfg.Site.RequestTimeout)
	if cfg.Site.Impersonate {
		factory = fetch.ImpersonatingFactory(cfg.Site.RequestTimeout)
	}
	return fetch.NewClient(fetch.Options{
		BaseURL:           cfg.Site.BaseURL,
		Profiles:          cfg.Site.Profiles,
		Factory:           factory,
		RequestTimeout:    cfg.Site.RequestTimeout,
		WarmupTimeout:     cfg.Site.WarmupTimeout,
		RequestsPerSecond: cfg.Site.RequestsPerSecond,
		Logger:            logger,
	})
}

// buildRouter registers one Telegram destination per filter. The first filter
// receives alerts for categories without a destination of their own.
func buildRouter(cfg config.AppConfig, instruments *telemetry.Instruments, logger *log.Logger) *notify.Router {
	fallback := ""
	if len(cfg.Filters) > 0 {
		fallback = cfg.Filters[0]
	}
	router := notify.NewRouter(fallback, instruments, logger)
	for _, filter := range cfg.Filters {
		dest := cfg.Notify.Destinations[filter]
		router.Add(filter, notify.NewTelegram(notify.TelegramOptions{
			Name:         filter,
			APIBaseURL:   cfg.Notify.APIBaseURL,
			BotToken:     dest.BotToken,
			ChatID:       dest.ChatID,
			Timeout:      cfg.Notify.Timeout,
			CaptionLimit: cfg.Notify.CaptionLimit,
			Logger:       logger,
		}))
	}
	return router
}

func buildMonitor(cfg config.AppConfig, client *fetch.Client, ledger *state.Ledger, router *notify.Router, instruments *telemetry.Instruments, logger *log.Logger) (*monitor.Monitor, error) {
	loc, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Monitor.Timezone, err)
	}
	discovery := catalog.NewDiscovery(client, catalog.DiscoveryOptions{
		CategoryURL: cfg.Site.CategoryURL,
		BaseURL:     cfg.Site.BaseURL,
		PageSize:    cfg.Site.PageSize,
		Workers:     cfg.Monitor.PageWorkers,
		Timeout:     cfg.Site.RequestTimeout,
		Logger:      logger,
	})
	verifier := stock.NewVerifier(client, cfg.Site.BaseURL, cfg.Site.RequestTimeout, logger)
	return monitor.New(monitor.Options{
		Filters:       cfg.Filters,
		Discoverer:    discovery,
		Verifier:      verifier,
		Notifier:      router,
		Ledger:        ledger,
		VerifyWorkers: cfg.Monitor.VerifyWorkers,
		CycleDelayMin: cfg.Monitor.CycleDelayMin,
		CycleDelayMax: cfg.Monitor.CycleDelayMax,
		EmptyBackoff:  cfg.Monitor.EmptyBackoff,
		ResetHour:     cfg.Monitor.ResetHour,
		Location:      loc,
		Instruments:   instruments,
		Logger:        logger,
	})
}

func startStatusServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("status server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	closeStore func() error
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping status server", statusServerShutdown, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for monitor to finish its phase", monitorShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.closeStore != nil {
		shutdownStep("closing state store", stateShutdownTimeout, func(context.Context) error {
			return cfg.closeStore()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
