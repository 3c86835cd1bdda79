package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coachpo/stockwatch/internal/config"
	"github.com/coachpo/stockwatch/internal/state"
)

const (
	defaultConfigPath = "config/stockwatch.yaml"
	defaultEnvFile    = ".env"
	loggerPrefix      = "stockwatch "
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "stockwatch",
		Short:         "Watch storefront listings and alert on restocks",
		Long:          "stockwatch polls the category listings for every configured filter, verifies live stock on each product page and sends a Telegram alert when a product comes back in stock.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd, opts)
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (default: "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "Dotenv file loaded before reading the environment")

	rootCmd.AddCommand(
		newCleanStateCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

// loadConfig loads the dotenv file, then the YAML file (or defaults) with environment overrides.
func loadConfig(ctx context.Context, logger *log.Logger, opts *rootOptions) (config.AppConfig, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return config.AppConfig{}, err
	}
	path := resolveConfigPath(opts.configPath)
	cfg, fromFile, err := config.LoadOrDefault(ctx, path)
	if err != nil {
		return config.AppConfig{}, err
	}
	if !fromFile {
		logger.Printf("configuration file %s not found, using defaults", path)
	}
	return cfg, nil
}

// openStore builds the snapshot backend selected by cfg. The returned func releases it.
func openStore(ctx context.Context, cfg config.AppConfig, logger *log.Logger) (state.RawStore, func() error, error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		r := cfg.State.Redis
		store, err := state.NewRedisStoreFromURL(r.URL, r.Addr, r.Password, r.DB, r.Key, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Ping(ctx); err != nil {
			logger.Printf("state: warning: redis not reachable yet: %v", err)
		}
		return store, store.Close, nil
	default:
		return state.NewFileStore(cfg.State.Path, logger), func() error { return nil }, nil
	}
}
