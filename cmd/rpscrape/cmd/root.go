package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"rpscrape/internal/config"
	"rpscrape/internal/crawler"
)

// Settings files tried in order when --config is not given.
var defaultConfigPaths = []string{
	"settings/user_settings.yaml",
	"settings/default_settings.yaml",
}

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "rpscrape",
	Short:         "Scrape horse racing results",
	Long:          `Downloads race results by date or by course and writes one CSV row per runner.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default settings/user_settings.yaml, then settings/default_settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file with RPSCRAPE_* overrides")
}

func loadConfig() (config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, _, err = config.LoadFirst(defaultConfigPaths...)
	}
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	return *cfg, nil
}

// session is the engine plus the optional metrics listener for one command.
type session struct {
	engine  *crawler.Engine
	metrics *http.Server
}

func openSession(cfg config.Config) (*session, error) {
	logger, err := crawler.BuildLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return nil, err
	}

	opts := crawler.EngineOptions{Logger: logger}
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		opts.Registerer = reg
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", cfg.Metrics.Addr)
	}

	engine, err := crawler.NewEngine(cfg, opts)
	if err != nil {
		if srv != nil {
			_ = srv.Close()
		}
		return nil, fmt.Errorf("initialise engine: %w", err)
	}
	return &session{engine: engine, metrics: srv}, nil
}

func (s *session) logger() *slog.Logger {
	return s.engine.Logger()
}

func (s *session) Close() error {
	var errs []error
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.metrics.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, s.engine.Close())
	return errors.Join(errs...)
}
