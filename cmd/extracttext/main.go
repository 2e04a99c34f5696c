// CLAUDE:SUMMARY Entry point for the extraction service: YAML + env config, procrun runner, docpipe + archive pipeline, optional headless browser, webextract, SQLite journal, chi HTTP API with MCP.
// CLAUDE:DEPENDS service, docpipe, archive, webextract, browser, procrun, horosafe, journal, shield
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/extracttext/archive"
	"github.com/hazyhaar/extracttext/browser"
	"github.com/hazyhaar/extracttext/docpipe"
	"github.com/hazyhaar/extracttext/horosafe"
	"github.com/hazyhaar/extracttext/journal"
	"github.com/hazyhaar/extracttext/procrun"
	"github.com/hazyhaar/extracttext/service"
	"github.com/hazyhaar/extracttext/shield"
	"github.com/hazyhaar/extracttext/webextract"
)

func main() {
	procrun.Init()

	configPath := flag.String("config", env("CONFIG", ""), "path to extracttext.yaml (optional)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath); err != nil {
		logger.Error("extracttext: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*service.Config, error) {
	cfg := service.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = service.LoadConfig(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger *slog.Logger, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	runner := procrun.New(procrun.Config{
		DisableLimits:  !cfg.EnableResourceLimits,
		DefaultTimeout: cfg.Pipeline.ToolTimeout,
		Logger:         logger,
	})

	// Headless browser, started lazily on the first JS render.
	var (
		renderer webextract.Renderer
		headless bool
	)
	if cfg.Browser.Enabled {
		bcfg := cfg.Browser.Config
		bcfg.Logger = logger
		if browser.Available(bcfg) {
			mgr := browser.NewManager(bcfg)
			defer mgr.Close()
			renderer = browser.NewRenderer(mgr)
			headless = true
		} else {
			logger.Warn("extracttext: browser enabled but no chrome found, javascript rendering disabled")
		}
	}

	caps := docpipe.DetectCapabilities(cfg.Pipeline, headless)
	logger.Info("extracttext: capabilities",
		"ocr", caps.OCR, "office_conversion", caps.OfficeConversion,
		"page_render", caps.PageRender, "headless_browser", caps.HeadlessBrowser)

	pcfg := cfg.Pipeline
	pcfg.Capabilities = &caps
	pcfg.Runner = runner
	pcfg.Logger = logger
	pipe := docpipe.New(pcfg)

	acfg := cfg.Archive
	acfg.Logger = logger
	archive.New(pipe, acfg)

	guard, err := horosafe.NewValidator(cfg.Security.BlockedHostnames, cfg.Security.BlockedIPRanges)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	web := webextract.New(webextract.Config{
		Pipeline:        pipe,
		Renderer:        renderer,
		URLValidator:    guard.Validate,
		AddrGuard:       guard.CheckAddr,
		MaxFileSize:     cfg.MaxFileSize,
		UserAgent:       cfg.Web.UserAgent,
		HeadTimeout:     time.Duration(cfg.Web.HeadTimeoutSeconds) * time.Second,
		DownloadTimeout: time.Duration(cfg.Web.DownloadTimeoutSeconds) * time.Second,
		Defaults:        cfg.Web.Defaults,
		Logger:          logger,
	})

	opts := []service.Option{service.WithLogger(logger), service.WithCapabilities(caps)}
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer j.Close()
		opts = append(opts, service.WithJournal(j))
	}

	svc, err := service.New(cfg, pipe, web, opts...)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer svc.Close()
	go svc.Run(ctx)

	rl := shield.NewRateLimiter(cfg.RateLimit)
	rl.Start(ctx.Done())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Handler(rl),
		ReadHeaderTimeout: 10 * time.Second,
		// Responses are written after extraction finishes.
		WriteTimeout: cfg.ProcessingTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("extracttext: listening", "addr", cfg.Listen, "workers", cfg.Workers, "mcp", cfg.MCP.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("extracttext: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("extracttext: shutdown", "error", err)
	}
	return nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
