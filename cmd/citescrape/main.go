// citescrape serves the crawl engine's tool surface over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyrup-ai/kodegen-tools-citescrape/api"
	"github.com/cyrup-ai/kodegen-tools-citescrape/cache"
	"github.com/cyrup-ai/kodegen-tools-citescrape/config"
	"github.com/cyrup-ai/kodegen-tools-citescrape/crawler"
	"github.com/cyrup-ai/kodegen-tools-citescrape/driver"
	"github.com/cyrup-ai/kodegen-tools-citescrape/stealth"
	"github.com/cyrup-ai/kodegen-tools-citescrape/websearch"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("citescrape starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"outputDir", cfg.Crawl.OutputDir,
	)

	// ── 3. Initialise page driver (launches browser) ────────────────
	profile := stealth.NewProfile(cfg.Browser.WebGLVendor, cfg.Browser.WebGLRenderer)
	drv := driver.NewFallback(
		driver.NewHTTP(cfg.Browser.DefaultProxy),
		driver.NewRod(cfg.Browser, profile),
	)
	if err := drv.Prepare(context.Background()); err != nil {
		slog.Error("failed to prepare page driver", "error", err)
		os.Exit(1)
	}
	defer drv.Close()

	// ── 4. Initialise crawl manager + web search ────────────────────
	manager := crawler.NewManager(drv)
	defer manager.Shutdown()

	serpCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer serpCache.Stop()
	searcher := websearch.New(drv, serpCache)

	// ── 5. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(manager, searcher, cfg, startTime)

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// manager.Shutdown and drv.Close run via defer.
	slog.Info("citescrape stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
