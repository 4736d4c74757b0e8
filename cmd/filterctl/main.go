// Command filterctl is a local debug/ops HTTP server wrapping one Engine.
// It is not part of the FFI ABI surface — libadfilter's six C symbols are
// the only stability-guaranteed boundary — but exists so an operator can
// exercise the engine, watch its metrics, and trigger a filter-list refresh
// from a shell, the same way an ops server lets an operator exercise its
// own request-handling rules.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianmobile/adfilter/engine"
	"github.com/meridianmobile/adfilter/internal/config"
	"github.com/meridianmobile/adfilter/internal/logging"
	"github.com/meridianmobile/adfilter/internal/updater"
)

func getTraceID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return uuid.New().String()
}

func handleStatus() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
}

func handleShouldBlock(l *slog.Logger, e *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := l.WithGroup("should_block").With("correlation_id", getTraceID(r))

		url := r.URL.Query().Get("url")
		if url == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "missing url query parameter"})
			return
		}

		d := e.ShouldBlock(url)
		logger.Debug("evaluated should_block", "url", url, "block", d.ShouldBlock)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"url":           url,
			"shouldBlock":   d.ShouldBlock,
			"matchedRuleId": d.MatchedRuleID,
		})
	})
}

func handleStats(e *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(e.GetStatistics())
	})
}

func handlePerformance(e *engine.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(e.GetPerformanceMetrics())
	})
}

func handleReload(l *slog.Logger, e *engine.Engine, u *updater.Updater) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		logger := l.WithGroup("reload").With("correlation_id", getTraceID(r))
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		meta, err := e.RunUpdate(ctx, u)
		if err != nil {
			logger.Error("reload failed", "err", err.Error())
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"performance":        e.GetPerformanceMetrics(),
			"source":             meta.SourceURL,
			"ruleCount":          meta.RuleCount,
			"perSourceRuleCount": meta.PerSourceRC,
			"sourcesInOrder":     updater.SortedSourceKeys(meta.PerSourceRC),
		})
	})
}

func newMetricsServer() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newServer(l *slog.Logger, e *engine.Engine, u *updater.Updater) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/should_block", handleShouldBlock(l, e))
	mux.Handle("/stats", handleStats(e))
	mux.Handle("/performance", handlePerformance(e))
	mux.Handle("/reload", handleReload(l, e, u))
	mux.Handle("/status", handleStatus())
	return mux
}

// watchCacheFile watches cfg.CacheDir/easylist.txt and reloads e's filter
// list whenever it changes on disk, mirroring a config-reloader's watch on
// its own source file and swap-in of a freshly parsed value.
func watchCacheFile(ctx context.Context, l *slog.Logger, cfg *config.Config, e *engine.Engine) {
	logger := l.WithGroup("filewatch").With("cache_dir", cfg.CacheDir)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create file watcher", "err", err.Error())
		return
	}
	defer watcher.Close()

	if err := watcher.Add(cfg.CacheDir); err != nil {
		logger.Warn("failed to watch cache dir, hot reload disabled", "err", err.Error())
		return
	}
	logger.Info("watching cache dir for filter list changes")

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down file watcher")
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != cfg.CacheDir+"/"+updater.CacheFileName {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			text, err := updater.LoadCachedList(cfg.CacheDir)
			if err != nil {
				logger.Error("failed to reload cache file", "err", err.Error())
				continue
			}
			parseErrs := e.LoadFilterList(text)
			logger.Info("reloaded filter list from disk change", "parse_errors", parseErrs)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("file watcher error, continuing", "err", err.Error())
		}
	}
}

// backgroundUpdater periodically checks updater.NeedsUpdate and, if due,
// runs a full update cycle and applies the result to e.
func backgroundUpdater(ctx context.Context, l *slog.Logger, cfg *config.Config, e *engine.Engine, u *updater.Updater) {
	logger := l.WithGroup("background_updater")
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			meta, err := updater.LoadMeta(cfg.CacheDir)
			if err != nil {
				logger.Warn("failed to read update metadata", "err", err.Error())
				continue
			}
			if !u.NeedsUpdate(meta) {
				continue
			}
			if _, err := e.RunUpdate(ctx, u); err != nil {
				logger.Warn("scheduled update failed, keeping existing filter list", "err", err.Error())
			}
		}
	}
}

func server(ctx context.Context, logger *slog.Logger) error {
	confPath, ok := os.LookupEnv("CONFIG_PATH")
	if !ok {
		confPath = "./filterctl.yaml"
	}

	cfg, err := config.Load(logger, confPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	reg := prometheus.NewRegistry()
	e := engine.New(engine.Config{
		Logger:         logger,
		CacheCapacity:  cfg.CacheCapacity,
		RecentCapacity: cfg.RecentCapacity,
		Registerer:     reg,
	})

	if cached, err := updater.LoadCachedList(cfg.CacheDir); err != nil {
		logger.Warn("failed to read cached filter list", "err", err.Error())
	} else if cached != "" {
		e.LoadFilterList(cached)
	}

	u := updater.New(logger, updater.Config{
		CacheDir:       cfg.CacheDir,
		Sources:        cfg.UpdateSources,
		UpdateInterval: cfg.UpdateInterval(),
	})

	go watchCacheFile(ctx, logger, cfg, e)
	go backgroundUpdater(ctx, logger, cfg, e, u)

	srv := newServer(logger, e, u)
	s := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv,
		ReadTimeout:       2 * time.Second,
		ReadHeaderTimeout: 1 * time.Second,
		WriteTimeout:      2 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	msrv := newMetricsServer()
	ms := &http.Server{
		Addr:         cfg.MetricsServerListenAddress,
		Handler:      msrv,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		IdleTimeout:  1 * time.Minute,
	}

	go func() {
		logger.WithGroup("server").Info("starting server", "listen_address", cfg.ListenAddress)
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithGroup("server").Error("error serving", "err", err.Error())
			os.Exit(1)
		}
	}()

	go func() {
		logger.WithGroup("metrics_server").Info("starting metrics", "listen_address", cfg.MetricsServerListenAddress)
		if err := ms.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithGroup("metrics_server").Error("error serving", "err", err.Error())
			os.Exit(1)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.WithGroup("server").Error("error shutting down", "err", err.Error())
		} else {
			logger.Info("shutdown filterctl server")
		}
	}()

	go func() {
		defer wg.Done()
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := ms.Shutdown(shutdownCtx); err != nil {
			logger.WithGroup("metrics_server").Error("error shutting down", "err", err.Error())
		} else {
			logger.Info("shutdown metrics server")
		}
	}()

	wg.Wait()
	_ = e.Close()
	return nil
}

func run(ctx context.Context, args []string) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	logger := logging.FromEnv()

	if len(args) < 2 {
		return errors.New("usage: filterctl [server]")
	}

	switch args[1] {
	case "server":
		return server(ctx, logger)
	default:
		return errors.New("usage: filterctl [server]")
	}
}

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: filterctl [server]")
		os.Exit(1)
	}

	if err := run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
