package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calevents/internal/config"
	"calevents/internal/engine"
	appLog "calevents/internal/log"
	"calevents/internal/store"
	"calevents/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
}

func main() {
	appLog.Info("calevd starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	// CLI --listen overrides the config file if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"db_path", conf.DBPath,
		"feed_refresh", conf.FeedRefresh,
		"feed_path", conf.FeedPath,
		"feed_horizon_days", conf.FeedHorizonDays,
		"once", flags.once,
	)

	st, err := store.Open(conf.DBPath)
	if err != nil {
		appLog.Error("failed to open store", err, "db_path", conf.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	eng := engine.New(st, conf.MaxOccurrencesPerEvent)
	server := web.NewServer(conf, eng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	snapshot := func() {
		if err := writeFeedSnapshot(ctx, server, conf.FeedPath); err != nil {
			appLog.Error("feed snapshot failed", err, "feed_path", conf.FeedPath)
			return
		}
		appLog.Info("feed snapshot written", "feed_path", conf.FeedPath)
	}

	if flags.once {
		if err := writeFeedSnapshot(ctx, server, conf.FeedPath); err != nil {
			appLog.Error("feed snapshot failed", err, "feed_path", conf.FeedPath)
			os.Exit(1)
		}
		appLog.Info("feed snapshot written", "feed_path", conf.FeedPath)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.FeedRefresh, snapshot); err != nil {
		appLog.Error("invalid feed_refresh schedule", err, "feed_refresh", conf.FeedRefresh)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// One snapshot up front so the feed file exists before the first tick.
	snapshot()

	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLog.Error("http shutdown failed", err)
		}
	}()

	appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		appLog.Error("http server failed", err)
		os.Exit(1)
	}

	appLog.Info("calevd exiting")
}

// writeFeedSnapshot renders the public feed and writes it atomically: temp
// file in the target directory, then rename, so feed readers never see a
// half-written calendar.
func writeFeedSnapshot(ctx context.Context, server *web.Server, path string) error {
	body, err := server.BuildFeed(ctx, time.Now())
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calevents-feed-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write([]byte(body)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calevents/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Write one feed snapshot and exit")

	flag.Parse()

	return cfg
}
