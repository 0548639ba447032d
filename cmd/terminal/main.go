package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pairarb/internal/backend"
	"pairarb/internal/bot"
	"pairarb/internal/cache"
	"pairarb/internal/config"
	"pairarb/internal/control"
	"pairarb/internal/dispatch"
	"pairarb/internal/feed"
	"pairarb/internal/reconcile"
	"pairarb/pkg/retry"
	"pairarb/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		utils.L().Fatal("failed to load config", utils.Err(err))
	}

	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig()).WithComponent("terminal")
	defer func() { _ = logger.Sync() }()

	// Локальный кэш: снимок коллекций, подписки, настройки интерфейса
	store, err := cache.Open(cfg.Terminal.CacheDir, logger)
	if err != nil {
		logger.Fatal("failed to open cache", utils.Err(err), utils.String("dir", cfg.Terminal.CacheDir))
	}
	defer store.Close()

	api := backend.New(backend.Config{
		BaseURL:        cfg.Terminal.BackendURL,
		Timeout:        cfg.Terminal.HTTPTimeout,
		ConnectTimeout: cfg.Terminal.DialTimeout,
	}, logger)

	syncRetry := retry.SyncConfig()
	syncRetry.MaxRetries = cfg.Bot.SyncMaxRetries
	syncRetry.InitialDelay = cfg.Bot.SyncBackoff
	if syncRetry.MaxRetries == 0 {
		syncRetry.MaxRetries = 1
	}

	rec := reconcile.New(reconcile.Options{
		API:    api,
		Cache:  store,
		Retry:  syncRetry,
		Logger: logger,
	})
	persister := reconcile.NewPersister(rec, logger)

	channelCfg := dispatch.DefaultConfig()
	channelCfg.DialTimeout = cfg.Terminal.DialTimeout
	channelCfg.OutboxSize = cfg.Bot.OutboxSize
	channel := dispatch.New(cfg.Terminal.RealtimeURL, channelCfg, logger)

	feedCfg := feed.DefaultConfig()
	feedCfg.ReconnectDelay = cfg.Terminal.FeedReconnectDelay
	feedCfg.DialTimeout = cfg.Terminal.DialTimeout
	feeds := feed.NewManager(cfg.Terminal.RealtimeURL, feedCfg, store, logger)

	engine := bot.NewEngine(bot.Options{
		Directory:   rec,
		Dispatcher:  channel,
		Feeds:       feeds,
		Persister:   persister,
		Updates:     feeds.Updates(),
		Replies:     channel.PairReplies(),
		EventBuffer: cfg.Bot.EventBuffer,
		Logger:      logger,
	})
	rec.SetUsageChecker(engine)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return persister.Run(gctx, engine) })

	// Начальная загрузка: бэкенд, при недоступности - кэш
	if err := loadRows(gctx, rec, store, engine, cfg.Terminal.ResumeArmed, logger); err != nil {
		logger.Error("initial load failed", utils.Err(err))
	}

	router := control.NewRouter(control.Dependencies{
		Rows:           engine,
		Reference:      rec,
		Orders:         channel,
		UI:             store,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Terminal.ControlAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("control API listening", utils.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down terminal...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control API forced to shutdown", utils.Err(err))
		}
		feeds.CloseAll()
		channel.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("terminal stopped with error", utils.Err(err))
		os.Exit(1)
	}
	logger.Info("terminal exited")
}

// loadRows выполняет синхронизацию и загружает строки в движок.
// Строки, подписки которых были открыты при прошлом запуске, перевзводятся при resume.
func loadRows(ctx context.Context, rec *reconcile.Reconciler, store *cache.Store, engine *bot.Engine, resume bool, logger *utils.Logger) error {
	snap, err := rec.BackendSync(ctx)
	if err != nil {
		if !errors.Is(err, reconcile.ErrOffline) {
			return err
		}
		logger.Warn("backend unavailable, rows loaded from cache", utils.Err(err))
	}

	armed, err := store.ArmedPairKeys()
	if err != nil {
		logger.Warn("failed to read armed slots", utils.Err(err))
		armed = nil
	}
	if err := store.ClearSlots(); err != nil {
		logger.Warn("failed to clear slots", utils.Err(err))
	}

	rows := reconcile.Rows(snap)
	if err := engine.LoadRows(ctx, rows, armed, resume); err != nil {
		return err
	}
	logger.Info("rows loaded",
		utils.Int("rows", len(rows)),
		utils.Int("armed_before_restart", len(armed)),
		utils.Bool("resume", resume))
	return nil
}
