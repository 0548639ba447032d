package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pairarb/internal/api"
	"pairarb/internal/broker"
	"pairarb/internal/config"
	"pairarb/internal/repository"
	"pairarb/internal/service"
	"pairarb/internal/websocket"
	"pairarb/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		utils.L().Fatal("failed to load config", utils.Err(err))
	}

	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig()).WithComponent("server")
	defer func() { _ = logger.Sync() }()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", utils.Err(err), utils.String("dsn", cfg.Database.DSNWithoutPassword()))
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = repository.Migrate(migrateCtx, db)
	cancelMigrate()
	if err != nil {
		logger.Fatal("failed to migrate schema", utils.Err(err))
	}
	logger.Info("connected to database", utils.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Инициализация сервисов
	instrumentService := service.NewInstrumentService(repository.NewInstrumentRepository(db))
	accountService := service.NewAccountService(repository.NewAccountRepository(db))
	columnService := service.NewColumnService(repository.NewColumnRepository(db))
	settingService := service.NewSettingService(repository.NewSettingsRepository(db))
	pairService := service.NewPairService(repository.NewPairRepository(db))

	// Торговая система и /ws
	paper := broker.NewPaper(1, logger)
	var orders broker.Broker = paper
	if cfg.Server.OrderRate > 0 {
		orders = broker.NewThrottled(paper, cfg.Server.OrderRate, cfg.Server.OrderBurst)
	}
	hub := websocket.NewHub(orders, cfg.Server.AllowedOrigins, logger)

	router := api.SetupRoutes(&api.Dependencies{
		Instruments:    instrumentService,
		Accounts:       accountService,
		Columns:        columnService,
		Settings:       settingService,
		Pairs:          pairService,
		Realtime:       hub,
		Books:          broker.BookHandler(paper),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	router.Handle("/metrics", promhttp.Handler())

	// HTTP сервер; WriteTimeout не задан - /ws держит соединение
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("starting server", utils.String("addr", server.Addr), utils.Bool("https", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server forced to shutdown", utils.Err(err))
		}
		paper.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", utils.Err(err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(max(cfg.Database.MaxOpenConns/5, 1))
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
