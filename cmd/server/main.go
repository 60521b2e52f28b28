package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rifqisaleh/revoubank/configs"
	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/clock"
	"github.com/rifqisaleh/revoubank/internal/handlers"
	"github.com/rifqisaleh/revoubank/internal/ledger"
	"github.com/rifqisaleh/revoubank/internal/logger"
	"github.com/rifqisaleh/revoubank/internal/notify"
	"github.com/rifqisaleh/revoubank/internal/routes"
	"github.com/rifqisaleh/revoubank/internal/seed"
	"github.com/rifqisaleh/revoubank/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	if err := configs.LoadConfig(); err != nil {
		logger.Log.Fatal("config load failed", zap.Error(err))
	}
	cfg := configs.AppConfig
	if err := logger.InitWithLevel(cfg.Log.Level); err != nil {
		logger.Log.Fatal("bad log level", zap.String("level", cfg.Log.Level), zap.Error(err))
	}
	log := logger.Log

	var (
		st store.Store
		db *gorm.DB
	)
	switch cfg.DB.Driver {
	case "memory":
		log.Warn("using in-memory store, data is lost on exit")
		st = store.NewMemory(cfg.Ledger.LockTimeout)
	default:
		var err error
		db, err = store.NewDB(cfg.DB.DSN, log)
		if err != nil {
			log.Fatal("db connect failed", zap.Error(err))
		}
		if err := store.DBMigrate(db, log); err != nil {
			log.Fatal("db migrate failed", zap.Error(err))
		}
		st = store.NewGorm(db, cfg.Ledger.LockTimeout)
	}

	var sender notify.Sender = notify.LogSender{Log: log}
	if !cfg.Mail.Mock {
		sender = notify.SMTPSender{
			Addr:     cfg.Mail.Server,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		}
	}
	dispatcher := notify.NewDispatcher(sender, cfg.Notify.Workers, cfg.Notify.QueueSize, log)

	clk := clock.System{}
	users := auth.NewService(st, clk, dispatcher, log, auth.Policy{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockDuration:      cfg.Auth.LockDuration,
	})
	tokens := auth.NewTokenIssuer(cfg.JWT.SECRET, cfg.JWT.TTL, clk)
	engine := ledger.NewEngine(st, clk, dispatcher, log)

	if cfg.Seed.Enabled {
		if err := seed.Run(context.Background(), users, engine); err != nil {
			log.Fatal("seed failed", zap.Error(err))
		}
	}

	router := routes.NewRoutes(handlers.New(users, tokens, engine, log))

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	// In-flight receipts are delivered before the database goes away.
	dispatcher.Close()

	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			log.Error("db close skipped", zap.Error(err))
		} else {
			sqlDB.Close()
			log.Info("db closed")
		}
	}

	log.Info("server stopped")
}
