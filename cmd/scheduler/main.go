package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"compliance_scheduler/internal/app"
	"compliance_scheduler/internal/infra/config"
	idb "compliance_scheduler/internal/infra/database"
	"compliance_scheduler/internal/infra/httpapi"
	"compliance_scheduler/internal/infra/lock"
	"compliance_scheduler/internal/infra/logger"
	"compliance_scheduler/internal/infra/scheduler"
	"compliance_scheduler/internal/infra/telegram"
)

func main() {
	fmt.Println("Compliance Scheduler starting...")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Could not load application configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"log_level":   cfg.LogLevel,
		"environment": cfg.Environment,
		"timezone":    cfg.Timezone,
	}).Info("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()
	mainLogger.Info("Database connection established successfully")

	if cfg.MigrateOnStart {
		applied, err := idb.Migrate(ctx, db)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not apply migrations")
		}
		mainLogger.WithField("applied", applied).Info("Migrations are up to date")
	}

	// Initialize Repositories
	controlRepo := idb.NewPostgresControlRepository(db)
	instanceRepo := idb.NewPostgresInstanceRepository(db)

	loc := cfg.Location()
	driver := app.NewDriver(controlRepo, instanceRepo, loc, logger.Component("driver"))
	controlService := app.NewControlService(controlRepo, driver, logger.Component("control_service"))
	instanceService := app.NewInstanceService(instanceRepo, time.Now, logger.Component("instance_service"))

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb, err := lock.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not connect to Redis")
		}
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, "compliance_scheduler:")
		mainLogger.Info("Using Redis job lock")
	}

	// Initialize GenerationScheduler
	genScheduler := scheduler.NewGenerationScheduler(driver, locker, scheduler.Specs{
		LookAhead:         cfg.CronSpecLookAhead,
		Sweep:             cfg.CronSpecSweep,
		Monthly:           cfg.CronSpecMonthly,
		Recent:            cfg.CronSpecRecent,
		GenerationTimeout: cfg.GenerationTimeout,
		SweepTimeout:      cfg.SweepTimeout,
		LockTTL:           cfg.JobLockTTL,
	}, loc, logger.Component("scheduler"))
	if err := genScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	var server *http.Server
	if cfg.HTTPAddr != "" {
		handler := httpapi.NewHandler(driver, controlService, instanceService, logger.Component("http"))
		server = httpapi.NewServer(cfg.HTTPAddr, handler)
		go func() {
			mainLogger.WithField("addr", cfg.HTTPAddr).Info("HTTP API listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLogger.WithError(err).Error("HTTP server stopped")
				stop()
			}
		}()
	}

	var bot *telebot.Bot
	if cfg.TelegramToken != "" {
		botLogger := logger.Component("telegram")
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := botLogger.WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"text": c.Text(), "sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telebot error")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}

		cmds := telegram.NewAdminCommands(driver, controlService, instanceService, cfg.AdminTelegramID, cfg.GenerationTimeout, botLogger)
		telegram.RegisterAdminHandlers(ctx, bot, cmds)
		telegram.RegisterBotCommands(bot, cfg.AdminTelegramID, botLogger)
		mainLogger.Info("Admin command handlers registered")

		go bot.Start()
	}

	mainLogger.Info("Application setup complete")
	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	genScheduler.Stop()
	if bot != nil {
		bot.Stop()
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("HTTP server did not shut down cleanly")
		}
	}
	mainLogger.Info("Application shut down gracefully")
}
