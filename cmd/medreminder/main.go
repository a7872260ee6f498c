// cmd/medreminder/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/smith3v/tg-med-reminder/pkg/alarm"
	"github.com/smith3v/tg-med-reminder/pkg/bot/delivery"
	"github.com/smith3v/tg-med-reminder/pkg/bot/handlers"
	"github.com/smith3v/tg-med-reminder/pkg/bot/reminders"
	"github.com/smith3v/tg-med-reminder/pkg/config"
	"github.com/smith3v/tg-med-reminder/pkg/db"
	"github.com/smith3v/tg-med-reminder/pkg/httpapi"
	"github.com/smith3v/tg-med-reminder/pkg/logger"
	"github.com/smith3v/tg-med-reminder/pkg/medications"
	"github.com/smith3v/tg-med-reminder/pkg/ui"
	"github.com/smith3v/tg-med-reminder/pkg/users"
)

func main() {
	configPath := "config.json"
	if v := os.Getenv("MEDREMINDER_CONFIG"); v != "" {
		configPath = v
	}
	if err := config.LoadConfig(configPath); err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.LoadEnv(); err != nil {
		logger.Error("failed to apply environment overrides", "error", err)
		os.Exit(1)
	}
	if err := logger.Configure(logger.Options{
		Level: config.AppConfig.Logging.Level,
		File:  config.AppConfig.Logging.File,
	}); err != nil {
		logger.Error("failed to configure logger", "error", err)
	}

	if err := db.InitDB(config.AppConfig.Database); err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []bot.Option{
		bot.WithDefaultHandler(handlers.DefaultHandler),
	}
	b, err := bot.New(config.AppConfig.Telegram.Token, opts...)
	if err != nil {
		logger.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	tg := delivery.NewTelegram(b)
	policy := users.NewPolicy(tg, users.DefaultPromptInterval, nil)
	table := alarm.NewTable()
	scheduler := alarm.NewScheduler(table, policy, nil)
	store := medications.NewStore()
	service := medications.NewService(store, scheduler, nil)

	sched := config.AppConfig.Scheduler
	dispatcher := alarm.NewDispatcher(table, scheduler, store, tg,
		time.Duration(sched.TickSeconds)*time.Second, sched.DueBatch)
	recovery := alarm.NewRecovery(store, scheduler)

	handlers.Init(service, policy)

	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, handlers.HandleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/add", bot.MatchTypePrefix, handlers.HandleAdd)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/meds", bot.MatchTypeExact, handlers.HandleList)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/remove", bot.MatchTypePrefix, handlers.HandleRemove)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/edit", bot.MatchTypePrefix, handlers.HandleEdit)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/stock", bot.MatchTypePrefix, handlers.HandleStock)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/tz", bot.MatchTypePrefix, handlers.HandleTimezone)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypeExact, handlers.HandleSettings)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/permit", bot.MatchTypeExact, handlers.HandlePermit)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/history", bot.MatchTypePrefix, handlers.HandleHistory)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, ui.PermissionPrefix, bot.MatchTypePrefix, handlers.HandlePermissionCallback)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, ui.TakenPrefix, bot.MatchTypePrefix, handlers.HandleTakenCallback)
	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, ui.TimezonePrefix, bot.MatchTypePrefix, handlers.HandleTimezoneCallback)

	if err := reminders.Start(ctx, sched, dispatcher, recovery); err != nil {
		logger.Error("failed to start reminder jobs", "error", err)
		os.Exit(1)
	}

	if addr := config.AppConfig.HTTP.Addr; addr != "" {
		router := httpapi.NewRouter(httpapi.Options{
			Alarms:      table,
			Medications: service,
			Recovery:    recovery,
		})
		go func() {
			logger.Info("Starting ops server", "addr", addr)
			if err := httpapi.Serve(ctx, addr, router); err != nil {
				logger.Error("ops server stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting bot...")
	b.Start(ctx)
}
