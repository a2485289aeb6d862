package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"highlight_bot/internal/activity"
	"highlight_bot/internal/alert"
	"highlight_bot/internal/bot"
	"highlight_bot/internal/config"
	"highlight_bot/internal/dispatch"
	"highlight_bot/internal/history"
	"highlight_bot/internal/matcher"
	"highlight_bot/internal/pipeline"
	"highlight_bot/internal/registry"
	"highlight_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := bot.Connect(cfg.TelegramBotToken)
	if err != nil {
		log.Error("connect to telegram", "error", err)
		os.Exit(1)
	}
	log.Info("authorized", "username", api.Self.UserName)

	var sink alert.Sink = alert.NewLogSink(log)
	if cfg.OperatorChatID != 0 {
		sink = alert.NewTelegramSink(api, cfg.OperatorChatID, time.Minute, 5, log)
	}

	hist := history.New(max(history.DefaultSize, cfg.ContextMessages))
	tracker := activity.New(store, log)

	engine := matcher.New(store, sink, log)
	engine.SetCooldown(cfg.DMCooldown)

	dir := bot.NewDirectory(api, bot.DefaultMemberTTL, log)
	dispatcher := dispatch.New(dir, hist, bot.NewSender(api, cfg.SendRate, log), tracker, sink, dispatch.Config{
		ContextSize:     cfg.ContextMessages,
		DeliveryTimeout: cfg.DeliveryTimeout,
	}, log)

	pipe := pipeline.New(tracker, engine, dispatcher, sink, log)
	b := bot.New(api, registry.New(store, log), hist, dir, pipe, cfg, log)

	log.Info("starting bot",
		"dm_cooldown", cfg.DMCooldown,
		"delivery_timeout", cfg.DeliveryTimeout,
		"linked_chats", len(cfg.LinkedChats),
	)

	matched := make(chan struct{})
	go func() {
		defer close(matched)
		pipe.Run(ctx, b.Messages())
	}()

	b.Run(ctx)
	<-matched

	log.Info("waiting for in-flight notifications")
	pipe.Wait()

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
