package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"campaign_watch/internal/bot"
	"campaign_watch/internal/config"
	"campaign_watch/internal/fetcher"
	"campaign_watch/internal/model"
	"campaign_watch/internal/notify"
	"campaign_watch/internal/scheduler"
	"campaign_watch/internal/session"
	"campaign_watch/internal/storage"
	"campaign_watch/internal/stream"
)

const userAgent = "CampaignWatch/1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if cfg.StorageDriver == "sqlite" {
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				log.Error("create data directory", "path", dir, "error", err)
				os.Exit(1)
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, storage.Config{
		Driver:        cfg.StorageDriver,
		DatabasePath:  cfg.DatabasePath,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   "campaign_watch:",
	})
	if err != nil {
		log.Error("open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	writer := storage.NewWriter(store, log)
	defer func() { _ = writer.Close() }()

	sess, err := session.Load(ctx, store, writer, log)
	if err != nil {
		log.Error("load session", "error", err)
		os.Exit(1)
	}
	sess.SetLocation(cfg.Location())
	sess.SetAnchorYear(cfg.AnchorYear)

	crawler := stream.NewClient(cfg.StreamURL, sess, log)
	crawler.SetHeader(streamHeader(cfg))
	defer crawler.Close()

	dispatcher := notify.NewDispatcher(log, notify.NewLogSink(log))
	if cfg.DesktopNotify {
		setupDesktop(dispatcher, log)
	}

	var tg *bot.Bot
	if cfg.TelegramBotToken != "" {
		tg, err = bot.New(cfg.TelegramBotToken, sess, crawler, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		if len(cfg.NotifyChatIDs) > 0 {
			dispatcher.AddSink(tg)
		}
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, running without the bot")
	}

	sched := scheduler.New(sess, dispatcher, log)
	sched.SetTickInterval(cfg.AlarmTick)

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(sched.Run)

	if cfg.SnapshotURL != "" {
		poller := fetcher.NewPoller(fetcher.New(http.DefaultClient), sess, cfg.SnapshotURL, cfg.SnapshotSite, log)
		poller.SetInterval(cfg.SnapshotInterval)
		poller.SetTime(cfg.AnchorYear, cfg.Location())
		run(poller.Run)
	}

	if tg != nil {
		run(tg.Run)
	}

	log.Info("campaign watch started",
		"storage", cfg.StorageDriver,
		"alarms", len(sess.Alarms()),
		"hidden", len(sess.Records(model.ChannelRestricted)),
		"public", len(sess.Records(model.ChannelPublic)),
	)

	<-ctx.Done()
	wg.Wait()

	log.Info("campaign watch stopped")
}

func streamHeader(cfg *config.Config) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	if cfg.StreamOrigin != "" {
		h.Set("Origin", cfg.StreamOrigin)
	}
	return h
}

func setupDesktop(d *notify.Dispatcher, log *slog.Logger) {
	sink, err := notify.NewDesktopSink()
	if err != nil {
		log.Warn("desktop notifications unavailable", "error", err)
		return
	}
	d.AddSink(sink)

	opener, err := notify.NewPortalOpener()
	if err != nil {
		log.Warn("url opener unavailable", "error", err)
	} else {
		d.SetOpener(opener)
	}
	d.SetClipboard(notify.SystemClipboard{})
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
