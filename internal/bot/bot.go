package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"campaign_watch/internal/config"
	"campaign_watch/internal/notify"
	"campaign_watch/internal/session"
	"campaign_watch/internal/stream"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Crawler runs crawl sessions.
type Crawler interface {
	Start(ctx context.Context, req stream.Request) (<-chan stream.Result, error)
	Close()
	State() stream.State
}

// Bot is the Telegram front end: it handles user commands and delivers
// alarm notifications.
type Bot struct {
	api     telegramAPI
	sess    *session.Session
	crawler Crawler
	cfg     *config.Config
	log     *slog.Logger
	limiter *rate.Limiter
}

// New creates a Bot with the given Telegram token, session, and crawler.
func New(token string, sess *session.Session, crawler Crawler, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, sess, crawler, cfg, log), nil
}

func newBot(api telegramAPI, sess *session.Session, crawler Crawler, cfg *config.Config, log *slog.Logger) *Bot {
	perSec := cfg.TelegramRate
	if perSec < 1 {
		perSec = config.DefaultTelegramRate
	}
	return &Bot{
		api:     api,
		sess:    sess,
		crawler: crawler,
		cfg:     cfg,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				if !b.cfg.IsUserAllowed(update.CallbackQuery.From.ID) {
					continue
				}
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			if !b.cfg.IsUserAllowed(update.Message.From.ID) {
				b.reply(update.Message.Chat.ID, "Access denied.")
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if err := b.send(context.Background(), msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// Alert delivers a fired alarm to every chat in NOTIFY_CHAT_IDS.
func (b *Bot) Alert(ctx context.Context, alert notify.Alert) error {
	var errs []error
	for _, chatID := range b.cfg.NotifyChatIDs {
		msg := tgbotapi.NewMessage(chatID, FormatAlert(alert))
		msg.DisableWebPagePreview = true
		if alert.URL != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("Open campaign", alert.URL),
				),
			)
		}
		if err := b.send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bot) send(ctx context.Context, c tgbotapi.Chattable) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	_, err := b.api.Send(c)
	return err
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, kb tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = kb
	if err := b.send(context.Background(), msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "crawl":
		b.handleCrawl(ctx, chatID, args)
	case "stop":
		b.handleStop(chatID)
	case "status":
		b.handleStatus(chatID)
	case "list":
		b.handleList(chatID, args)
	case "malls":
		b.handleMalls(chatID, args)
	case "delete":
		b.handleDelete(chatID, args)
	case "clear":
		b.handleClear(chatID, args)
	case cmdArm:
		b.handleArm(chatID, args)
	case cmdDisarm:
		b.handleDisarm(chatID, args)
	case "alarms":
		b.handleAlarms(chatID)
	case cmdFav:
		b.handleFav(chatID, args)
	case "favs":
		b.handleFavs(chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
