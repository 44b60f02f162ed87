package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdArm    = "arm"
	cmdDisarm = "disarm"
	cmdFav    = "fav"
)

func (b *Bot) handleCallback(_ context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, csq, ok := strings.Cut(data, ":")
	if !ok {
		return
	}
	if _, err := ParseCSQArg(csq); err != nil {
		return
	}

	b.log.Info("callback",
		"action", action,
		"csq", csq,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdArm:
		b.handleArm(chatID, csq)
	case cmdDisarm:
		b.handleDisarm(chatID, csq)
	case cmdFav:
		b.handleFav(chatID, csq)
	}
}

func callbackData(action, csq string) string {
	return fmt.Sprintf("%s:%s", action, csq)
}

func recordKeyboard(csq string, armed bool) tgbotapi.InlineKeyboardMarkup {
	alarm := tgbotapi.NewInlineKeyboardButtonData("Arm alarm", callbackData(cmdArm, csq))
	if armed {
		alarm = tgbotapi.NewInlineKeyboardButtonData("Disarm", callbackData(cmdDisarm, csq))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			alarm,
			tgbotapi.NewInlineKeyboardButtonData("Favorite", callbackData(cmdFav, csq)),
		),
	)
}
