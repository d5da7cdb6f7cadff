// Package telegram adapts Telegram Bot API webhooks to channels.Platform,
// grounded on the teacher's internal/channels/telegram adapter's use of
// go-telegram/bot, scoped down to parse+send.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/agenticdevops/aof/internal/triggerrouter"
)

// botClient is the subset of *tgbot.Bot this adapter calls.
type botClient interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error)
}

// Adapter implements channels.Platform for Telegram.
type Adapter struct {
	bot botClient
}

// New returns a telegram Adapter wrapping a *tgbot.Bot built from token.
func New(token string) (*Adapter, error) {
	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &Adapter{bot: b}, nil
}

func (a *Adapter) Name() string { return "telegram" }

// ParseEvent decodes a Telegram Update webhook body. Updates with no
// message (edited_message, channel_post-only edits, etc.) report
// ok=false with no error.
func (a *Adapter) ParseEvent(ctx context.Context, body []byte) (triggerrouter.Message, bool, error) {
	var update tgmodels.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return triggerrouter.Message{}, false, fmt.Errorf("telegram: decode update: %w", err)
	}

	if update.Message == nil || update.Message.From == nil {
		return triggerrouter.Message{}, false, nil
	}

	msg := update.Message
	return triggerrouter.Message{
		Channel:  strconv.FormatInt(msg.Chat.ID, 10),
		User:     strconv.FormatInt(msg.From.ID, 10),
		UserName: msg.From.Username,
		Text:     msg.Text,
		Event:    "message",
	}, true, nil
}

// Send posts text to a Telegram chat ID.
func (a *Adapter) Send(ctx context.Context, channel, text string) error {
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channel, err)
	}

	_, err = a.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}
