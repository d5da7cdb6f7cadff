// Package discord adapts Discord gateway events to channels.Platform,
// grounded on the teacher's internal/channels/discord session-interface
// idiom, scoped down to parse+send.
package discord

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/agenticdevops/aof/internal/triggerrouter"
)

// session is the subset of *discordgo.Session this adapter calls, so
// tests can substitute a fake without opening a real gateway connection.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Adapter implements channels.Platform for Discord.
type Adapter struct {
	session session
	botID   string
}

// New returns a discord Adapter wrapping a *discordgo.Session built from
// token. botID is the bot's own user ID, used to ignore its own messages.
func New(token, botID string) (*Adapter, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Adapter{session: sess, botID: botID}, nil
}

func (a *Adapter) Name() string { return "discord" }

// discordMessagePayload is the minimal shape this adapter needs from a
// MESSAGE_CREATE gateway event forwarded as a webhook body.
type discordMessagePayload struct {
	ChannelID string `json:"channel_id"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
	Content string `json:"content"`
}

// ParseEvent decodes a forwarded MESSAGE_CREATE payload. Messages from the
// bot itself report ok=false with no error.
func (a *Adapter) ParseEvent(ctx context.Context, body []byte) (triggerrouter.Message, bool, error) {
	var payload discordMessagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return triggerrouter.Message{}, false, fmt.Errorf("discord: decode event: %w", err)
	}

	if payload.Author.Bot || payload.Author.ID == a.botID {
		return triggerrouter.Message{}, false, nil
	}
	if payload.ChannelID == "" {
		return triggerrouter.Message{}, false, nil
	}

	return triggerrouter.Message{
		Channel: payload.ChannelID,
		User:    payload.Author.ID,
		Text:    payload.Content,
		Event:   "message",
	}, true, nil
}

// Send posts text to a Discord channel ID.
func (a *Adapter) Send(ctx context.Context, channel, text string) error {
	_, err := a.session.ChannelMessageSend(channel, text)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}
