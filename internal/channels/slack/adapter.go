// Package slack adapts Slack Events API webhooks to channels.Platform,
// grounded on the teacher's internal/channels/slack adapter for client
// construction, scoped down to parse+send since Socket Mode connection
// management is a concrete-parser concern outside this contract's scope.
package slack

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/agenticdevops/aof/internal/triggerrouter"
)

// Config holds the credentials the Slack adapter needs.
type Config struct {
	BotToken      string
	SigningSecret string
}

// Adapter implements channels.Platform for Slack.
type Adapter struct {
	client *slack.Client
	cfg    Config
}

// New returns a Slack Adapter wrapping a slack.Client built from cfg.
func New(cfg Config) *Adapter {
	return &Adapter{client: slack.New(cfg.BotToken), cfg: cfg}
}

func (a *Adapter) Name() string { return "slack" }

// ParseEvent decodes a Slack Events API callback body. URL verification
// challenges and non-message events report ok=false with no error.
func (a *Adapter) ParseEvent(ctx context.Context, body []byte) (triggerrouter.Message, bool, error) {
	event, err := slackevents.ParseEvent(body, slackevents.OptionNoVerifyToken())
	if err != nil {
		return triggerrouter.Message{}, false, fmt.Errorf("slack: parse event: %w", err)
	}

	if event.Type == slackevents.URLVerification {
		return triggerrouter.Message{}, false, nil
	}

	inner, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || inner == nil {
		return triggerrouter.Message{}, false, nil
	}
	if inner.BotID != "" || inner.SubType != "" {
		return triggerrouter.Message{}, false, nil
	}

	return triggerrouter.Message{
		Channel:  inner.Channel,
		User:     inner.User,
		Text:     inner.Text,
		ThreadID: inner.ThreadTimeStamp,
		Event:    "message",
	}, true, nil
}

// Send posts text to a Slack channel ID.
func (a *Adapter) Send(ctx context.Context, channel, text string) error {
	_, _, err := a.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}
