// Package notify implements the outbound notification sink: a
// best-effort Telegram poster modeled on the teacher's bot/telegram.go
// NotifyX methods, plus an optional plain webhook POST for operators
// who don't run Telegram. Failures are logged and swallowed — a
// notification sink must never propagate an error back into the
// engine, guardian, or reconciler call sites that use it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/oddsdesk/lineguard/internal/telemetry"
)

// Sink satisfies the Notifier interface declared independently by
// internal/guardian, internal/reconcile and internal/engine.
type Sink struct {
	telegram   *tgbotapi.BotAPI
	chatID     int64
	webhookURL string
	client     *http.Client
	log        zerolog.Logger
}

// New builds a Sink. Either input may be left zero-valued: an empty
// botToken skips Telegram, an empty webhookURL skips the webhook post.
// A Sink with both empty is a valid no-op notifier.
func New(botToken string, chatID int64, webhookURL string) (*Sink, error) {
	s := &Sink{
		chatID:     chatID,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		log:        telemetry.For("notify"),
	}

	if botToken != "" {
		api, err := tgbotapi.NewBotAPI(botToken)
		if err != nil {
			return nil, fmt.Errorf("notify: init telegram bot: %w", err)
		}
		s.telegram = api
	}

	return s, nil
}

// Notify posts subject/body to every configured sink. It never returns
// an error to the caller on a delivery failure — that failure is only
// logged — but does return an error if NO sink is configured at all,
// since that usually indicates a wiring mistake. That error is returned
// on every call, not once; the guardian and reconciler discard it.
func (s *Sink) Notify(ctx context.Context, subject, body string) error {
	if s.telegram == nil && s.webhookURL == "" {
		return fmt.Errorf("notify: no sink configured")
	}

	if s.telegram != nil {
		s.sendTelegram(subject, body)
	}
	if s.webhookURL != "" {
		s.sendWebhook(ctx, subject, body)
	}
	return nil
}

func (s *Sink) sendTelegram(subject, body string) {
	text := fmt.Sprintf("*%s*\n\n%s", subject, body)
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := s.telegram.Send(msg); err != nil {
		s.log.Warn().Err(err).Str("subject", subject).Msg("telegram delivery failed")
	}
}

type webhookPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (s *Sink) sendWebhook(ctx context.Context, subject, body string) {
	payload, err := json.Marshal(webhookPayload{Subject: subject, Body: body})
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook payload marshal failed")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		s.log.Warn().Err(err).Msg("webhook request build failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("url", s.webhookURL).Msg("webhook delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Str("url", s.webhookURL).Msg("webhook returned non-2xx")
	}
}
