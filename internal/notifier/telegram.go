package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"bidwatch/internal/bid"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int // forum topic; 0 for none
	// APIURL overrides https://api.telegram.org (tests).
	APIURL  string
	Timeout time.Duration
}

// TelegramSender posts an HTML message to one chat.
type TelegramSender struct {
	bot    *tele.Bot
	chat   *tele.Chat
	thread int
}

func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips the getMe round trip; this bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, thread: cfg.ThreadID}, nil
}

func (s *TelegramSender) Name() string { return "telegram" }

// Send ignores ctx beyond an early check: telebot bounds the call with the
// client timeout instead.
func (s *TelegramSender) Send(ctx context.Context, r bid.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(s.chat, buildTelegramHTML(r), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
		ThreadID:              s.thread,
	})
	return err
}
