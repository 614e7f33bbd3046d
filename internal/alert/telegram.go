package alert

import (
	"context"
	"errors"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"
)

// telegramSender posts alerts with the Bot API. It never polls for
// updates; the bot is created offline so construction does no I/O.
type telegramSender struct {
	bot    *tele.Bot
	chat   tele.ChatID
	thread int
}

// NewTelegram builds a Sender for cfg. apiURL overrides the Bot API
// endpoint and may be empty.
func NewTelegram(cfg Config, apiURL string) (Sender, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chat: tele.ChatID(cfg.ChatID), thread: cfg.ThreadID}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ThreadID:              t.thread,
		DisableWebPagePreview: true,
	})
	return err
}
