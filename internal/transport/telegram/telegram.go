// Package telegram delivers text messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// DefaultAPIURL is the public Bot API base.
const DefaultAPIURL = "https://api.telegram.org"

// textLimit keeps each chunk under Telegram's 4096 character message cap.
const textLimit = 4000

type Config struct {
	Token   string
	APIURL  string
	Timeout time.Duration
}

// Sender sends plain or Markdown text to chat ids.
type Sender struct {
	bot *tele.Bot
}

// chat adapts an opaque recipient id (numeric chat id or @channel) to telebot.
type chat string

func (c chat) Recipient() string { return string(c) }

// New builds an offline bot: no getMe round-trip and no update polling.
func New(cfg Config) (*Sender, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     apiURL,
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b}, nil
}

// SendText sends text to chatID. Long texts are split on line boundaries.
// parseMode may be empty for plain text or "Markdown"/"HTML".
func (s *Sender) SendText(ctx context.Context, chatID, text, parseMode string) error {
	to := chat(strings.TrimSpace(chatID))
	if to == "" {
		return errors.New("telegram: empty chat id")
	}
	opts := &tele.SendOptions{
		ParseMode:             tele.ParseMode(parseMode),
		DisableWebPagePreview: true,
	}
	for _, chunk := range splitText(text, textLimit) {
		if err := s.send(ctx, to, chunk, opts); err != nil {
			return err
		}
	}
	return nil
}

// send bounds one Bot.Send by ctx. telebot takes no context, so an abandoned
// request keeps running until the HTTP client timeout.
func (s *Sender) send(ctx context.Context, to chat, chunk string, opts *tele.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(to, chunk, opts)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitText splits long messages into chunks, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
