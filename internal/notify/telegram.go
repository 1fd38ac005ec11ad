package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"opportunist/internal/model"
)

// telegramMessageLimit is Telegram's hard cap per message.
const telegramMessageLimit = 4096

// Sender is the interface for sending Telegram messages.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers digests to a single chat. Digests longer than the
// message limit are split on entry boundaries.
type Telegram struct {
	api    Sender
	chatID int64
	log    *slog.Logger
}

// NewTelegram creates a Telegram notifier from a bot token.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// NewTelegramWithSender creates a Telegram notifier with a custom sender.
func NewTelegramWithSender(sender Sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: sender, chatID: chatID, log: log}
}

// Deliver renders the digest and sends it, chunked if needed.
func (t *Telegram) Deliver(ctx context.Context, digest model.Digest) error {
	text := FormatDigest(digest)
	for i, chunk := range splitMessage(text, telegramMessageLimit) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deliver digest: %w", err)
		}
		msg := tgbotapi.NewMessage(t.chatID, chunk)
		msg.DisableWebPagePreview = true
		if _, err := t.api.Send(msg); err != nil {
			return fmt.Errorf("send digest chunk %d: %w", i+1, err)
		}
	}
	t.log.Info("digest delivered", "window", digest.Window.Date, "total", digest.Total)
	return nil
}

// SendText sends a plain message outside the digest flow, used by the
// test-notify command.
func (t *Telegram) SendText(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// splitMessage breaks text into chunks of at most limit runes, preferring
// blank-line boundaries so entries stay intact.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}
