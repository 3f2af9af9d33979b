// Package telegram provides a Notifier that sends events via the Telegram Bot API.
// Messages use MarkdownV2 and are sent in a single attempt.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot     *tgbotapi.BotAPI
	chatID  int64
	catalog *catalog.Catalog
}

// NewClient creates a new Telegram client. timeout bounds every Bot API request,
// including the getMe check made here. A nil catalog means the built-in one.
func NewClient(botToken, chatID string, timeout time.Duration, c *catalog.Catalog) (*Client, error) {
	return newClient(botToken, chatID, tgbotapi.APIEndpoint, timeout, c)
}

func newClient(botToken, chatID, apiEndpoint string, timeout time.Duration, c *catalog.Catalog) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	// The Bot API client takes no context, so the HTTP timeout is the only bound on a send.
	bot, err := tgbotapi.NewBotAPIWithClient(botToken, apiEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if c == nil {
		c = catalog.Default()
	}

	return &Client{
		bot:     bot,
		chatID:  chatIDInt,
		catalog: c,
	}, nil
}

// Notify sends one message for event
func (c *Client) Notify(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(c.chatID, c.formatMessage(event))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// formatMessage formats an event into a Telegram message
func (c *Client) formatMessage(event models.Event) string {
	var b strings.Builder

	b.WriteString("🚨 *Economic Event Alert\\!*\n")
	fmt.Fprintf(&b, "Type: %s\n\n", escapeMarkdownV2(event.Type))

	fmt.Fprintf(&b, "📊 *%s*\n", escapeMarkdownV2(c.catalog.DisplayName(event.SeriesID)))
	fmt.Fprintf(&b, "Latest Value: *%s*\n", escapeMarkdownV2(event.Value))
	fmt.Fprintf(&b, "Previous Value: %s\n", escapeMarkdownV2(event.PreviousValue))

	// Change is display only
	if change := event.Change(); change != models.NotAvailable {
		directionEmoji := "📈"
		if strings.HasPrefix(change, "-") {
			directionEmoji = "📉"
		}
		fmt.Fprintf(&b, "%s Change: %s\n", directionEmoji, escapeMarkdownV2(change))
	}

	fmt.Fprintf(&b, "Expected Value: %s\n", escapeMarkdownV2(event.ExpectedValue))
	fmt.Fprintf(&b, "Period: %s\n", escapeMarkdownV2(event.Year+" "+event.Period))
	fmt.Fprintf(&b, "Source: %s", escapeMarkdownV2(event.Source))

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! and the escape character itself
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '\\', '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
