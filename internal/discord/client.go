// Package discord delivers events to a Discord channel through an incoming webhook.
//
// Each event becomes one embed. Delivery is a single attempt; a non-2xx response is
// an error and the caller decides what to do with it.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/rewired-gh/econwatch/internal/catalog"
	"github.com/rewired-gh/econwatch/internal/models"
)

const (
	embedTitle = "Economic Event Alert!"
	embedColor = 15258703
)

// ErrNoWebhook is returned when the client has no webhook URL.
var ErrNoWebhook = errors.New("discord webhook URL not configured")

// Client posts event embeds to a webhook
type Client struct {
	webhookURL string
	catalog    *catalog.Catalog
	http       *resty.Client
	now        func() time.Time
}

// Payload is the webhook request body
type Payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

// Embed is a Discord rich embed
type Embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields"`
	Timestamp   string  `json:"timestamp"`
}

// Field is one name/value pair of an embed
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// NewClient creates a webhook client. A nil catalog means the built-in one.
func NewClient(webhookURL string, timeout time.Duration, c *catalog.Catalog) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if c == nil {
		c = catalog.Default()
	}
	return &Client{
		webhookURL: webhookURL,
		catalog:    c,
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		now: time.Now,
	}
}

// Notify sends one embed for event
func (c *Client) Notify(ctx context.Context, event models.Event) error {
	if c.webhookURL == "" {
		return ErrNoWebhook
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.BuildPayload(event)).
		Post(c.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// BuildPayload renders event as a webhook body. The embed timestamp is the send time.
func (c *Client) BuildPayload(event models.Event) Payload {
	return Payload{
		Embeds: []Embed{{
			Title:       embedTitle,
			Description: "Type: " + orNA(event.Type),
			Color:       embedColor,
			Fields: []Field{
				{Name: "Indicator", Value: c.catalog.DisplayName(event.SeriesID), Inline: true},
				{Name: "Latest Value", Value: orNA(event.Value), Inline: true},
				{Name: "Previous Value", Value: orNA(event.PreviousValue), Inline: true},
				{Name: "Expected Value", Value: orNA(event.ExpectedValue), Inline: true},
				{Name: "Period", Value: fmt.Sprintf("%s %s", event.Year, event.Period), Inline: true},
				{Name: "Source", Value: orNA(event.Source), Inline: true},
			},
			Timestamp: c.now().UTC().Format(time.RFC3339),
		}},
	}
}

// Discord rejects embeds with empty field values
func orNA(s string) string {
	if s == "" {
		return models.NotAvailable
	}
	return s
}
