// Package slack posts escalation events to a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"

	"github.com/zulandar/rehearsal/internal/escalation"
	"github.com/zulandar/rehearsal/internal/notify"
)

// maxRetries is the max number of retries for rate-limited posts.
const maxRetries = 3

// poster sends a webhook message; swapped out in tests.
type poster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// Webhook implements notify.Notifier for a Slack incoming webhook.
type Webhook struct {
	url         string
	post        poster
	baseBackoff time.Duration
}

// WebhookOpts holds parameters for creating a Webhook.
type WebhookOpts struct {
	URL string
	// For testing: replaces slack.PostWebhookContext.
	Post poster
}

// New creates a Webhook.
func New(opts WebhookOpts) (*Webhook, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	post := opts.Post
	if post == nil {
		post = slackapi.PostWebhookContext
	}
	return &Webhook{url: opts.URL, post: post, baseBackoff: time.Second}, nil
}

// Notify implements notify.Notifier.
func (w *Webhook) Notify(ctx context.Context, ev escalation.Event) error {
	msg := buildWebhookMessage(notify.Format(ev))
	err := w.retryOnRateLimit(ctx, func() error {
		return w.post(ctx, w.url, msg)
	})
	if err != nil {
		return fmt.Errorf("slack: post escalation: %w", err)
	}
	return nil
}

func buildWebhookMessage(f notify.Formatted) *slackapi.WebhookMessage {
	att := slackapi.Attachment{
		Title:    f.Title,
		Text:     f.Body,
		Color:    f.Color,
		Fallback: f.Title,
	}
	for _, fld := range f.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: fld.Name,
			Value: fld.Value,
			Short: fld.Short,
		})
	}
	return &slackapi.WebhookMessage{
		Text:        f.Title,
		Attachments: []slackapi.Attachment{att},
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors, honoring RetryAfter when Slack sends it.
func (w *Webhook) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * w.baseBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
