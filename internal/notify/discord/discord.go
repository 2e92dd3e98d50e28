// Package discord posts escalation events to a Discord channel as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/zulandar/rehearsal/internal/escalation"
	"github.com/zulandar/rehearsal/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Channel implements notify.Notifier for one Discord channel. It only uses
// the REST API; no gateway connection is opened.
type Channel struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ChannelOpts holds parameters for creating a Channel.
type ChannelOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Channel.
func New(opts ChannelOpts) (*Channel, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("discord: bot token is required")
		}
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Channel{
		sess:        sess,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Notify implements notify.Notifier.
func (c *Channel) Notify(ctx context.Context, ev escalation.Event) error {
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{toEmbed(notify.Format(ev))}}
	err := c.retryOnRateLimit(ctx, func() error {
		_, err := c.sess.ChannelMessageSendComplex(c.channelID, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send escalation: %w", err)
	}
	return nil
}

func toEmbed(f notify.Formatted) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       f.Title,
		Description: f.Body,
		Color:       parseHexColor(f.Color),
	}
	for _, fld := range f.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   fld.Name,
			Value:  fld.Value,
			Inline: fld.Short,
		})
	}
	return embed
}

// parseHexColor converts a hex color string (e.g. "#36a64f") to an int.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		color <<= 4
		switch {
		case c >= '0' && c <= '9':
			color |= int(c - '0')
		case c >= 'a' && c <= 'f':
			color |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			color |= int(c-'A') + 10
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on HTTP
// 429 responses. It respects context cancellation.
func (c *Channel) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}
		wait := time.Duration(math.Pow(2, float64(attempt))) * c.baseBackoff
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
