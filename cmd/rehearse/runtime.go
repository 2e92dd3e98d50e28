package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/zulandar/rehearsal/internal/config"
	"github.com/zulandar/rehearsal/internal/db"
	"github.com/zulandar/rehearsal/internal/exchange"
	"github.com/zulandar/rehearsal/internal/logging"
	"github.com/zulandar/rehearsal/internal/metrics"
	"github.com/zulandar/rehearsal/internal/notify"
	"github.com/zulandar/rehearsal/internal/notify/amqp"
	"github.com/zulandar/rehearsal/internal/notify/discord"
	"github.com/zulandar/rehearsal/internal/notify/slack"
	"github.com/zulandar/rehearsal/internal/simulator"
)

// loadConfig reads the config file and builds the logger it describes.
func loadConfig(configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log.Options())
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// connectFromConfig loads the config and opens the migrated database.
func connectFromConfig(configPath string) (*config.Config, *logrus.Logger, *gorm.DB, error) {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, log, gormDB, nil
}

// buildExchange wires the primary service client and, unless disabled,
// the legacy fallback.
func buildExchange(cfg config.ServiceConfig, m *metrics.Metrics, log *logrus.Logger) (exchange.Exchange, error) {
	primary, err := exchange.NewClient(exchange.ClientOpts{
		BaseURL: cfg.BaseURL,
		Paths:   cfg.Primary.Paths(),
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.DisableLegacy {
		return primary, nil
	}
	legacy, err := exchange.NewClient(exchange.ClientOpts{
		BaseURL: cfg.BaseURL,
		Paths:   cfg.Legacy.Paths(),
		Legacy:  true,
		Token:   cfg.Token,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	policy, err := exchange.ParsePolicy(cfg.Fallback)
	if err != nil {
		return nil, err
	}
	return &exchange.Fallback{
		Primary:   primary,
		Secondary: legacy,
		Policy:    policy,
		OnFallback: func(op string, err error) {
			m.Fallback(op)
			log.WithError(err).WithField("op", op).Warn("primary service failed, retrying legacy endpoint")
		},
	}, nil
}

// buildNotifier assembles the configured escalation targets. It returns a
// nil Notifier when none are configured. The returned func releases any
// broker connection.
func buildNotifier(ctx context.Context, cfg config.NotifyConfig, gormDB *gorm.DB, log *logrus.Logger) (simulator.Notifier, func(), error) {
	var targets notify.Multi
	cleanup := func() {}

	if cfg.Record {
		r, err := notify.NewRecorder(gormDB)
		if err != nil {
			return nil, cleanup, err
		}
		targets = append(targets, r)
	}
	if cfg.SlackWebhookURL != "" {
		w, err := slack.New(slack.WebhookOpts{URL: cfg.SlackWebhookURL})
		if err != nil {
			return nil, cleanup, err
		}
		targets = append(targets, w)
	}
	if cfg.DiscordChannel != "" {
		c, err := discord.New(discord.ChannelOpts{BotToken: cfg.DiscordToken, ChannelID: cfg.DiscordChannel})
		if err != nil {
			return nil, cleanup, err
		}
		targets = append(targets, c)
	}
	if cfg.AMQPURL != "" {
		p, err := amqp.Dial(ctx, amqp.PublisherOpts{URL: cfg.AMQPURL, Exchange: cfg.AMQPExchange, Log: log, Attempts: 5})
		if err != nil {
			return nil, cleanup, err
		}
		targets = append(targets, p)
		cleanup = func() {
			if err := p.Close(); err != nil {
				log.WithError(err).Warn("close amqp publisher")
			}
		}
	}

	if len(targets) == 0 {
		return nil, cleanup, nil
	}
	log.WithField("targets", len(targets)).Info("escalation notifications enabled")
	return targets, cleanup, nil
}
