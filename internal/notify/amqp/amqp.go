// Package amqp publishes escalation events to a RabbitMQ topic exchange so
// downstream services can react to handoffs.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/rehearsal/internal/escalation"
)

// DefaultExchange is used when PublisherOpts.Exchange is empty.
const DefaultExchange = "rehearsal.events"

// maxDelay caps the dial backoff.
const maxDelay = 60 * time.Second

// channel abstracts the amqp091.Channel methods we use, enabling test mocks.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Envelope is the published message body.
type Envelope struct {
	Type    string           `json:"type"`
	Version int              `json:"version"`
	Data    escalation.Event `json:"data"`
}

// Publisher implements notify.Notifier over AMQP.
type Publisher struct {
	exchange string
	open     func() (channel, error)
	close    func() error
	log      *logrus.Logger
}

// PublisherOpts holds parameters for creating a Publisher.
type PublisherOpts struct {
	URL      string
	Exchange string
	Log      *logrus.Logger
	// Attempts and Delay control dial retries.
	Attempts int
	Delay    time.Duration
	// For testing: open a channel without dialing.
	Open func() (channel, error)
}

// Dial connects to the broker, declares the topic exchange and returns a
// Publisher.
func Dial(ctx context.Context, opts PublisherOpts) (*Publisher, error) {
	if opts.Exchange == "" {
		opts.Exchange = DefaultExchange
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Open != nil {
		return &Publisher{exchange: opts.Exchange, open: opts.Open, close: func() error { return nil }, log: opts.Log}, nil
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("amqp: url is required")
	}

	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", opts.Exchange, err)
	}

	return &Publisher{
		exchange: opts.Exchange,
		open: func() (channel, error) {
			return conn.Channel()
		},
		close: conn.Close,
		log:   opts.Log,
	}, nil
}

// dialWithRetry connects with exponential backoff, giving up on context
// cancellation.
func dialWithRetry(ctx context.Context, opts PublisherOpts) (*amqp091.Connection, error) {
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = time.Second
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		sleep := delay * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDelay {
			sleep = maxDelay
		}
		opts.Log.WithError(err).WithFields(logrus.Fields{"attempt": i, "sleep": sleep}).Warn("amqp dial failed")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("amqp: dial cancelled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}
	return nil, fmt.Errorf("amqp: connect after %d attempts: %w", attempts, lastErr)
}

// RoutingKey is the key an event is published under.
func RoutingKey(ev escalation.Event) string {
	return "escalation." + string(ev.Reason.Kind)
}

// Notify implements notify.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev escalation.Event) error {
	ch, err := p.open()
	if err != nil {
		return fmt.Errorf("amqp: open channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(Envelope{Type: "escalation.triggered", Version: 1, Data: ev})
	if err != nil {
		return fmt.Errorf("amqp: encode event: %w", err)
	}
	key := RoutingKey(ev)
	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: ev.SessionID,
		Timestamp:     ev.At,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("amqp: publish %s: %w", key, err)
	}
	p.log.WithFields(logrus.Fields{"key": key, "exchange": p.exchange}).Debug("published")
	return nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	return p.close()
}
