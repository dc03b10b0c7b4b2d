// Package amqp publishes delivery events to a RabbitMQ exchange.
package amqp

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/outreach-queue/internal/audit"
	"github.com/streadway/amqp"
)

// Config holds publisher configuration.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string

	// DialTimeout bounds connection setup when the caller's context has no
	// earlier deadline.
	DialTimeout time.Duration
}

// channel is the subset of *amqp.Channel used by the publisher.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string, timeout time.Duration) (channel, func() error, error)

// Publisher implements audit.Sink by publishing JSON events. The connection
// is opened lazily and re-opened after a publish failure.
type Publisher struct {
	config Config
	dial   dialFunc

	mu        sync.Mutex
	ch        channel
	closeConn func() error
}

// NewPublisher creates a new AMQP publisher.
func NewPublisher(config Config) (*Publisher, error) {
	if config.URL == "" {
		return nil, errors.New("amqp publisher: url is required")
	}
	if config.Exchange == "" {
		config.Exchange = "outreach.events"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = audit.EventEmailSent
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &Publisher{config: config, dial: dialAMQP}, nil
}

// dialAMQP bounds the TCP connect and the AMQP handshake by timeout.
func dialAMQP(url string, timeout time.Duration) (channel, func() error, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn.Close, nil
}

// RecordDelivery publishes an email.sent event.
func (p *Publisher) RecordDelivery(ctx context.Context, d audit.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(audit.NewSentEvent(d))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(ctx); err != nil {
		return err
	}

	err = p.ch.Publish(p.config.Exchange, p.config.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    d.EntryID,
		Timestamp:    time.Now().UTC(),
		Type:         audit.EventEmailSent,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

type session struct {
	ch        channel
	closeConn func() error
	err       error
}

func (s session) close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.closeConn != nil {
		_ = s.closeConn()
	}
}

// connect opens the channel unless one is already open. The caller holds
// p.mu, so giving up on ctx must not wait for the dial to finish.
func (p *Publisher) connect(ctx context.Context) error {
	if p.ch != nil {
		return nil
	}

	timeout := p.config.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if err := ctx.Err(); err != nil || timeout <= 0 {
		return fmt.Errorf("dial amqp: %w", cmp.Or(err, context.DeadlineExceeded))
	}

	done := make(chan session, 1)
	go func() { done <- p.open(timeout) }()

	var s session
	select {
	case s = <-done:
	case <-ctx.Done():
		// Release whatever the dial eventually produces.
		go func() { (<-done).close() }()
		return fmt.Errorf("dial amqp: %w", ctx.Err())
	}
	if s.err != nil {
		return s.err
	}

	slog.Info("amqp publisher connected", "exchange", p.config.Exchange)
	p.ch = s.ch
	p.closeConn = s.closeConn
	return nil
}

func (p *Publisher) open(timeout time.Duration) session {
	ch, closeConn, err := p.dial(p.config.URL, timeout)
	if err != nil {
		return session{err: err}
	}
	s := session{ch: ch, closeConn: closeConn}
	if err := ch.ExchangeDeclare(p.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		s.close()
		return session{err: fmt.Errorf("declare exchange: %w", err)}
	}
	return s
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch = nil
	p.closeConn = nil
}

// Close closes the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
