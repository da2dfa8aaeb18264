package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DialTimeout bounds the TCP connect and AMQP handshake of every dial.
const DialTimeout = 3 * time.Second

// ErrNotConnected is returned by Publish while the broker connection is
// down. The event is dropped; the background loop is already redialing.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// dial opens a broker connection with a bounded handshake.
func dial(url string) (*amqp.Connection, error) {
	return amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(DialTimeout),
		Heartbeat: 10 * time.Second,
	})
}

// Publisher publishes JSON events to durable queues over one long-lived
// connection. Run owns dialing; Publish only ever uses the channel that is
// already open, so a broker outage costs a request nothing but the event.
type Publisher struct {
	url    string
	logger *zap.Logger
	dial   func(url string) (*amqp.Connection, error)
	wake   chan struct{}

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

func NewPublisher(url string, logger *zap.Logger) *Publisher {
	return &Publisher{
		url:      url,
		logger:   logger,
		dial:     dial,
		wake:     make(chan struct{}, 1),
		declared: map[string]bool{},
	}
}

// Run keeps the connection up until ctx is cancelled. Dial failures are
// retried with exponential backoff capped at 30s.
func (p *Publisher) Run(ctx context.Context) {
	defer p.Close()
	backoff := time.Second
	for {
		if !p.connected() {
			if err := p.connect(); err != nil {
				p.logger.Warn("rabbitmq: publisher dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
				if !sleepCtx(ctx, backoff) {
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = time.Second
			p.logger.Info("rabbitmq: publisher connected")
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
	}
}

// connect dials outside p.mu and installs the new channel.
func (p *Publisher) connect() error {
	conn, err := p.dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel open: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		<-closed
		p.kick()
	}()

	p.mu.Lock()
	p.reset()
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	return nil
}

func (p *Publisher) connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch != nil && !p.ch.IsClosed()
}

// kick asks Run to check the connection without blocking the caller.
func (p *Publisher) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Publish marshals event and sends it persistently on the routing key.
// It never dials: without an open channel it returns ErrNotConnected.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("rabbitmq: marshal event failed", zap.String("queue", routingKey), zap.Error(err))
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.ch
	if ch == nil || ch.IsClosed() {
		p.kick()
		p.logger.Warn("rabbitmq: event dropped while disconnected", zap.String("queue", routingKey))
		return ErrNotConnected
	}
	if !p.declared[routingKey] {
		// Idempotent; durable so messages survive broker restarts.
		if _, err := ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
			p.reset()
			p.kick()
			p.logger.Warn("rabbitmq: queue declare failed", zap.String("queue", routingKey), zap.Error(err))
			return err
		}
		p.declared[routingKey] = true
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", routingKey, false, false, pub); err != nil {
		p.reset()
		p.kick()
		p.logger.Warn("rabbitmq: publish failed", zap.String("queue", routingKey), zap.Error(err))
		return err
	}
	return nil
}

// reset drops the current connection. p.mu is held.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
	p.declared = map[string]bool{}
}

// Close releases the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
