// Package queue also contains the background consumer that drains the
// event queues and appends one line per event to an activity log.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// HandlerFunc processes one delivery body. Returning an error rejects the
// message without requeueing it.
type HandlerFunc func(ctx context.Context, body []byte) error

// Consumer drains every queue in its handler map.
type Consumer struct {
	url      string
	logger   *zap.Logger
	handlers map[string]HandlerFunc
}

func NewConsumer(url string, logger *zap.Logger, handlers map[string]HandlerFunc) *Consumer {
	return &Consumer{url: url, logger: logger, handlers: handlers}
}

// Run connects to RabbitMQ and consumes until ctx is cancelled. Dial and
// channel failures are retried with exponential backoff capped at 30s;
// each dial is bounded by DialTimeout.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := dial(c.url)
		if err != nil {
			c.logger.Warn("event-consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("event-consumer: consume loop ended; reconnecting", zap.Error(err))
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

type delivery struct {
	queue string
	amqp.Delivery
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Warn("event-consumer: set QoS failed", zap.Error(err))
	}

	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	open := 0
	for name := range c.handlers {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", name, err)
		}
		msgs, err := ch.Consume(name, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", name, err)
		}
		open++
		go func(name string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case merged <- delivery{queue: name, Delivery: d}:
				case <-done:
					return
				}
			}
			select {
			case merged <- delivery{queue: name}:
			case <-done:
			}
		}(name, msgs)
	}

	for open > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-merged:
			if d.Acknowledger == nil {
				open--
				continue
			}
			if err := c.handlers[d.queue](ctx, d.Body); err != nil {
				c.logger.Error("event-consumer: handle message failed", zap.String("queue", d.queue), zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
	return errors.New("deliveries channel closed")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ActivityLog returns handlers that decode each event and write it as one
// structured line to logger. The server points logger at logs/events.log.
func ActivityLog(logger *zap.Logger) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		CapsuleBuried: func(_ context.Context, body []byte) error {
			var ev CapsuleBuriedEvent
			if err := json.Unmarshal(body, &ev); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			logger.Info("capsule buried",
				zap.Uint64("waiting_room_id", ev.WaitingRoomID),
				zap.Uint64("capsule_id", ev.CapsuleID),
				zap.Uint64("host_user_id", ev.HostUserID),
				zap.Int("participants", len(ev.ParticipantIDs)),
				zap.Bool("auto", ev.IsAutoSubmitted),
				zap.String("open_date", ev.OpenDate),
				zap.String("buried_at", ev.BuriedAt))
			return nil
		},
		PaymentConfirmed: func(_ context.Context, body []byte) error {
			var ev PaymentConfirmedEvent
			if err := json.Unmarshal(body, &ev); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			logger.Info("payment confirmed",
				zap.String("order_id", ev.OrderID),
				zap.Uint64("user_id", ev.UserID),
				zap.String("amount", ev.Amount),
				zap.String("method", ev.Method),
				zap.String("confirmed_at", ev.ConfirmedAt))
			return nil
		},
		EasterEggDiscovered: func(_ context.Context, body []byte) error {
			var ev EasterEggDiscoveredEvent
			if err := json.Unmarshal(body, &ev); err != nil {
				return fmt.Errorf("unmarshal: %w", err)
			}
			logger.Info("easter egg discovered",
				zap.Uint64("capsule_id", ev.CapsuleID),
				zap.Uint64("owner_id", ev.OwnerID),
				zap.Uint64("viewer_id", ev.ViewerID),
				zap.Int("view_count", ev.ViewCount),
				zap.Int("view_limit", ev.ViewLimit))
			return nil
		},
	}
}
