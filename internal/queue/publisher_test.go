package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDoesNotWaitForBrokerDial(t *testing.T) {
	release := make(chan struct{})
	var dials atomic.Int32
	p := NewPublisher("amqp://broker.invalid", zap.NewNop())
	p.dial = func(string) (*amqp.Connection, error) {
		dials.Add(1)
		<-release
		return nil, errors.New("connection refused")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return dials.Load() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	err := p.Publish(context.Background(), PaymentConfirmed, PaymentConfirmedEvent{OrderID: "order-1"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "publish must not queue behind the dial")

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestPublishWithoutRunNeverDials(t *testing.T) {
	var dials atomic.Int32
	p := NewPublisher("amqp://broker.invalid", zap.NewNop())
	p.dial = func(string) (*amqp.Connection, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, p.Publish(context.Background(), CapsuleBuried, map[string]int{"room": i}), ErrNotConnected)
	}
	assert.Zero(t, dials.Load())
	assert.Len(t, p.wake, 1, "repeated drops coalesce into one reconnect request")
}

func TestPublishRejectsUnmarshalableEvent(t *testing.T) {
	p := NewPublisher("amqp://broker.invalid", zap.NewNop())
	err := p.Publish(context.Background(), CapsuleBuried, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
}
