package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/model"
)

// DefaultPollInterval is the order status polling period after checkout.
const DefaultPollInterval = 2 * time.Second

// PollOrderStatus fetches the order status until it leaves
// PENDING_PAYMENT, ctx ends or a fetch fails. The status that stopped the
// loop is returned.
func (c *Client) PollOrderStatus(ctx context.Context, orderID string, interval time.Duration) (OrderStatus, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	for {
		st, err := c.GetOrderStatus(ctx, orderID)
		if err != nil {
			return OrderStatus{}, err
		}
		if st.Status != model.OrderPendingPayment {
			c.logger.Debug("order left pending", zap.String("order_id", orderID), zap.String("status", st.Status))
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-c.clock.After(interval):
		}
	}
}
