package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/config"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/monitoring"
	"github.com/timeegg/timeegg-server/internal/payment"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
)

// OrderInput is the body of POST /orders.
type OrderInput struct {
	TimeOption string `json:"time_option"`
	Headcount  int    `json:"headcount"`
	PhotoCount int    `json:"photo_count"`
	AddMusic   bool   `json:"add_music"`
	AddVideo   bool   `json:"add_video"`
}

// OrderStatus is the body of GET /orders/:id/status.
type OrderStatus struct {
	OrderID string `json:"order_id"`
	Status  string `json:"order_status"`
}

type OrderService struct {
	orders *repository.OrderRepo
	prices config.PriceTable
	clock  clockwork.Clock
	logger *zap.Logger
}

func NewOrderService(orders *repository.OrderRepo, prices config.PriceTable, clk clockwork.Clock, logger *zap.Logger) *OrderService {
	return &OrderService{orders: orders, prices: prices, clock: clk, logger: logger}
}

// Quote prices an order. Headcount includes the host.
func Quote(p config.PriceTable, in OrderInput) (decimal.Decimal, error) {
	base, ok := p.Base[strings.ToUpper(in.TimeOption)]
	if !ok {
		return decimal.Zero, withMessage(ErrInvalidOption, "unknown time_option %q", in.TimeOption)
	}
	if in.Headcount < 1 || in.Headcount > p.MaxPeople {
		return decimal.Zero, withMessage(ErrInvalidOption, "headcount must be 1-%d", p.MaxPeople)
	}
	if in.PhotoCount < 0 || in.PhotoCount > p.MaxPhotos {
		return decimal.Zero, withMessage(ErrInvalidOption, "photo_count must be 0-%d", p.MaxPhotos)
	}
	total := base.Add(p.PerPerson.Mul(decimal.NewFromInt(int64(in.Headcount - 1))))
	if in.PhotoCount > 1 {
		total = total.Add(p.PerPhoto.Mul(decimal.NewFromInt(int64(in.PhotoCount - 1))))
	}
	if in.AddMusic {
		total = total.Add(p.Music)
	}
	if in.AddVideo {
		total = total.Add(p.Video)
	}
	return total, nil
}

// Create records a PENDING_PAYMENT order priced from the table.
func (s *OrderService) Create(ctx context.Context, userID uint64, in OrderInput) (model.Order, error) {
	amount, err := Quote(s.prices, in)
	if err != nil {
		return model.Order{}, err
	}
	o := model.Order{
		ID:         uuid.NewString(),
		UserID:     userID,
		TimeOption: strings.ToUpper(in.TimeOption),
		Headcount:  in.Headcount,
		PhotoCount: in.PhotoCount,
		AddMusic:   in.AddMusic,
		AddVideo:   in.AddVideo,
		Amount:     amount,
		Status:     model.OrderPendingPayment,
		CreatedAt:  s.clock.Now().UTC().Truncate(time.Second),
	}
	if err := s.orders.Create(ctx, &o); err != nil {
		return model.Order{}, fmt.Errorf("create order: %w", err)
	}
	s.logger.Info("order created", zap.String("order_id", o.ID), zap.Uint64("user_id", userID), zap.String("amount", amount.String()))
	return o, nil
}

// Get returns the caller's order. Other users' orders look missing.
func (s *OrderService) Get(ctx context.Context, id string, userID uint64) (model.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && o.UserID != userID) {
		return model.Order{}, ErrOrderNotFound
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("load order: %w", err)
	}
	return o, nil
}

func (s *OrderService) Status(ctx context.Context, id string, userID uint64) (OrderStatus, error) {
	o, err := s.Get(ctx, id, userID)
	if err != nil {
		return OrderStatus{}, err
	}
	return OrderStatus{OrderID: o.ID, Status: o.Status}, nil
}

// Cancel abandons an unpaid order.
func (s *OrderService) Cancel(ctx context.Context, id string, userID uint64) (model.Order, error) {
	if _, err := s.Get(ctx, id, userID); err != nil {
		return model.Order{}, err
	}
	err := s.orders.CancelPending(ctx, id, userID)
	if errors.Is(err, repository.ErrConflict) {
		return model.Order{}, withMessage(ErrOrderState, "only PENDING_PAYMENT orders can be cancelled")
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	return s.Get(ctx, id, userID)
}

// Gateway confirms payments with the payment provider and refunds the
// ones that could not be recorded.
type Gateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amount decimal.Decimal) (payment.Result, error)
	Cancel(ctx context.Context, paymentKey, reason string) error
}

// ConfirmInput is the body of POST /payments/toss/confirm.
type ConfirmInput struct {
	PaymentKey string          `json:"paymentKey"`
	OrderID    string          `json:"orderId"`
	Amount     decimal.Decimal `json:"amount"`
}

// ConfirmResult is returned after a successful confirmation.
type ConfirmResult struct {
	OrderID    string          `json:"order_id"`
	Status     string          `json:"order_status"`
	PaymentKey string          `json:"payment_key"`
	Method     string          `json:"method"`
	Amount     decimal.Decimal `json:"amount"`
	ApprovedAt time.Time       `json:"approved_at"`
}

type PaymentService struct {
	orders  *repository.OrderRepo
	gateway Gateway
	events  Publisher
	clock   clockwork.Clock
	logger  *zap.Logger
}

// NewPaymentService wires the confirm flow. A nil gateway disables
// payments; confirm then answers PAYMENT_UNAVAILABLE.
func NewPaymentService(orders *repository.OrderRepo, gateway Gateway, events Publisher, clk clockwork.Clock, logger *zap.Logger) *PaymentService {
	if events == nil {
		events = NopPublisher{}
	}
	return &PaymentService{orders: orders, gateway: gateway, events: events, clock: clk, logger: logger}
}

// Confirm verifies the amount against the order, asks the gateway to
// approve it and marks the order PAID. A final decline marks it FAILED; a
// gateway outage leaves it pending so the client may retry.
func (s *PaymentService) Confirm(ctx context.Context, userID uint64, in ConfirmInput) (ConfirmResult, error) {
	if strings.TrimSpace(in.PaymentKey) == "" || strings.TrimSpace(in.OrderID) == "" {
		return ConfirmResult{}, withMessage(ErrInvalidRequest, "paymentKey and orderId are required")
	}
	o, err := s.orders.GetByID(ctx, in.OrderID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && o.UserID != userID) {
		return ConfirmResult{}, ErrOrderNotFound
	}
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("load order: %w", err)
	}
	if o.Status != model.OrderPendingPayment {
		return ConfirmResult{}, withMessage(ErrOrderState, "order is %s", o.Status)
	}
	if !o.Amount.Equal(in.Amount) {
		monitoring.PaymentResult("amount_mismatch")
		return ConfirmResult{}, ErrAmountMismatch
	}
	if s.gateway == nil {
		return ConfirmResult{}, ErrPaymentNotEnabled
	}

	res, gwErr := s.gateway.Confirm(ctx, in.PaymentKey, o.ID, o.Amount)
	if gwErr != nil && !payment.Rejected(gwErr) {
		monitoring.PaymentResult("unavailable")
		s.logger.Warn("payment gateway unavailable", zap.String("order_id", o.ID), zap.Error(gwErr))
		return ConfirmResult{}, ErrPaymentNotEnabled
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	status := model.OrderPaid
	rec := model.Payment{OrderID: o.ID, PaymentKey: in.PaymentKey, Method: res.Method, Amount: o.Amount, Status: "DONE", CreatedAt: now}
	if gwErr != nil {
		status = model.OrderFailed
		rec.Status = "FAILED"
	} else {
		approved := res.ApprovedAt
		rec.ApprovedAt = &approved
	}

	var settled string
	err = withTx(ctx, s.orders.DB(), func(tx *sql.Tx) error {
		cur, err := s.orders.GetForUpdateTx(ctx, tx, o.ID)
		if err != nil {
			return err
		}
		settled = cur.Status
		if cur.Status != model.OrderPendingPayment {
			return withMessage(ErrOrderState, "order is %s", cur.Status)
		}
		var paidAt *time.Time
		if status == model.OrderPaid {
			paidAt = &now
		}
		if err := s.orders.SetStatusTx(ctx, tx, o.ID, status, paidAt); err != nil {
			return err
		}
		return s.orders.CreatePaymentTx(ctx, tx, &rec)
	})
	if err != nil {
		// A concurrent confirm of the same payment already recorded it.
		if gwErr == nil && settled != model.OrderPaid {
			s.refund(ctx, o.ID, in.PaymentKey, err)
		}
		return ConfirmResult{}, wrap("confirm payment", err)
	}

	if gwErr != nil {
		monitoring.PaymentResult("rejected")
		s.logger.Info("payment rejected", zap.String("order_id", o.ID), zap.Error(gwErr))
		var ge *payment.GatewayError
		if errors.As(gwErr, &ge) {
			return ConfirmResult{}, withMessage(ErrPaymentFailed, "%s", ge.Message)
		}
		return ConfirmResult{}, ErrPaymentFailed
	}

	monitoring.PaymentResult("paid")
	_ = s.events.Publish(ctx, queue.PaymentConfirmed, queue.PaymentConfirmedEvent{
		OrderID:     o.ID,
		UserID:      userID,
		PaymentKey:  in.PaymentKey,
		Amount:      o.Amount.String(),
		Method:      res.Method,
		ConfirmedAt: now.Format(time.RFC3339),
	})
	return ConfirmResult{
		OrderID:    o.ID,
		Status:     model.OrderPaid,
		PaymentKey: in.PaymentKey,
		Method:     res.Method,
		Amount:     o.Amount,
		ApprovedAt: res.ApprovedAt,
	}, nil
}

// refund cancels a payment the gateway captured but the order never
// recorded. A failed cancel leaves money taken with no PAID order, so it
// is logged with everything needed to reconcile by hand.
func (s *PaymentService) refund(ctx context.Context, orderID, paymentKey string, cause error) {
	err := s.gateway.Cancel(context.WithoutCancel(ctx), paymentKey, "order could not be recorded")
	if err != nil {
		monitoring.PaymentResult("unreconciled")
		s.logger.Error("captured payment not recorded and refund failed",
			zap.String("order_id", orderID), zap.String("payment_key", paymentKey),
			zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	monitoring.PaymentResult("refunded")
	s.logger.Error("captured payment not recorded, refunded",
		zap.String("order_id", orderID), zap.String("payment_key", paymentKey), zap.NamedError("cause", cause))
}
