// Package payment talks to the Toss Payments confirm and cancel APIs.
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Result is an approved payment as reported by the gateway.
type Result struct {
	PaymentKey string
	OrderID    string
	Status     string
	Method     string
	Amount     decimal.Decimal
	ApprovedAt time.Time
}

// GatewayError is a rejection returned by the gateway with an HTTP status.
// 4xx rejections are final for the payment; 5xx ones are transient.
type GatewayError struct {
	Status  int
	Code    string
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("toss %d %s: %s", e.Status, e.Code, e.Message)
}

// Rejected reports whether err is a final decline of the payment rather
// than the gateway being unavailable.
func Rejected(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Status < 500
}

// Client confirms payments. Calls go through a circuit breaker so an
// outage fails fast instead of tying up request goroutines. Declines are
// answers, not failures, and never trip it.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// BreakerSettings trips after five calls in a minute when at least half
// of them failed, and probes again after cooldown.
func BreakerSettings(name string, cooldown time.Duration, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= 5 && c.TotalFailures*2 >= c.Requests
		},
		IsSuccessful: func(err error) bool { return err == nil || Rejected(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state changed", zap.String("breaker", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
}

func NewClient(baseURL, secretKey string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		auth:    "Basic " + base64.StdEncoding.EncodeToString([]byte(secretKey+":")),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(BreakerSettings("toss", 30*time.Second, logger)),
		logger:  logger,
	}
}

// BreakerState reports the gateway breaker state.
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

type confirmReq struct {
	PaymentKey string `json:"paymentKey"`
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
}

type cancelReq struct {
	CancelReason string `json:"cancelReason"`
}

type confirmResp struct {
	PaymentKey  string          `json:"paymentKey"`
	OrderID     string          `json:"orderId"`
	Status      string          `json:"status"`
	Method      string          `json:"method"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ApprovedAt  string          `json:"approvedAt"`
}

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Confirm approves a payment the client authorized with the gateway
// widget. Amounts are whole KRW.
func (c *Client) Confirm(ctx context.Context, paymentKey, orderID string, amount decimal.Decimal) (Result, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.confirm(ctx, paymentKey, orderID, amount)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("toss: breaker open, confirm skipped", zap.String("order_id", orderID))
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// Cancel refunds a captured payment in full. It bypasses the breaker: a
// refund owed to a customer is attempted even while confirms fail fast.
func (c *Client) Cancel(ctx context.Context, paymentKey, reason string) error {
	body, err := json.Marshal(cancelReq{CancelReason: reason})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, "/v1/payments/"+url.PathEscape(paymentKey)+"/cancel", paymentKey+":cancel", body)
	if err != nil {
		return fmt.Errorf("toss cancel: %w", err)
	}
	return nil
}

func (c *Client) confirm(ctx context.Context, paymentKey, orderID string, amount decimal.Decimal) (Result, error) {
	body, err := json.Marshal(confirmReq{PaymentKey: paymentKey, OrderID: orderID, Amount: amount.IntPart()})
	if err != nil {
		return Result{}, err
	}
	raw, err := c.post(ctx, "/v1/payments/confirm", paymentKey, body)
	if err != nil {
		return Result{}, fmt.Errorf("toss confirm: %w", err)
	}

	var cr confirmResp
	if err := json.Unmarshal(raw, &cr); err != nil {
		return Result{}, fmt.Errorf("toss confirm: decode: %w", err)
	}
	approved, err := time.Parse(time.RFC3339, cr.ApprovedAt)
	if err != nil {
		approved = time.Now().UTC()
	}
	return Result{
		PaymentKey: cr.PaymentKey,
		OrderID:    cr.OrderID,
		Status:     cr.Status,
		Method:     cr.Method,
		Amount:     cr.TotalAmount,
		ApprovedAt: approved.UTC(),
	}, nil
}

// post sends an authenticated JSON request and returns the body of a 200
// answer. Any other status becomes a *GatewayError.
func (c *Client) post(ctx context.Context, path, idempotencyKey string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var er errorResp
		_ = json.Unmarshal(raw, &er)
		if er.Message == "" {
			er.Message = http.StatusText(resp.StatusCode)
		}
		return nil, &GatewayError{Status: resp.StatusCode, Code: er.Code, Message: er.Message}
	}
	return raw, nil
}
