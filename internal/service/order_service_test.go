package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/timeegg/timeegg-server/internal/config"
	"github.com/timeegg/timeegg-server/internal/model"
	"github.com/timeegg/timeegg-server/internal/payment"
	"github.com/timeegg/timeegg-server/internal/queue"
	"github.com/timeegg/timeegg-server/internal/repository"
)

func TestQuote(t *testing.T) {
	prices := config.DefaultPrices()
	cases := []struct {
		name string
		in   OrderInput
		want int64
	}{
		{"solo week", OrderInput{TimeOption: "1_WEEK", Headcount: 1}, 1000},
		{"one photo is free", OrderInput{TimeOption: "1_WEEK", Headcount: 1, PhotoCount: 1}, 1000},
		{"group year", OrderInput{TimeOption: "1_year", Headcount: 3, PhotoCount: 2, AddMusic: true}, 8100},
		{"everything", OrderInput{TimeOption: "3_YEAR", Headcount: 10, PhotoCount: 10, AddMusic: true, AddVideo: true}, 17400},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Quote(prices, tc.in)
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(tc.want).Equal(got), "got %s", got)
		})
	}
}

func TestQuote_RejectsOutOfRange(t *testing.T) {
	prices := config.DefaultPrices()
	for _, in := range []OrderInput{
		{TimeOption: "2_WEEK", Headcount: 1},
		{TimeOption: "1_WEEK", Headcount: 0},
		{TimeOption: "1_WEEK", Headcount: 11},
		{TimeOption: "1_WEEK", Headcount: 1, PhotoCount: 11},
	} {
		_, err := Quote(prices, in)
		assert.ErrorIs(t, err, ErrInvalidOption, "%+v", in)
	}
}

type fakeGateway struct {
	res       payment.Result
	err       error
	cancelErr error
	calls     int
	cancelled []string
}

func (g *fakeGateway) Cancel(_ context.Context, key, _ string) error {
	g.cancelled = append(g.cancelled, key)
	return g.cancelErr
}

func (g *fakeGateway) Confirm(_ context.Context, key, orderID string, amount decimal.Decimal) (payment.Result, error) {
	g.calls++
	if g.err != nil {
		return payment.Result{}, g.err
	}
	r := g.res
	r.PaymentKey, r.OrderID, r.Amount = key, orderID, amount
	return r, nil
}

func orderRow(status string) []driver.Value {
	return []driver.Value{"ord-1", int64(1), "1_YEAR", 3, 2, true, false, "8100", status, nil, testNow, nil}
}

func newPaymentFixture(t *testing.T, gw Gateway) (*PaymentService, sqlmock.Sqlmock, *recorder) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	pub := &recorder{}
	return NewPaymentService(repository.NewOrderRepo(db), gw, pub, clockwork.NewFakeClockAt(testNow), zap.NewNop()), mock, pub
}

func TestConfirm_MarksOrderPaid(t *testing.T) {
	gw := &fakeGateway{res: payment.Result{Status: "DONE", Method: "CARD", ApprovedAt: testNow}}
	svc, mock, pub := newPaymentFixture(t, gw)
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).WithArgs("ord-1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ?")).
		WithArgs(model.OrderPaid, sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, res.Status)
	assert.Equal(t, "CARD", res.Method)
	assert.Equal(t, []string{queue.PaymentConfirmed}, pub.keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_AmountMismatchSkipsGateway(t *testing.T) {
	gw := &fakeGateway{}
	svc, mock, _ := newPaymentFixture(t, gw)
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(100)})
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Zero(t, gw.calls)
}

func TestConfirm_OtherUsersOrderLooksMissing(t *testing.T) {
	svc, mock, _ := newPaymentFixture(t, &fakeGateway{})
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))

	_, err := svc.Confirm(context.Background(), 2, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestConfirm_DeclineMarksOrderFailed(t *testing.T) {
	gw := &fakeGateway{err: &payment.GatewayError{Status: 400, Code: "REJECT_CARD_COMPANY", Message: "card declined"}}
	svc, mock, pub := newPaymentFixture(t, gw)
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ?")).
		WithArgs(model.OrderFailed, sqlmock.AnyArg(), "ord-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrPaymentFailed)
	assert.Contains(t, err.Error(), "card declined")
	assert.Empty(t, pub.keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_OutageLeavesOrderPending(t *testing.T) {
	gw := &fakeGateway{err: errors.New("connection refused")}
	svc, mock, _ := newPaymentFixture(t, gw)
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrPaymentNotEnabled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_RefundsWhenOrderCannotBeRecorded(t *testing.T) {
	cases := []struct {
		name      string
		cancelErr error
	}{
		{"refund accepted", nil},
		{"refund failed", errors.New("gateway down")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{res: payment.Result{Status: "DONE", Method: "CARD", ApprovedAt: testNow}, cancelErr: tc.cancelErr}
			svc, mock, pub := newPaymentFixture(t, gw)
			core, logs := observer.New(zap.ErrorLevel)
			svc.logger = zap.New(core)
			mock.ExpectQuery("FROM orders").
				WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
			mock.ExpectBegin()
			mock.ExpectQuery("FOR UPDATE").
				WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
			mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ?")).
				WillReturnError(errors.New("deadlock found"))
			mock.ExpectRollback()

			_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
			require.Error(t, err)
			assert.Equal(t, []string{"pk_1"}, gw.cancelled)
			assert.Empty(t, pub.keys)
			entries := logs.FilterField(zap.String("payment_key", "pk_1")).All()
			require.Len(t, entries, 1)
			assert.Equal(t, "ord-1", entries[0].ContextMap()["order_id"])
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestConfirm_ConcurrentlyCancelledOrderIsRefunded(t *testing.T) {
	gw := &fakeGateway{res: payment.Result{Status: "DONE", Method: "CARD", ApprovedAt: testNow}}
	svc, mock, _ := newPaymentFixture(t, gw)
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderCancelled)...))
	mock.ExpectRollback()

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrOrderState)
	assert.Equal(t, []string{"pk_1"}, gw.cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_DuplicateConfirmKeepsPayment(t *testing.T) {
	gw := &fakeGateway{res: payment.Result{Status: "DONE", Method: "CARD", ApprovedAt: testNow}}
	svc, mock, _ := newPaymentFixture(t, gw)
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPaid)...))
	mock.ExpectRollback()

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrOrderState)
	assert.Empty(t, gw.cancelled)
}

func TestConfirm_AlreadyPaid(t *testing.T) {
	svc, mock, _ := newPaymentFixture(t, &fakeGateway{})
	mock.ExpectQuery("FROM orders").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPaid)...))

	_, err := svc.Confirm(context.Background(), 1, ConfirmInput{PaymentKey: "pk_1", OrderID: "ord-1", Amount: decimal.NewFromInt(8100)})
	assert.ErrorIs(t, err, ErrOrderState)
}

func TestCreateRoom_RequiresPaidOrder(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ? FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPendingPayment)...))
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), 1, CreateRoomInput{OrderID: "ord-1", CapsuleName: "graduation"})
	assert.ErrorIs(t, err, ErrOrderNotPaid)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateRoom_OpenDateMustFollowDeadline(t *testing.T) {
	f := newRoomFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRow(model.OrderPaid)...))
	f.mock.ExpectRollback()

	_, err := f.svc.Create(context.Background(), 1, CreateRoomInput{OrderID: "ord-1", CapsuleName: "graduation", OpenDate: testNow.Add(time.Hour)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
