package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	n     int
	err   error
	calls int
}

func (f *fakeSweeper) AutoSubmitExpired(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

type fakePurger struct{ cutoff time.Time }

func (f *fakePurger) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return 3, nil
}

type fakeCollector struct{ calls int }

func (f *fakeCollector) Collect(context.Context) { f.calls++ }

func TestNewRegistersEnabledJobs(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s, err := New(&fakeSweeper{}, &fakePurger{}, &fakeCollector{}, Specs{}, clk, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, s.Jobs())

	s, err = New(&fakeSweeper{}, nil, nil, Specs{AutoSubmit: "@every 5m"}, clk, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Jobs())
}

func TestNewRejectsBadSpec(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Now())
	_, err := New(&fakeSweeper{}, nil, nil, Specs{AutoSubmit: "every minute"}, clk, zap.NewNop())
	assert.Error(t, err)
}

func TestJobs(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	core, logs := observer.New(zapcore.InfoLevel)
	sw := &fakeSweeper{n: 2}
	tp := &fakePurger{}
	col := &fakeCollector{}
	s, err := New(sw, tp, col, Specs{}, clockwork.NewFakeClockAt(now), zap.New(core))
	require.NoError(t, err)

	s.autoSubmit()
	s.purgeTokens()
	s.collect()

	assert.Equal(t, 1, sw.calls)
	assert.Equal(t, now.Add(-24*time.Hour), tp.cutoff)
	assert.Equal(t, 1, col.calls)
	assert.Equal(t, 1, logs.FilterMessage("auto-submitted expired rooms").Len())
	assert.Equal(t, 1, logs.FilterMessage("purged refresh tokens").Len())

	sw.err = errors.New("db down")
	s.autoSubmit()
	assert.Equal(t, 1, logs.FilterMessage("auto-submit sweep failed").Len())
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeSweeper{}, nil, nil, Specs{}, clockwork.NewRealClock(), zap.NewNop())
	require.NoError(t, err)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
