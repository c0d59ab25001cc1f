package instrument

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditmos/blackbox/clock"
	"github.com/auditmos/blackbox/logging"
)

func TestTakeSnapshot(t *testing.T) {
	start := time.Unix(1000, 0)
	snap := TakeSnapshot(start, start.Add(90*time.Second))

	assert.Positive(t, snap.Goroutines)
	assert.Positive(t, snap.HeapAlloc)
	assert.Equal(t, 90.0, snap.UptimeSec)
}

func TestAutoCollect(t *testing.T) {
	rec := &recorder{}
	clk := clock.Fake(time.Unix(1000, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		AutoCollect(ctx, rec, clk, 10*time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)

	clk.Advance(10 * time.Second)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done

	entries := rec.all()
	require.Len(t, entries, 2)

	snap := entries[0]
	assert.Equal(t, logging.INFO, snap.Level)
	assert.Equal(t, "Runtime snapshot", snap.Message)
	require.NotNil(t, snap.Context)
	assert.Equal(t, "runtime", snap.Context.Module)
	goroutines, ok := payloadField(t, snap, "goroutines")
	require.True(t, ok)
	assert.Positive(t, goroutines.Float())
	uptime, ok := payloadField(t, snap, "uptimeSec")
	require.True(t, ok)
	assert.Equal(t, 10.0, uptime.Float())

	assert.Equal(t, "Runtime collection stopped", entries[1].Message)
	assert.Zero(t, clk.Tickers())
}

func TestAutoCollectDefaultInterval(t *testing.T) {
	rec := &recorder{}
	clk := clock.Fake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		AutoCollect(ctx, rec, clk, 0)
		close(done)
	}()
	require.Eventually(t, func() bool { return clk.Tickers() == 1 }, time.Second, time.Millisecond)

	clk.Advance(DefaultCollectInterval - time.Second)
	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)

	cancel()
	<-done
}
