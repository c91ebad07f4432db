package lock

import (
	"context"
	"testing"
	"time"

	"cex-arbitrage-go/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey_String(t *testing.T) {
	assert.Equal(t, "binance:USDT", Key{Exchange: "Binance", Asset: "usdt"}.String())
}

func TestMemoryLocker_ConflictingKeysRejected(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, []Key{{"binance", "USDT"}, {"binance", "BTC"}, {"okx", "BTC"}}, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, []Key{{"okx", "BTC"}, {"okx", "USDT"}}, time.Minute)
	require.Error(t, err)
	assert.Equal(t, apperror.KindCapitalLocked, apperror.KindOf(err))
	assert.Equal(t, "okx", apperror.ExchangeOf(err))

	// Disjoint balances are independent.
	r2, err := l.Acquire(ctx, []Key{{"okx", "ETH"}}, time.Minute)
	require.NoError(t, err)
	r2()

	release()
	release()
	r3, err := l.Acquire(ctx, []Key{{"okx", "BTC"}}, time.Minute)
	require.NoError(t, err)
	r3()
}

func TestMemoryLocker_FailedAcquireHoldsNothing(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, []Key{{"okx", "BTC"}}, time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, []Key{{"binance", "USDT"}, {"okx", "BTC"}}, time.Minute)
	require.Error(t, err)

	r, err := l.Acquire(ctx, []Key{{"binance", "USDT"}}, time.Minute)
	require.NoError(t, err)
	r()
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, []Key{{"binance", "BTC"}}, time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, []Key{{"binance", "BTC"}}, time.Minute)
	require.NoError(t, err)

	// Releasing the expired holder must not free the new one.
	stale()
	_, err = l.Acquire(ctx, []Key{{"binance", "BTC"}}, time.Minute)
	assert.Equal(t, apperror.KindCapitalLocked, apperror.KindOf(err))
	fresh()
}

func TestMemoryLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryLocker().Acquire(ctx, []Key{{"binance", "BTC"}}, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
