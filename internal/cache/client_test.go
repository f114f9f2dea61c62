package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNilConnectionReturnsErrNotConnected(t *testing.T) {
	c := &Client{prefix: "mev:"}
	ctx := context.Background()

	require.ErrorIs(t, c.SetWithTTL(ctx, "tx:0xabc", "{}", time.Minute), ErrNotConnected)

	_, err := c.Get(ctx, "tx:0xabc")
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, c.Delete(ctx, "tx:0xabc"), ErrNotConnected)

	_, err = c.TTL(ctx, "tx:0xabc")
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = c.KeysByPrefix(ctx, "tx:")
	require.ErrorIs(t, err, ErrNotConnected)

	require.ErrorIs(t, c.ListPushLeft(ctx, "swap_queue", "0xabc"), ErrNotConnected)
	require.ErrorIs(t, c.ListTrim(ctx, "swap_queue", 0, 999), ErrNotConnected)

	_, err = c.ListRange(ctx, "swap_queue", 0, 9)
	require.ErrorIs(t, err, ErrNotConnected)

	require.False(t, c.IsOpen(ctx))
}

func TestDownServerErrorsButNeverPanics(t *testing.T) {
	// Nothing listens on port 1; every call must degrade to an error.
	c := NewClient(Config{Addr: "127.0.0.1:1"}, "mev:")
	defer c.Close()
	ctx := context.Background()

	require.Error(t, c.SetWithTTL(ctx, "tx:0xabc", "{}", time.Minute))

	_, err := c.Get(ctx, "tx:0xabc")
	require.Error(t, err)

	_, err = c.ListRange(ctx, "swap_queue", 0, 9)
	require.Error(t, err)

	require.False(t, c.IsOpen(ctx))

	// Sweep swallows scan failures and reports zero removals.
	require.Equal(t, 0, c.SweepExpired(ctx, ""))
}

func TestKeyPrefixing(t *testing.T) {
	c := &Client{prefix: "mev:"}
	require.Equal(t, "mev:tx:0xabc", c.key("tx:0xabc"))
}
