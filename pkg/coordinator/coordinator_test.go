package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/curator/pkg/curatorerr"
	"github.com/cuemby/curator/pkg/metrics"
)

func TestWait_ReceivesValueAfterComplete(t *testing.T) {
	c := New(time.Second)
	c.Register("u1")

	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Complete("u1", "ok result", nil)
	}()

	v, err := c.Wait(context.Background(), "u1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok result", v)
}

func TestWait_ReceivesErrorAfterComplete(t *testing.T) {
	c := New(time.Second)
	c.Register("u2")

	go c.Complete("u2", nil, curatorerr.New(curatorerr.AlreadyExists, "dup"))

	_, err := c.Wait(context.Background(), "u2", time.Second)
	require.Error(t, err)
	kind, ok := curatorerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, curatorerr.AlreadyExists, kind)
}

func TestWait_TimesOutWithoutRemovingSlot(t *testing.T) {
	c := New(time.Second)
	c.Register("u3")

	_, err := c.Wait(context.Background(), "u3", 20*time.Millisecond)
	require.Error(t, err)
	kind, _ := curatorerr.KindOf(err)
	assert.Equal(t, curatorerr.Timeout, kind)

	// A late completion still wakes a subsequent wait on the same slot,
	// because Timeout does not delete the slot.
	go c.Complete("u3", "late value", nil)
	v, err := c.Wait(context.Background(), "u3", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late value", v)
}

func TestComplete_WithoutRegisterIsNoOp(t *testing.T) {
	c := New(time.Second)
	assert.NotPanics(t, func() { c.Complete("never-registered", "x", nil) })
}

func TestComplete_DuplicateCallDecrementsGaugeOnce(t *testing.T) {
	c := New(time.Second)
	c.Register("u6")
	before := testutil.ToFloat64(metrics.PendingSlots)

	c.Complete("u6", "ok", nil)
	c.Complete("u6", "ok", nil) // a replayed completion must not double-Dec

	_, err := c.Wait(context.Background(), "u6", time.Second)
	require.NoError(t, err)

	// The slot's removal (and its Dec) is scheduled on a grace-window timer;
	// give it time to fire before asserting the gauge settled back down.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PendingSlots) == before
	}, graceWindow+500*time.Millisecond, 10*time.Millisecond)
}

func TestShutdown_FailsAllPendingSlots(t *testing.T) {
	c := New(time.Second)
	c.Register("u4")
	c.Register("u5")

	c.Shutdown()

	for _, uuid := range []string{"u4", "u5"} {
		_, err := c.Wait(context.Background(), uuid, time.Second)
		require.Error(t, err)
		kind, _ := curatorerr.KindOf(err)
		assert.Equal(t, curatorerr.Shutdown, kind)
	}
}
