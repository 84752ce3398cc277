package state

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionflow/models"
)

func trade(id string) models.Trade {
	return models.Trade{ID: id, Symbol: "SPY", Price: 1, Quantity: 1, Type: "call"}
}

func TestAddTradeNewestFirstWithTailEviction(t *testing.T) {
	c := New(clock.NewMock())

	for _, id := range []string{"a", "b", "c"} {
		added, evicted := c.AddTrade(trade(id), 2)
		require.True(t, added)
		if id == "c" {
			assert.True(t, evicted)
		} else {
			assert.False(t, evicted)
		}
	}

	trades := c.Trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "c", trades[0].ID)
	assert.Equal(t, "b", trades[1].ID)
}

func TestAddTradeIgnoredWhilePaused(t *testing.T) {
	c := New(clock.NewMock())
	c.AddTrade(trade("a"), 0)
	require.True(t, c.TogglePause())

	added, _ := c.AddTrade(trade("b"), 0)
	assert.False(t, added)
	assert.Equal(t, 1, c.Len())

	require.False(t, c.TogglePause())
	added, _ = c.AddTrade(trade("c"), 0)
	assert.True(t, added)
	assert.Equal(t, "c", c.Trades()[0].ID)
}

func TestObserversReceiveActions(t *testing.T) {
	c := New(clock.NewMock())
	var got []Action
	id := c.Subscribe(func(ch Change) { got = append(got, ch.Action) })
	require.NotZero(t, id)
	assert.Zero(t, c.Subscribe(nil))

	c.AddTrade(trade("a"), 0)
	c.SetError("boom")
	c.IncrementReconnectAttempt()
	c.Unsubscribe(id)
	c.SetError("")

	assert.Equal(t, []Action{ActionAddTrade, ActionSetError, ActionIncrementReconnectAttempt}, got)
}

func TestServiceResetCycle(t *testing.T) {
	mock := clock.NewMock()
	c := New(mock)
	c.UpdateLastConnected()
	c.AddTrade(trade("a"), 0)
	c.SetError("stale")

	removed := c.SetServiceReset("memory limit")
	require.Len(t, removed, 1)

	conn := c.Connection()
	assert.Equal(t, models.StatusReset, conn.Status)
	assert.Equal(t, "memory limit", conn.ResetReason)
	assert.Empty(t, c.Error())
	assert.Zero(t, c.Len())
	assert.True(t, c.Connected())

	assert.True(t, c.ClearServiceReset())
	conn = c.Connection()
	assert.Equal(t, models.StatusConnected, conn.Status)
	assert.Empty(t, conn.ResetReason)
}

func TestClearServiceResetKeepsLaterDisconnect(t *testing.T) {
	c := New(clock.NewMock())
	c.SetServiceReset("limit")
	c.UpdateLastDisconnected()

	assert.False(t, c.ClearServiceReset())
	assert.Equal(t, models.StatusDisconnected, c.Connection().Status)
}

func TestConnectionTimestampsUseClock(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC))
	c := New(mock)

	c.UpdateLastConnected()
	mock.Add(time.Minute)
	c.UpdateLastDisconnected()

	conn := c.Connection()
	require.NotNil(t, conn.LastConnectedAt)
	require.NotNil(t, conn.LastDisconnectedAt)
	assert.Equal(t, time.Minute, conn.LastDisconnectedAt.Sub(*conn.LastConnectedAt))
	assert.Equal(t, models.StatusDisconnected, conn.Status)
}

func TestSetConnectionStatsDropsReasonOutsideReset(t *testing.T) {
	c := New(clock.NewMock())
	c.SetConnectionStats(models.ConnectionState{Status: models.StatusConnecting, ResetReason: "x", ReconnectAttempt: -3})

	conn := c.Connection()
	assert.Empty(t, conn.ResetReason)
	assert.Zero(t, conn.ReconnectAttempt)

	c.IncrementReconnectAttempt()
	c.ResetConnectionStats()
	assert.Equal(t, models.ConnectionState{Status: models.StatusDisconnected}, c.Connection())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	c := New(clock.NewMock())
	c.AddTrade(trade("a"), 0)
	c.UpdateLastConnected()

	snap := c.Snapshot()
	snap.Trades[0].ID = "mutated"
	*snap.Connection.LastConnectedAt = time.Time{}

	assert.Equal(t, "a", c.Trades()[0].ID)
	assert.False(t, c.Connection().LastConnectedAt.IsZero())
}

func TestChangesCarrySnapshotSequence(t *testing.T) {
	c := New(clock.NewMock())
	var seqs []uint64
	c.Subscribe(func(ch Change) { seqs = append(seqs, ch.Seq) })

	c.AddTrade(trade("a"), 0)
	snap := c.Snapshot()
	c.AddTrade(trade("b"), 0)
	c.SetError("boom")

	assert.Equal(t, []uint64{1, 2, 3}, seqs)
	assert.Equal(t, uint64(1), snap.Seq)
}
