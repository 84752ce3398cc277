package state

import "optionflow/models"

// AddTrade prepends t unless the feed is paused and trims the tail beyond
// limit. A non-positive limit keeps every trade.
func (c *Container) AddTrade(t models.Trade, limit int) (added, evicted bool) {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return false, false
	}
	c.trades = append(c.trades, models.Trade{})
	copy(c.trades[1:], c.trades)
	c.trades[0] = t
	if limit > 0 && len(c.trades) > limit {
		c.trades[len(c.trades)-1] = models.Trade{}
		c.trades = c.trades[:limit]
		evicted = true
	}
	c.seq++
	ch := Change{
		Seq:        c.seq,
		Action:     ActionAddTrade,
		Trade:      &t,
		Connection: c.conn.Clone(),
		Error:      c.errMsg,
		Paused:     c.paused,
		TradeCount: len(c.trades),
	}
	c.mu.Unlock()

	c.notify(ch)
	return true, evicted
}

// ClearTrades empties the trade window and returns what was removed.
func (c *Container) ClearTrades() []models.Trade {
	var removed []models.Trade
	c.apply(ActionClearTrades, func() *models.Trade {
		removed = c.trades
		c.trades = nil
		return nil
	})
	return removed
}

// SetConnectionStats replaces the connection state. The reset reason is
// dropped unless the status is reset.
func (c *Container) SetConnectionStats(s models.ConnectionState) {
	c.apply(ActionSetConnectionStats, func() *models.Trade {
		c.conn = s.Clone()
		if c.conn.Status != models.StatusReset {
			c.conn.ResetReason = ""
		}
		if c.conn.ReconnectAttempt < 0 {
			c.conn.ReconnectAttempt = 0
		}
		return nil
	})
}

// SetStatus changes only the status field of the connection state.
func (c *Container) SetStatus(status models.ConnectionStatus) {
	c.apply(ActionSetConnectionStats, func() *models.Trade {
		c.conn.Status = status
		if status != models.StatusReset {
			c.conn.ResetReason = ""
		}
		return nil
	})
}

// ResetConnectionStats returns the connection state to its initial value and
// clears the error.
func (c *Container) ResetConnectionStats() {
	c.apply(ActionResetConnectionStats, func() *models.Trade {
		c.conn = models.ConnectionState{Status: models.StatusDisconnected}
		c.errMsg = ""
		return nil
	})
}

// UpdateLastConnected marks the connection established now and clears the
// error.
func (c *Container) UpdateLastConnected() {
	c.apply(ActionUpdateLastConnected, func() *models.Trade {
		c.conn.LastConnectedAt = c.now()
		c.conn.Status = models.StatusConnected
		c.conn.ResetReason = ""
		c.errMsg = ""
		return nil
	})
}

// UpdateLastDisconnected marks the connection lost now.
func (c *Container) UpdateLastDisconnected() {
	c.apply(ActionUpdateLastDisconnected, func() *models.Trade {
		c.conn.LastDisconnectedAt = c.now()
		c.conn.Status = models.StatusDisconnected
		c.conn.ResetReason = ""
		return nil
	})
}

// IncrementReconnectAttempt bumps the attempt counter by one.
func (c *Container) IncrementReconnectAttempt() int {
	var n int
	c.apply(ActionIncrementReconnectAttempt, func() *models.Trade {
		c.conn.ReconnectAttempt++
		n = c.conn.ReconnectAttempt
		return nil
	})
	return n
}

// SetServiceReset clears the trades and error and parks the status in reset
// with reason. It returns the cleared trades.
func (c *Container) SetServiceReset(reason string) []models.Trade {
	var removed []models.Trade
	c.apply(ActionSetServiceReset, func() *models.Trade {
		removed = c.trades
		c.trades = nil
		c.errMsg = ""
		c.conn.Status = models.StatusReset
		c.conn.ResetReason = reason
		c.conn.LastDisconnectedAt = c.now()
		return nil
	})
	return removed
}

// ClearServiceReset leaves the reset state. The status only returns to
// connected when it is still reset; a disconnect that happened meanwhile wins.
func (c *Container) ClearServiceReset() bool {
	var cleared bool
	c.apply(ActionClearServiceReset, func() *models.Trade {
		if c.conn.Status == models.StatusReset {
			c.conn.Status = models.StatusConnected
			cleared = true
		}
		c.conn.ResetReason = ""
		return nil
	})
	return cleared
}

// SetError stores a user-facing error. An empty message clears it.
func (c *Container) SetError(msg string) {
	c.apply(ActionSetError, func() *models.Trade {
		c.errMsg = msg
		return nil
	})
}

// TogglePause flips the pause flag and returns the new value.
func (c *Container) TogglePause() bool {
	var paused bool
	c.apply(ActionTogglePause, func() *models.Trade {
		c.paused = !c.paused
		paused = c.paused
		return nil
	})
	return paused
}

// SetPauseState sets the pause flag explicitly.
func (c *Container) SetPauseState(paused bool) {
	c.apply(ActionSetPauseState, func() *models.Trade {
		c.paused = paused
		return nil
	})
}

// SetStatistics stores precomputed statistics for the current window.
func (c *Container) SetStatistics(s models.Statistics) {
	c.apply(ActionSetStatistics, func() *models.Trade {
		c.statistics = s
		return nil
	})
}

// Statistics returns the last stored statistics.
func (c *Container) Statistics() models.Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statistics
}

// Connected reports whether the feed is usable, which includes the transient
// reset state.
func (c *Container) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn.Status == models.StatusConnected || c.conn.Status == models.StatusReset
}
