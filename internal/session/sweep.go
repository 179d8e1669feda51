package session

import (
	"context"
	"time"

	"github.com/voxgames/voxbank/internal/game"
	"github.com/voxgames/voxbank/internal/ledger"
)

// Sweep reclaims sessions idle longer than timeout, checking every
// interval until ctx is cancelled. Abandoned sessions always resolve by
// refund; escrow is never discarded.
func (c *Coordinator) Sweep(ctx context.Context, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.reclaimIdle(timeout)
		}
	}
}

func (c *Coordinator) reclaimIdle(timeout time.Duration) {
	cutoff := c.clock().Add(-timeout)
	for _, s := range c.registry.Idle(cutoff) {
		c.Abandon(s)
	}
}

// Abandon resolves a session as abandoned: outstanding escrow is
// refunded and the slot is released. Racing against a concurrent
// terminal transition is safe; whichever settles first wins and the
// other finds no escrow left.
func (c *Coordinator) Abandon(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return
	}
	refund := game.RefundOps(s.Machine)
	if len(refund) > 0 {
		if err := c.ledger.ApplyBatch(refund, ledger.NewOpToken()); err != nil {
			c.logger.Printf("session %s: abandon refund failed: %v", s.ID, err)
			return
		}
		c.logger.Printf("session %s: abandoned, %d holds refunded", s.ID, len(refund))
	}
	s.released = true
	c.registry.releaseIf(s.Key, s)
}
