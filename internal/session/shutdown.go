package session

import (
	"context"

	"github.com/spacepanda/core/internal/errs"
	"github.com/spacepanda/core/internal/mls"
)

// Shutdown drains in-flight work and persists a final snapshot of
// every attached group before returning. It honors ctx's deadline: if
// the drain does not finish in time, it still attempts the snapshot
// flush (a best-effort save beats none) and returns ctx.Err().
func (c *Coordinator) Shutdown(ctx context.Context) error {
	close(c.shutdown)

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	var drainErr error
	select {
	case <-drained:
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	if err := c.persistAllSnapshots(); err != nil {
		if drainErr == nil {
			drainErr = err
		}
	}
	return drainErr
}

func (c *Coordinator) persistAllSnapshots() error {
	if c.store == nil {
		return nil
	}
	c.mu.RLock()
	snaps := make([]mls.GroupSnapshot, 0, len(c.groups))
	for _, engine := range c.groups {
		snaps = append(snaps, engine.Snapshot())
	}
	c.mu.RUnlock()

	if err := c.store.PutSnapshots(snaps); err != nil {
		c.log.Error("failed to persist snapshots during shutdown")
		return errs.Wrap(errs.Storage, "persist snapshots on shutdown", err)
	}
	return nil
}
