package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/prudhvinik1/flashsync/internal/models"
	"github.com/prudhvinik1/flashsync/internal/remote"
)

type PushResult struct {
	Pushed  int
	Dropped int
	Pending int
}

// Push drains the queue once. Items of the same flash go one at a time in
// queue order; independent flashes are pushed concurrently. Invalid or
// forbidden items are dropped. Any other failed item stays queued together
// with everything after it for that flash.
func (c *Coordinator) Push(ctx context.Context) (PushResult, error) {
	if !c.pushing.CompareAndSwap(false, true) {
		return PushResult{}, ErrInProgress
	}
	defer c.pushing.Store(false)

	items, err := c.queue.Drain(ctx)
	if err != nil {
		return PushResult{}, err
	}
	if len(items) == 0 {
		return PushResult{}, nil
	}

	var (
		order  []string
		groups = make(map[string][]models.MutationQueueItem)
	)
	for _, item := range items {
		if _, ok := groups[item.Data.ID]; !ok {
			order = append(order, item.Data.ID)
		}
		groups[item.Data.ID] = append(groups[item.Data.ID], item)
	}

	var (
		mu  sync.Mutex
		res PushResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.PushConcurrency)
	for _, flashID := range order {
		group := groups[flashID]
		g.Go(func() error {
			r, err := c.pushGroup(gctx, group)
			mu.Lock()
			res.Pushed += r.Pushed
			res.Dropped += r.Dropped
			res.Pending += r.Pending
			mu.Unlock()
			return err
		})
	}
	err = g.Wait()

	c.log.Debug(ctx, "push finished", "pushed", res.Pushed, "dropped", res.Dropped, "pending", res.Pending)
	return res, err
}

// pushGroup returns an error only for local failures. Retryable remote
// failures are reported as pending.
func (c *Coordinator) pushGroup(ctx context.Context, group []models.MutationQueueItem) (PushResult, error) {
	var res PushResult
	for i, item := range group {
		err := c.remote.Push(ctx, item)
		delivered := err == nil
		switch {
		case delivered:
			res.Pushed++
		case remote.IsPermanent(err):
			c.log.Warn(ctx, "mutation rejected, dropping",
				"mutation_id", item.ID, "flash_id", item.Data.ID, "action", item.Action, "error", err)
			res.Dropped++
		case errors.Is(err, remote.ErrForbidden):
			// Ownership does not change by retrying.
			c.log.Warn(ctx, "mutation forbidden, dropping",
				"mutation_id", item.ID, "flash_id", item.Data.ID, "action", item.Action, "error", err)
			res.Dropped++
		default:
			c.log.Debug(ctx, "mutation left queued", "mutation_id", item.ID, "error", err)
			res.Pending += len(group) - i
			return res, nil
		}

		if err := c.queue.Confirm(ctx, item.ID); err != nil {
			return res, fmt.Errorf("failed to confirm mutation: %w", err)
		}
		if delivered && item.Action != models.ActionDelete {
			if _, err := c.store.MarkSynced(ctx, item.Data.ID, item.Data.Version, c.now()); err != nil {
				c.log.Warn(ctx, "failed to mark flash synced", "flash_id", item.Data.ID, "error", err)
			}
		}
	}
	return res, nil
}
