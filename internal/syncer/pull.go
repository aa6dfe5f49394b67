package syncer

import (
	"context"
	"errors"

	"github.com/prudhvinik1/flashsync/internal/conflict"
	"github.com/prudhvinik1/flashsync/internal/localstore"
	"github.com/prudhvinik1/flashsync/internal/models"
)

type PullResult struct {
	Inserted  int
	Updated   int
	Kept      int
	Discarded bool
}

// Pull merges the signed-in user's server records into the local store.
// Local records missing from the response are never removed.
//
// A pull requested while another is running returns ErrInProgress and
// makes the running pull go around once more.
func (c *Coordinator) Pull(ctx context.Context) (PullResult, error) {
	if !c.pulling.CompareAndSwap(false, true) {
		c.pullAgain.Store(true)
		return PullResult{}, ErrInProgress
	}
	defer c.pulling.Store(false)

	for {
		res, err := c.pullOnce(ctx)
		if err != nil || !c.pullAgain.Swap(false) {
			return res, err
		}
	}
}

func (c *Coordinator) pullOnce(ctx context.Context) (PullResult, error) {
	session := c.session.Load()
	userID, err := c.userID(ctx)
	if err != nil {
		return PullResult{}, err
	}

	serverFlashes, err := c.remote.Pull(ctx, userID)
	if err != nil {
		return PullResult{}, err
	}
	// Signed out or switched user while the request was in flight.
	if c.session.Load() != session {
		c.log.Debug(ctx, "discarding stale pull", "user_id", userID)
		return PullResult{Discarded: true}, nil
	}

	var (
		res     PullResult
		winners []*models.Flash
	)
	for _, server := range serverFlashes {
		local, err := c.store.Get(ctx, server.ID)
		switch {
		case errors.Is(err, localstore.ErrNotFound):
			res.Inserted++
			winners = append(winners, server)
		case err != nil:
			return res, err
		default:
			r := conflict.Resolve(*local, *server)
			if r.Resolution == conflict.ResolutionLocal {
				res.Kept++
				continue
			}
			res.Updated++
			winners = append(winners, &r.Winner)
		}
	}

	if err := c.store.PutAll(ctx, winners); err != nil {
		return res, err
	}
	if c.opts.OnMerged != nil && len(winners) > 0 {
		c.opts.OnMerged(winners)
	}

	c.log.Debug(ctx, "pull finished", "inserted", res.Inserted, "updated", res.Updated, "kept", res.Kept)
	return res, nil
}
