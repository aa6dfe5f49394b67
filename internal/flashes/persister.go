package flashes

import (
	"context"

	"github.com/prudhvinik1/flashsync/internal/models"
)

// Task is one pending durable write. Done is closed once the store write
// and queue append have finished, successfully or not.
type Task struct {
	action models.Action
	flash  models.Flash
	done   chan struct{}
	err    error
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task completes and returns its persistence error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) submit(action models.Action, f models.Flash) *Task {
	t := &Task{action: action, flash: f, done: make(chan struct{})}
	if !e.enqueueTask(t) {
		t.err = ErrClosed
		close(t.done)
		e.log.Error(context.Background(), "mutation not persisted", "flash_id", f.ID, "error", ErrClosed)
	}
	return t
}

// enqueueTask appends t without blocking on the worker.
func (e *Engine) enqueueTask(t *Task) bool {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	if e.closed {
		return false
	}
	e.pending = append(e.pending, t)
	e.signal()
	return true
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// next blocks until tasks are pending and returns all of them in
// submission order. It reports false once the engine is closed and drained.
func (e *Engine) next() ([]*Task, bool) {
	for {
		e.pendMu.Lock()
		batch, closed := e.pending, e.closed
		e.pending = nil
		e.pendMu.Unlock()

		if len(batch) > 0 {
			return batch, true
		}
		if closed {
			return nil, false
		}
		<-e.wake
	}
}

// Flush waits until every task submitted before the call has completed.
func (e *Engine) Flush(ctx context.Context) error {
	barrier := &Task{done: make(chan struct{})}
	if !e.enqueueTask(barrier) {
		return ErrClosed
	}
	return barrier.Wait(ctx)
}

// Close stops accepting mutations, persists the ones already submitted and
// stops the worker.
func (e *Engine) Close(ctx context.Context) error {
	e.pendMu.Lock()
	e.closed = true
	e.signal()
	e.pendMu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.subMu.Lock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	e.subMu.Unlock()
	return nil
}

func (e *Engine) persist() {
	defer close(e.done)
	for {
		batch, ok := e.next()
		if !ok {
			return
		}
		for _, t := range batch {
			if t.action != "" {
				t.err = e.write(t)
			}
			close(t.done)
		}
	}
}

// write persists one mutation: the store first, then the queue. Failures
// are logged; the projection keeps the optimistic state.
func (e *Engine) write(t *Task) error {
	ctx := context.Background()

	var err error
	if t.action == models.ActionDelete {
		err = e.store.Delete(ctx, t.flash.ID)
	} else {
		f := t.flash.Clone()
		err = e.store.Put(ctx, &f)
	}
	if err != nil {
		e.log.Error(ctx, "failed to persist flash", "flash_id", t.flash.ID, "action", t.action, "error", err)
		return err
	}

	item := models.NewMutation(t.action, t.flash, e.now())
	if err := e.queue.Enqueue(ctx, item); err != nil {
		e.log.Error(ctx, "failed to enqueue mutation", "flash_id", t.flash.ID, "action", t.action, "error", err)
		return err
	}
	return nil
}
