package view

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// Update is a pure reducer.
type Update[M any] func(M, Msg) (M, []Cmd)

// Effect runs a non-timer command and returns the message to feed back, or
// nil.
type Effect func(ctx context.Context, cmd Cmd) Msg

// Component owns one mounted model. Timers and effects feed their results
// back through Dispatch; after Dispose every message is dropped.
type Component[M any] struct {
	mu       sync.Mutex
	model    M
	update   Update[M]
	effect   Effect
	clock    clock.Clock
	ctx      context.Context
	timers   map[string]*clock.Timer
	disposed bool
	inflight sync.WaitGroup
}

// NewComponent mounts model. Effects run with ctx, which is not cancelled by
// Dispose: an in-flight send completes and its result is dropped.
func NewComponent[M any](ctx context.Context, model M, update Update[M], effect Effect, clk clock.Clock) *Component[M] {
	if clk == nil {
		clk = clock.New()
	}
	return &Component[M]{
		model:  model,
		update: update,
		effect: effect,
		clock:  clk,
		ctx:    ctx,
		timers: make(map[string]*clock.Timer),
	}
}

// Model returns the current model.
func (c *Component[M]) Model() M {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Dispatch feeds msg through the reducer and runs the resulting commands.
func (c *Component[M]) Dispatch(msg Msg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}

	var cmds []Cmd
	c.model, cmds = c.update(c.model, msg)
	for _, cmd := range cmds {
		c.run(cmd)
	}
}

// run is called with c.mu held.
func (c *Component[M]) run(cmd Cmd) {
	switch cmd := cmd.(type) {
	case Schedule:
		c.stop(cmd.Key)
		next := cmd.Msg
		c.timers[cmd.Key] = c.clock.AfterFunc(cmd.After, func() { c.Dispatch(next) })
	case Cancel:
		c.stop(cmd.Key)
	default:
		if c.effect == nil {
			return
		}
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			if out := c.effect(c.ctx, cmd); out != nil {
				c.Dispatch(out)
			}
		}()
	}
}

func (c *Component[M]) stop(key string) {
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

// Dispose stops every pending timer and detaches the component.
func (c *Component[M]) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	for key := range c.timers {
		c.stop(key)
	}
}

// Disposed reports whether Dispose has been called.
func (c *Component[M]) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Wait blocks until all effects started so far have returned.
func (c *Component[M]) Wait() {
	c.inflight.Wait()
}
