package recorder

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// teardown releases every subordinate exactly once. Steps run concurrently;
// each one is isolated so that an error or panic in one never prevents the
// others from completing. Errors are logged and swallowed.
func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		stream, monitor, vis, ticker, sess := c.stream, c.monitor, c.vis, c.ticker, c.sess
		loopCancel, loopDone := c.loopCancel, c.loopDone
		c.stream, c.monitor, c.vis, c.ticker, c.sess = nil, nil, nil, nil, nil
		c.mu.Unlock()

		if loopCancel != nil {
			loopCancel()
		}

		var g errgroup.Group
		if stream != nil {
			g.Go(func() error { return c.safely("capture", stream.Release) })
		}
		if monitor != nil {
			g.Go(func() error { return c.safely("activity", func() error { monitor.Stop(); return nil }) })
		}
		if vis != nil {
			g.Go(func() error { return c.safely("visualizer", func() error { vis.Stop(); return nil }) })
		}
		if ticker != nil {
			g.Go(func() error { return c.safely("ticker", func() error { ticker.Stop(); return nil }) })
		}
		if sess != nil {
			g.Go(func() error { return c.safely("transcription", func() error { sess.Close(); return nil }) })
		}
		if loopDone != nil {
			g.Go(func() error { <-loopDone; return nil })
		}
		_ = g.Wait()

		if loopDone != nil {
			c.metrics.ActiveRecordings.Add(context.Background(), -1)
		}
	})
}

// safely runs one teardown step, converting a panic into a logged warning.
// It always returns nil so that errgroup never short-circuits.
func (c *Controller) safely(step string, f func() error) (ret error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("teardown step panicked", "step", step, "err", fmt.Errorf("panic: %v", r))
		}
		ret = nil
	}()
	if err := f(); err != nil {
		c.log.Warn("teardown step failed", "step", step, "err", err)
	}
	return nil
}
