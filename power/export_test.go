// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package power

import "context"

// Advance delivers ticks to the countdown on the worker.
func (c *Controller) Advance(ctx context.Context, ticks int) error {
	_, err := c.submit(ctx, func() (any, error) {
		for i := 0; i < ticks; i++ {
			c.timer.Tick()
		}
		return nil, nil
	})
	return err
}
