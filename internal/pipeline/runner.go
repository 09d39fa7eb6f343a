package pipeline

import (
	"context"
	"errors"
)

// RunLoop runs cycles back to back until the session ends. Cancellation of ctx is
// checked once per cycle and stops the session; a cycle in flight always completes.
func RunLoop(ctx context.Context, c *Controller) error {
	for {
		select {
		case <-ctx.Done():
			return c.Stop()
		default:
		}

		ok, err := c.Cycle()
		if ok {
			continue
		}

		// Stopped from another goroutine between cycles
		var stateErr *StateError
		if errors.As(err, &stateErr) && stateErr.State == Stopped {
			return nil
		}
		return err
	}
}
