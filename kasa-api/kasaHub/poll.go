package kasaHub

import (
	"context"
	"time"
)

const (
	MinScanInterval     = 5 * time.Second
	MaxScanInterval     = time.Hour
	DefaultScanInterval = 30 * time.Second
)

// ClampScanInterval bounds a configured interval. Zero or negative means the
// default.
func ClampScanInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultScanInterval
	case d < MinScanInterval:
		return MinScanInterval
	case d > MaxScanInterval:
		return MaxScanInterval
	}
	return d
}

// Poll refreshes immediately and then on every tick until ctx is done. Hubs
// implementing ChangeNotifier trigger an extra refresh whenever they report a
// change. The callback receives the mapping or the refresh error; failed
// refreshes are retried on the next tick. A non-positive interval means
// DefaultScanInterval.
func (c *Client) Poll(ctx context.Context, interval time.Duration, f func(DeviceMap, error)) {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	c.logger.Infof("Starting polling every %s", interval)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			states, err := c.Refresh(ctx)
			if err != nil {
				c.logger.Error(err)
			}
			if f != nil {
				f(states, err)
			}

			select {
			case <-ctx.Done():
				c.logger.Info("Stopping polling")
				return
			case <-ticker.C:
			case <-c.changes():
				c.logger.Debug("Hub reported a change")
			}
		}
	}()
}
