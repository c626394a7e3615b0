package apiclient

import (
	"context"
	"time"
)

const defaultMonitorInterval = 30 * time.Second

// Monitor probes every endpoint on a fixed interval, independent of the
// request path. When the active endpoint is down it switches to the first
// healthy endpoint in list order.
type Monitor struct {
	client   *Client
	interval time.Duration
}

// NewMonitor creates a monitor for the client.
func NewMonitor(client *Client, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &Monitor{client: client, interval: interval}
}

// Start probes in the background, once right away and then every interval,
// until ctx is done. It does not wait for the first round of probes.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			m.Check(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Check probes all endpoints once and returns the active index afterwards.
func (m *Monitor) Check(ctx context.Context) int {
	set := m.client.endpoints
	healthy := make([]bool, set.Len())
	for i := 0; i < set.Len(); i++ {
		healthy[i] = m.client.Probe(ctx, i) == nil
	}

	active, _ := set.Active()
	if healthy[active] {
		return active
	}
	for i, ok := range healthy {
		if ok {
			m.client.activate(i, "health monitor")
			return i
		}
	}
	m.client.logger.Warn().Msg("no healthy endpoint found")
	return active
}
