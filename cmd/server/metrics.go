package main

import (
	"context"
	"log"
	"time"

	"parley/internal/core"
)

// RunMetrics logs occupancy totals every interval until ctx is canceled.
func RunMetrics(ctx context.Context, reg *core.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected, queued := reg.ClientCount()
			if connected > 0 || queued > 0 {
				log.Printf("[metrics] connected=%d queued=%d channels=%d",
					connected, queued, len(reg.Channels()))
			}
		}
	}
}
