package main

import (
	"context"
	"time"
)

// realtimeDebounce is the quiet period after the last trade-scan write
// before an execution-only cycle fires. A burst of writes inside the window
// collapses into one run.
const realtimeDebounce = 3 * time.Second

// runRealtimeLoop watches the trade-scan feed and triggers execution-only
// cycles with trailing-edge debouncing. Blocks until ctx is cancelled.
func (o *Orchestrator) runRealtimeLoop(ctx context.Context) {
	scans := o.store.SubscribeTradeScans()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case _, ok := <-scans:
			if !ok {
				timer.Stop()
				return
			}
			// Trailing edge: each write pushes the fire time out.
			if armed && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(realtimeDebounce)
			armed = true
		case <-timer.C:
			armed = false
			o.logger.Printf("Realtime: trade scan activity settled, running execution-only cycle")
			o.RunExecutionOnly(ctx)
		}
	}
}
