package engine

import (
	"time"

	"session-core/internal/events"
)

// publishSnapshots pushes every session snapshot onto the bus each
// SnapshotInterval until the engine shuts down.
func (e *Engine) publishSnapshots() {
	defer close(e.bgDone)
	if e.cfg.Bus == nil {
		<-e.bg.Done()
		return
	}
	ticker := time.NewTicker(e.cfg.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.bg.Done():
			return
		case <-ticker.C:
			if e.cfg.Bus.Subscribers(events.EventSessionSnapshot) == 0 {
				continue
			}
			e.cfg.Bus.Publish(events.EventSessionSnapshot, e.Snapshots())
		}
	}
}
