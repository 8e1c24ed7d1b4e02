package bulk

import (
	"context"
	"time"
)

// Stats is a snapshot of downloader progress.
type Stats struct {
	// Queued is the number of staged products waiting for a worker.
	Queued int

	// InFlight is the number of downloads currently running.
	InFlight int

	// PendingRequests is the number of archive requests not yet complete.
	PendingRequests int
}

// Stats returns a snapshot of the downloader's progress.
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	queued := len(d.ready)
	pending := len(d.pending)
	d.mu.Unlock()

	return Stats{
		Queued:          queued,
		InFlight:        int(d.inFlight.Load()),
		PendingRequests: pending,
	}
}

// monitor logs a progress summary at a fixed interval until stopped. The
// first summary is logged immediately.
func (d *Downloader) monitor(ctx context.Context) {
	ticker := time.NewTicker(d.opts.monitorInterval)
	defer ticker.Stop()

	for {
		stats := d.Stats()
		d.log.Info("download progress",
			"queued", stats.Queued,
			"in_flight", stats.InFlight,
			"pending_requests", stats.PendingRequests)

		select {
		case <-d.stopCh:
			d.log.Debug("progress monitor stopping")
			return
		case <-ctx.Done():
			d.log.Debug("progress monitor stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
		}
	}
}
