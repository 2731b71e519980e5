package notifications

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Resyncer refetches the whole feed on a cron schedule. It closes the window in which an
// insert arrives out of order or is missed by the live stream.
type Resyncer struct {
	cron *cron.Cron
}

// NewResyncer schedules agg.Resync. schedule accepts standard cron specs and descriptors
// such as "@every 10m".
func NewResyncer(agg *Aggregator, schedule string) (*Resyncer, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(schedule, func() { agg.Resync("schedule") }); err != nil {
		return nil, fmt.Errorf("add resync job %q: %w", schedule, err)
	}

	return &Resyncer{cron: c}, nil
}

// Start runs the schedule in its own goroutine.
func (r *Resyncer) Start() {
	r.cron.Start()
	slog.Info("notification resync scheduler started", "jobs", len(r.cron.Entries()))
}

// Stop halts the schedule and waits for a running resync to finish.
func (r *Resyncer) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("notification resync scheduler stopped")
}
