package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRunTimeout bounds a single refresh run
const DefaultRunTimeout = 30 * time.Minute

// Refresher recomputes stored analyses
type Refresher interface {
	RefreshAll(ctx context.Context) (int, error)
}

// Scheduler runs the periodic analysis refresh
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	log       *logrus.Logger
	timeout   time.Duration
}

// New creates a scheduler running refresher on the standard five-field cron spec
func New(spec string, refresher Refresher, log *logrus.Logger, timeout time.Duration) (*Scheduler, error) {
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		refresher: refresher,
		log:       log,
		timeout:   timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Infof("Analysis refresh scheduled, next run at %s", s.cron.Entries()[0].Next.Format(time.RFC3339))
}

// Stop waits for a running refresh to finish
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("Analysis refresh still running at shutdown")
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.refresher.RefreshAll(ctx)
	entry := s.log.WithFields(logrus.Fields{"refreshed": n, "duration_ms": time.Since(start).Milliseconds()})
	if err != nil {
		entry.Errorf("Analysis refresh finished with errors: %v", err)
		return
	}
	entry.Info("Analysis refresh finished")
}
