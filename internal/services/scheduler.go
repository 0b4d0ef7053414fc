package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepFunc is one periodic job.
type SweepFunc func(ctx context.Context) (*SweepResult, error)

type scheduledSweep struct {
	name     string
	schedule string
	run      SweepFunc
	entryID  cron.EntryID
	running  sync.Mutex
}

// SweepScheduler runs sweeps on cron schedules. A tick that fires while the
// previous run of the same sweep is still going is skipped; the next tick
// re-reads current state anyway.
type SweepScheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.Mutex
	sweeps map[string]*scheduledSweep
}

func NewSweepScheduler(logger *zap.Logger, timeout time.Duration) *SweepScheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SweepScheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		logger:  logger,
		timeout: timeout,
		sweeps:  make(map[string]*scheduledSweep),
	}
}

// Add registers a sweep under name. Schedules use the standard five-field
// syntax or descriptors such as "@every 5m" and "@hourly".
func (s *SweepScheduler) Add(name, schedule string, run SweepFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sweeps[name]; exists {
		return fmt.Errorf("sweep %s already scheduled", name)
	}
	sw := &scheduledSweep{name: name, schedule: schedule, run: run}
	id, err := s.cron.AddFunc(schedule, func() { s.execute(sw) })
	if err != nil {
		return fmt.Errorf("failed to schedule sweep %s: %w", name, err)
	}
	sw.entryID = id
	s.sweeps[name] = sw

	s.logger.Debug("sweep scheduled", zap.String("sweep", name), zap.String("schedule", schedule))
	return nil
}

func (s *SweepScheduler) execute(sw *scheduledSweep) {
	if !sw.running.TryLock() {
		s.logger.Debug("sweep still running, tick skipped", zap.String("sweep", sw.name))
		return
	}
	defer sw.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	started := time.Now()
	res, err := sw.run(ctx)
	if err != nil {
		// Never fatal; the next tick retries from current state.
		s.logger.Error("sweep failed",
			zap.String("sweep", sw.name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err),
		)
		return
	}
	moved := 0
	if res != nil {
		moved = len(res.Transitioned)
	}
	s.logger.Debug("sweep finished",
		zap.String("sweep", sw.name),
		zap.Int("transitioned", moved),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// Next returns when name fires next.
func (s *SweepScheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	sw, ok := s.sweeps[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(sw.entryID).Next, true
}

func (s *SweepScheduler) Start() {
	s.cron.Start()
	s.logger.Info("sweep scheduler started", zap.Int("sweeps", len(s.sweeps)))
}

// Stop halts scheduling and waits for running sweeps or ctx.
func (s *SweepScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("sweep scheduler stop timed out")
	}
}
