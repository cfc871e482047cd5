package media

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Submitter accepts download jobs.
type Submitter interface {
	Submit(job Job) error
}

// Sweeper periodically fails downloads that stayed pending past the staleness
// threshold, and on start re-queues the pending downloads a previous process
// left behind.
type Sweeper struct {
	store      SweepStore
	submitter  Submitter
	spec       string
	staleAfter time.Duration
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

// NewSweeper creates a sweeper running on the cron spec (e.g. "@every 5m").
func NewSweeper(log *slog.Logger, store SweepStore, submitter Submitter, spec string, staleAfter time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if spec == "" {
		spec = "@every 5m"
	}
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &Sweeper{
		store:      store,
		submitter:  submitter,
		spec:       spec,
		staleAfter: staleAfter,
		logger:     log.With(slog.String("service", "media_sweeper")),
		now:        time.Now,
	}
}

// Start re-queues recent pending downloads and schedules the sweep.
func (s *Sweeper) Start(ctx context.Context) error {
	s.Requeue(ctx)
	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() {
		s.Sweep(context.WithoutCancel(ctx))
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info("media sweeper started", slog.String("spec", s.spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep marks every download pending for longer than the threshold as stale.
func (s *Sweeper) Sweep(ctx context.Context) int {
	n, err := s.store.FailStaleDownloads(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("sweep stale downloads failed", slog.Any("error", err))
		return 0
	}
	if n > 0 {
		s.logger.Info("stale downloads failed", slog.Int("count", n))
	}
	return n
}

// Requeue submits pending downloads that are still within the threshold.
func (s *Sweeper) Requeue(ctx context.Context) int {
	if s.submitter == nil {
		return 0
	}
	jobs, err := s.store.PendingDownloads(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		s.logger.Error("load pending downloads failed", slog.Any("error", err))
		return 0
	}
	queued := 0
	for _, job := range jobs {
		if err := s.submitter.Submit(job); err != nil {
			s.logger.Warn("requeue download failed", slog.String("message_id", job.MessageID), slog.Any("error", err))
			continue
		}
		queued++
	}
	if queued > 0 {
		s.logger.Info("pending downloads requeued", slog.Int("count", queued))
	}
	return queued
}
