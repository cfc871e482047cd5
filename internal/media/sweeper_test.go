package media

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSweepStore struct {
	staleBefore  time.Time
	pendingSince time.Time
	pending      []Job
	failed       int
}

func (s *fakeSweepStore) FailStaleDownloads(_ context.Context, before time.Time) (int, error) {
	s.staleBefore = before
	return s.failed, nil
}

func (s *fakeSweepStore) PendingDownloads(_ context.Context, since time.Time) ([]Job, error) {
	s.pendingSince = since
	return s.pending, nil
}

type recordingSubmitter struct {
	jobs   []Job
	reject string
}

func (r *recordingSubmitter) Submit(job Job) error {
	if job.MessageID == r.reject {
		return errors.New("queue full")
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func TestSweeper_SweepUsesThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSweepStore{failed: 2}
	s := NewSweeper(nil, store, nil, "", time.Hour)
	s.now = func() time.Time { return now }

	if got := s.Sweep(context.Background()); got != 2 {
		t.Fatalf("expected 2 swept, got %d", got)
	}
	if !store.staleBefore.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected cutoff: %s", store.staleBefore)
	}
}

func TestSweeper_RequeueSkipsRejectedJobs(t *testing.T) {
	t.Parallel()

	store := &fakeSweepStore{pending: []Job{{MessageID: "a"}, {MessageID: "b"}, {MessageID: "c"}}}
	sub := &recordingSubmitter{reject: "b"}
	s := NewSweeper(nil, store, sub, "@every 1h", 30*time.Minute)

	if got := s.Requeue(context.Background()); got != 2 {
		t.Fatalf("expected 2 requeued, got %d", got)
	}
	if len(sub.jobs) != 2 || sub.jobs[0].MessageID != "a" || sub.jobs[1].MessageID != "c" {
		t.Fatalf("unexpected jobs: %+v", sub.jobs)
	}
}

func TestSweeper_StartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	s := NewSweeper(nil, &fakeSweepStore{}, nil, "not a spec", time.Hour)
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("expected invalid cron spec error")
	}
}

func TestSweeper_StartAndStop(t *testing.T) {
	t.Parallel()

	store := &fakeSweepStore{pending: []Job{{MessageID: "a"}}}
	sub := &recordingSubmitter{}
	s := NewSweeper(nil, store, sub, "@every 1h", time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	if len(sub.jobs) != 1 {
		t.Fatalf("expected pending job requeued on start, got %d", len(sub.jobs))
	}
}
