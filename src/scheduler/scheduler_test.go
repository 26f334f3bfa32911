package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradengine/src/model"
)

type stubSource struct {
	subs []model.Subscription
	err  error
}

func (s *stubSource) FindActive(context.Context) ([]model.Subscription, error) {
	return s.subs, s.err
}

type stubRunner struct {
	mu   sync.Mutex
	runs []uint
	err  error
}

func (r *stubRunner) Run(_ context.Context, sub *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, sub.ID)
	return r.err
}

func newTestScheduler(source SubscriptionSource, runner Runner) *Scheduler {
	s := New(source, runner)
	s.jobs = make(chan model.Subscription, 8)
	return s
}

func drainOne(t *testing.T, s *Scheduler) model.Subscription {
	t.Helper()
	select {
	case sub := <-s.jobs:
		return sub
	default:
		t.Fatal("expected a queued cycle")
		return model.Subscription{}
	}
}

func assertEmpty(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case sub := <-s.jobs:
		t.Fatalf("unexpected queued cycle for subscription %d", sub.ID)
	default:
	}
}

func activeSub(id uint, cadence time.Duration) model.Subscription {
	return model.Subscription{
		ID:             id,
		Venue:          "binance",
		Symbol:         "BTCUSDT",
		Status:         model.SubscriptionStatusActive,
		CadenceSeconds: int(cadence / time.Second),
	}
}

func TestScanTriggersOncePerCycle(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	source := &stubSource{subs: []model.Subscription{activeSub(1, 5*time.Minute)}}
	s := newTestScheduler(source, &stubRunner{})

	s.scan(context.Background(), now)
	got := drainOne(t, s)
	if got.ID != 1 {
		t.Fatalf("expected subscription 1, got %d", got.ID)
	}

	// Still Running: a second tick must not double-trigger.
	s.scan(context.Background(), now.Add(time.Second))
	assertEmpty(t, s)
}

func TestScanRespectsCadence(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	sub := activeSub(2, 5*time.Minute)
	source := &stubSource{subs: []model.Subscription{sub}}
	s := newTestScheduler(source, &stubRunner{})

	s.scan(context.Background(), now)
	drainOne(t, s)
	s.finish(sub.ID, now, sub.Cadence(), false)

	s.scan(context.Background(), now.Add(4*time.Minute))
	assertEmpty(t, s)

	s.scan(context.Background(), now.Add(5*time.Minute))
	drainOne(t, s)
}

func TestScanSeedsFromPersistedLastExecution(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	last := now.Add(-2 * time.Minute)
	sub := activeSub(3, 5*time.Minute)
	sub.LastExecutionAt = &last
	source := &stubSource{subs: []model.Subscription{sub}}
	s := newTestScheduler(source, &stubRunner{})

	// Restart scenario: two minutes into a five minute cadence.
	s.scan(context.Background(), now)
	assertEmpty(t, s)

	s.scan(context.Background(), last.Add(5*time.Minute))
	drainOne(t, s)
}

func TestFailedCycleBacksOffOneCadence(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	sub := activeSub(4, 5*time.Minute)
	source := &stubSource{subs: []model.Subscription{sub}}
	runner := &stubRunner{err: errors.New("venue down")}
	s := newTestScheduler(source, runner)
	s.now = func() time.Time { return now }

	s.scan(context.Background(), now)
	queued := drainOne(t, s)
	s.runOne(context.Background(), queued)

	// Backoff holds for one cadence from the failure, not from the trigger.
	s.scan(context.Background(), now.Add(4*time.Minute))
	assertEmpty(t, s)

	s.scan(context.Background(), now.Add(6*time.Minute))
	drainOne(t, s)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 1 {
		t.Fatalf("expected exactly one run during backoff window, got %d", len(runner.runs))
	}
}

func TestFailureIsolatedPerSubscription(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	failing := activeSub(5, 5*time.Minute)
	healthy := activeSub(6, 5*time.Minute)
	source := &stubSource{subs: []model.Subscription{failing, healthy}}
	s := newTestScheduler(source, &stubRunner{})

	s.scan(context.Background(), now)
	drainOne(t, s)
	drainOne(t, s)

	s.finish(failing.ID, now, failing.Cadence(), true)
	s.finish(healthy.ID, now, healthy.Cadence(), false)

	// Both become eligible again on their own cadence; one subscription's
	// backoff never blocks another.
	s.scan(context.Background(), now.Add(5*time.Minute))
	first := drainOne(t, s)
	second := drainOne(t, s)
	if first.ID == second.ID {
		t.Fatalf("expected two distinct subscriptions, got %d twice", first.ID)
	}
}

func TestCancelledIsTerminal(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	sub := activeSub(7, 5*time.Minute)
	source := &stubSource{subs: []model.Subscription{sub}}
	s := newTestScheduler(source, &stubRunner{})

	s.Cancel(sub.ID)

	s.scan(context.Background(), now)
	assertEmpty(t, s)

	// finish on a cancelled subscription must not resurrect it.
	s.finish(sub.ID, now, sub.Cadence(), false)
	s.scan(context.Background(), now.Add(time.Hour))
	assertEmpty(t, s)
}

func TestQueueFullReleasesWithoutPenalty(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	sub := activeSub(9, 5*time.Minute)
	source := &stubSource{subs: []model.Subscription{sub}}
	s := newTestScheduler(source, &stubRunner{})

	// Unbuffered channel with no worker draining it: always full.
	s.jobs = make(chan model.Subscription)
	s.scan(context.Background(), now)

	// Deferred, not backed off: the very next tick must enqueue it.
	s.jobs = make(chan model.Subscription, 8)
	s.scan(context.Background(), now)
	drainOne(t, s)
}

func TestInactiveStatusSkipped(t *testing.T) {
	now := time.Date(2026, 8, 19, 12, 0, 0, 0, time.UTC)
	paused := activeSub(8, 5*time.Minute)
	paused.Status = model.SubscriptionStatusPaused
	source := &stubSource{subs: []model.Subscription{paused}}
	s := newTestScheduler(source, &stubRunner{})

	s.scan(context.Background(), now)
	assertEmpty(t, s)
}
