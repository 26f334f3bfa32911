// EXECUTION SCHEDULER
// PER-SUBSCRIPTION STATE MACHINE + FIXED WORKER POOL
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"

	"tradengine/src/model"
)

type Config struct {
	TickInterval time.Duration `envconfig:"SCHEDULER_TICK_INTERVAL" default:"30s"`
	Workers      int           `envconfig:"SCHEDULER_WORKERS" default:"8"`
	QueueSize    int           `envconfig:"SCHEDULER_QUEUE_SIZE" default:"128"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Runner executes one subscription cycle.
type Runner interface {
	Run(ctx context.Context, sub *model.Subscription) error
}

// SubscriptionSource lists the subscriptions eligible for triggering.
type SubscriptionSource interface {
	FindActive(ctx context.Context) ([]model.Subscription, error)
}

type subStatus int

const (
	statusIdle subStatus = iota
	statusRunning
	statusBackoff
	statusCancelled
)

type subState struct {
	status     subStatus
	eligibleAt time.Time
}

// Scheduler scans active subscriptions every tick and enqueues those whose
// cadence has elapsed onto a fixed worker pool. Entering Running is a
// compare-and-swap under the scheduler mutex, so two ticks can never
// double-trigger one subscription, and one subscription's failure never
// touches another: a failed cycle just parks that subscription in Backoff
// for one cadence.
type Scheduler struct {
	config Config
	source SubscriptionSource
	runner Runner

	mu     sync.Mutex
	states map[uint]*subState

	jobs   chan model.Subscription
	wg     sync.WaitGroup
	cancel context.CancelFunc

	// now is swapped out in tests; backoff windows are measured on this
	// clock so trigger and finish times are comparable.
	now func() time.Time
}

func New(source SubscriptionSource, runner Runner) *Scheduler {
	return &Scheduler{
		config: GetConfig(),
		source: source,
		runner: runner,
		states: make(map[uint]*subState),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the worker pool and the tick loop. It returns immediately;
// Stop blocks until in-flight cycles complete.
func (s *Scheduler) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.jobs = make(chan model.Subscription, s.config.QueueSize)

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.wg.Add(1)
	go s.tickLoop(ctx)

	logger.WithFields(logger.Fields{
		"workers": s.config.Workers,
		"tick":    s.config.TickInterval.String(),
	}).Info("SCHEDULER: started")
}

// Stop cancels the tick loop and waits for in-flight cycles. An in-flight
// cycle is allowed to finish so no order is left half-placed.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	logger.Info("SCHEDULER: stopped")
}

// Snapshot counts tracked subscriptions per state, for the status server.
func (s *Scheduler) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := map[subStatus]string{
		statusIdle:      "idle",
		statusRunning:   "running",
		statusBackoff:   "backoff",
		statusCancelled: "cancelled",
	}
	out := map[string]int{"idle": 0, "running": 0, "backoff": 0, "cancelled": 0}
	for _, state := range s.states {
		out[names[state.status]]++
	}
	return out
}

// Cancel moves a subscription to its terminal state. It is never triggered
// again; an in-flight cycle still completes.
func (s *Scheduler) Cancel(subscriptionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateOf(subscriptionID)
	state.status = statusCancelled
	logger.WithField("subscription", subscriptionID).Info("SCHEDULER: subscription cancelled")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx, s.now())
		}
	}
}

// scan triggers every due subscription.
func (s *Scheduler) scan(ctx context.Context, now time.Time) {
	subs, err := s.source.FindActive(ctx)
	if err != nil {
		logger.WithField("error", err.Error()).Error("SCHEDULER: failed to list subscriptions")
		return
	}

	for _, sub := range subs {
		if !sub.IsActive() {
			continue
		}
		if !s.tryTrigger(&sub, now) {
			continue
		}
		select {
		case s.jobs <- sub:
		default:
			// Queue full: release without advancing eligibility so the
			// next tick retries immediately.
			s.release(sub.ID)
			logger.WithField("subscription", sub.ID).Warn("SCHEDULER: queue full, deferring cycle")
		}
	}
}

// tryTrigger is the Idle -> Running compare-and-swap.
func (s *Scheduler) tryTrigger(sub *model.Subscription, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, seen := s.states[sub.ID]
	if !seen {
		state = s.stateOf(sub.ID)
		// Seed eligibility from the persisted last execution on first
		// sight, so a restart does not immediately re-fire every
		// subscription that traded moments before the crash.
		if sub.LastExecutionAt != nil {
			state.eligibleAt = sub.LastExecutionAt.Add(sub.Cadence())
		}
	}

	switch state.status {
	case statusCancelled, statusRunning:
		return false
	case statusBackoff:
		if now.Before(state.eligibleAt) {
			return false
		}
		state.status = statusIdle
	}

	if now.Before(state.eligibleAt) {
		return false
	}
	state.status = statusRunning
	return true
}

// finish releases a Running subscription: Idle after success, Backoff for
// one cadence after failure.
func (s *Scheduler) finish(subscriptionID uint, now time.Time, cadence time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateOf(subscriptionID)
	if state.status == statusCancelled {
		return
	}
	state.eligibleAt = now.Add(cadence)
	if failed {
		state.status = statusBackoff
	} else {
		state.status = statusIdle
	}
}

// release undoes a trigger that never ran: back to Idle, eligibility
// untouched.
func (s *Scheduler) release(subscriptionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateOf(subscriptionID)
	if state.status == statusCancelled {
		return
	}
	state.status = statusIdle
}

// stateOf returns the tracked state, creating it Idle. Callers hold s.mu.
func (s *Scheduler) stateOf(subscriptionID uint) *subState {
	state, ok := s.states[subscriptionID]
	if !ok {
		state = &subState{status: statusIdle}
		s.states[subscriptionID] = state
	}
	return state
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-s.jobs:
			s.runOne(ctx, sub)
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, sub model.Subscription) {
	start := s.now()
	err := s.runner.Run(ctx, &sub)
	if err != nil {
		logger.WithFields(logger.Fields{
			"subscription": sub.ID,
			"venue":        sub.Venue,
			"error":        err.Error(),
		}).Error("SCHEDULER: cycle failed, backing off one cadence")
	}
	s.finish(sub.ID, start, sub.Cadence(), err != nil)
}
