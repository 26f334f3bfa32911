// POSITION & COOLDOWN STATE STORE
// PER-SUBSCRIPTION SERIALIZED READ-MODIFY-WRITE
package state

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"

	"tradengine/src/model"
	"tradengine/src/repository"
)

// RiskStates is the persistence surface the store needs for state rows.
type RiskStates interface {
	GetOrCreate(ctx context.Context, subscriptionID uint) (*model.RiskState, error)
	Save(ctx context.Context, state *model.RiskState) error
}

// TradeRecords is the append-only ledger surface.
type TradeRecords interface {
	Create(ctx context.Context, record *model.TradeRecord) error
}

// Store owns every mutation of per-subscription risk state. All reads and
// writes for one subscription go through a per-key mutex, so two
// overlapping outcome recordings can never interleave and lose an update.
type Store struct {
	states RiskStates
	trades TradeRecords

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewStore(states RiskStates, trades TradeRecords) *Store {
	return &Store{
		states: states,
		trades: trades,
		locks:  make(map[uint]*sync.Mutex),
	}
}

// NewStoreWithMainDB wires the store to the default repositories.
func NewStoreWithMainDB() *Store {
	return NewStore(repository.NewRiskStateRepository(), repository.NewTradeRecordRepository())
}

func (s *Store) keyLock(subscriptionID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[subscriptionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[subscriptionID] = l
	}
	return l
}

// Get returns the current state with the UTC-day rollover already applied
// in the returned value. The persisted row is only reset on the next write.
func (s *Store) Get(ctx context.Context, subscriptionID uint) (*model.RiskState, error) {
	l := s.keyLock(subscriptionID)
	l.Lock()
	defer l.Unlock()

	state, err := s.states.GetOrCreate(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	applyRollover(state, time.Now().UTC())
	return state, nil
}

// Outcome reports what RecordTradeOutcome did, so the caller can emit the
// matching notification events.
type Outcome struct {
	EnteredCooldown bool
	CooldownUntil   time.Time
	DailyLoss       decimal.Decimal
}

// RecordTradeOutcome appends the ledger entry and updates the counters: a
// loss bumps the streak and may arm the cooldown, a win clears the streak,
// and negative P&L always grows the daily loss accumulator. The UTC-day
// rollover happens lazily here, on the first write of a new day.
func (s *Store) RecordTradeOutcome(
	ctx context.Context,
	sub *model.Subscription,
	record *model.TradeRecord,
) (*Outcome, error) {
	l := s.keyLock(sub.ID)
	l.Lock()
	defer l.Unlock()

	record.SubscriptionID = sub.ID
	if err := s.trades.Create(ctx, record); err != nil {
		return nil, err
	}

	state, err := s.states.GetOrCreate(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	applyRollover(state, now)

	out := &Outcome{}

	if record.IsWin {
		state.ConsecutiveLosses = 0
	} else {
		state.ConsecutiveLosses++
		trigger := sub.Policy.CooldownTriggerLosses
		if trigger > 0 && state.ConsecutiveLosses >= trigger {
			until := now.Add(sub.Policy.CooldownDuration())
			state.CooldownUntil = &until
			state.ConsecutiveLosses = 0
			out.EnteredCooldown = true
			out.CooldownUntil = until

			logger.WithFields(logger.Fields{
				"subscription":   sub.ID,
				"cooldown_until": until.Format(time.RFC3339),
			}).Warn("STATE: loss streak hit trigger, cooldown armed")
		}
	}

	if record.RealizedPL.IsNegative() {
		state.DailyLossAmount = state.DailyLossAmount.Add(record.RealizedPL.Abs())
	}
	out.DailyLoss = state.DailyLossAmount

	// Position is closed; trailing context is gone with it.
	state.TrailingActive = false
	state.PeakPrice = decimal.Zero

	if err := s.states.Save(ctx, state); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateTrailing persists trailing fields mutated by the risk evaluator.
func (s *Store) UpdateTrailing(ctx context.Context, subscriptionID uint, state *model.RiskState) error {
	l := s.keyLock(subscriptionID)
	l.Lock()
	defer l.Unlock()
	return s.states.Save(ctx, state)
}

// applyRollover zeroes the daily loss accumulator exactly once per UTC day.
func applyRollover(state *model.RiskState, now time.Time) {
	if sameUTCDay(state.LastLossResetDate, now) {
		return
	}
	state.DailyLossAmount = decimal.Zero
	state.LastLossResetDate = now
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
