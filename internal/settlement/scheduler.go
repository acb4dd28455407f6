// Package settlement detects market resolution and applies it to paper
// positions exactly once per instrument. A poll cycle checks due markets
// with per-market backoff and a shared rate-limit cooldown; a push path
// applies unsolicited notifications through the same guarded Applier.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/google/uuid"
)

// Resolver fetches the resolution state of the market holding tokenID.
type Resolver interface {
	FetchResolution(ctx context.Context, tokenID string) (domain.ResolutionPayload, error)
}

// Store is what the scheduler needs from persistence.
type Store interface {
	domain.TxRunner
	domain.ScheduleReader
}

// Sink receives committed settlements.
type Sink interface {
	Settled(ctx context.Context, ev domain.SettlementEvent)
}

// CycleReport summarises one poll cycle.
type CycleReport struct {
	DueInstruments int
	Markets        int
	Queried        int
	Cooled         int // skipped under the global cooldown
	Failed         int
	RateLimited    int
	StillOpen      int
	Unavailable    int // settled but payouts not usable yet
	Resolved       int // markets with at least one newly resolved instrument
	Cooling        int // instruments waiting for a later check
}

// market is one deduplicated unit of work in a cycle.
type market struct {
	key         string
	conditionID string
	tokens      []string // due instruments backing open positions
	failures    int
}

// Scheduler runs the settlement poll loop and handles pushes.
type Scheduler struct {
	store    Store
	resolver Resolver
	applier  *Applier
	policy   Policy
	sink     Sink
	logger   *slog.Logger
	now      func() time.Time

	// global is owned by Run.
	global GlobalBackoff
}

// NewScheduler creates a Scheduler. sink may be nil.
func NewScheduler(store Store, resolver Resolver, policy Policy, sink Sink, logger *slog.Logger) *Scheduler {
	if policy.SuccessCooldown <= 0 || len(policy.ErrorLadder) == 0 {
		def := DefaultPolicy()
		if policy.SuccessCooldown <= 0 {
			policy.SuccessCooldown = def.SuccessCooldown
		}
		if len(policy.ErrorLadder) == 0 {
			policy.ErrorLadder = def.ErrorLadder
		}
	}
	if policy.FetchTimeout <= 0 {
		policy.FetchTimeout = DefaultPolicy().FetchTimeout
	}
	return &Scheduler{
		store:    store,
		resolver: resolver,
		applier:  NewApplier(store),
		policy:   policy,
		sink:     sink,
		logger:   logger.With(slog.String("component", "settlement")),
		now:      time.Now,
	}
}

// Run polls every interval until ctx is cancelled. The in-flight market
// finishes its transaction; no new market is started after cancellation.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.InfoContext(ctx, "settlement scheduler started", slog.Duration("interval", interval))
	defer s.logger.Info("settlement scheduler stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		g, report, err := s.RunCycle(ctx, s.now().UTC(), s.global)
		s.global = g
		switch {
		case err != nil && ctx.Err() == nil:
			s.logger.ErrorContext(ctx, "settlement cycle failed", slog.String("error", err.Error()))
		case report.Markets > 0:
			s.logger.InfoContext(ctx, "settlement cycle done",
				slog.Int("markets", report.Markets),
				slog.Int("queried", report.Queried),
				slog.Int("resolved", report.Resolved),
				slog.Int("failed", report.Failed),
				slog.Int("cooled", report.Cooled),
				slog.Int("cooling", report.Cooling),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle checks every due market once. g is the global rate-limit state
// carried between cycles; the updated state is returned. A failure in one
// market never stops the others; only failing to list due markets is
// returned as an error.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time, g GlobalBackoff) (GlobalBackoff, CycleReport, error) {
	var report CycleReport

	due, err := s.store.ListDueChecks(ctx, now)
	if err != nil {
		return g, report, fmt.Errorf("settlement: list due checks: %w", err)
	}
	report.DueInstruments = len(due)

	markets := groupMarkets(due)
	report.Markets = len(markets)

	for _, m := range markets {
		if ctx.Err() != nil {
			break
		}
		g = s.checkMarket(ctx, now, g, m, &report)
	}

	if n, err := s.store.CountCoolingChecks(ctx, now); err == nil {
		report.Cooling = n
	}
	return g, report, nil
}

// groupMarkets dedupes due instruments by market key, keeping first-seen
// order and the highest failure count.
func groupMarkets(due []domain.DueCheck) []market {
	idx := make(map[string]int, len(due))
	var out []market
	for _, d := range due {
		key := d.MarketKey()
		i, ok := idx[key]
		if !ok {
			idx[key] = len(out)
			out = append(out, market{key: key, conditionID: d.ConditionID, failures: d.Check.ConsecutiveFailures})
			i = len(out) - 1
		}
		out[i].tokens = append(out[i].tokens, d.TokenID)
		if d.Check.ConsecutiveFailures > out[i].failures {
			out[i].failures = d.Check.ConsecutiveFailures
		}
	}
	return out
}

func (s *Scheduler) checkMarket(ctx context.Context, now time.Time, g GlobalBackoff, m market, report *CycleReport) GlobalBackoff {
	log := s.logger.With(slog.String("market", m.key))
	writeCtx := context.WithoutCancel(ctx)

	if g.Cooling(now) {
		report.Cooled++
		next := g.NextRequestAt
		if err := s.reschedule(writeCtx, m, domain.CheckState{NextCheckAt: &next, ConsecutiveFailures: m.failures}, true); err != nil {
			log.WarnContext(ctx, "reschedule under global cooldown failed", slog.String("error", err.Error()))
		}
		log.DebugContext(ctx, "skipping check under global cooldown", slog.Time("next_check_at", next))
		return g
	}

	report.Queried++
	fetchCtx, cancel := context.WithTimeout(ctx, s.policy.FetchTimeout)
	payload, err := s.resolver.FetchResolution(fetchCtx, m.tokens[0])
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown interrupted the query; leave the schedule alone.
			return g
		}
		if errors.Is(err, domain.ErrNotFound) {
			// The query succeeded but listed no market for the token yet.
			g = g.Succeeded()
			next := now.Add(s.policy.SuccessCooldown)
			report.StillOpen++
			log.InfoContext(ctx, "no market data for token", slog.Time("next_check_at", next))
			if err := s.reschedule(writeCtx, m, domain.CheckState{LastCheckedAt: &now, NextCheckAt: &next}, false); err != nil {
				log.WarnContext(ctx, "reschedule after empty check failed", slog.String("error", err.Error()))
			}
			return g
		}
		failures := m.failures + 1
		next := now.Add(s.policy.ErrorDelay(failures))
		report.Failed++
		attrs := []any{
			slog.String("error", err.Error()),
			slog.Int("failures", failures),
			slog.Time("next_check_at", next),
		}
		if errors.Is(err, domain.ErrRateLimited) {
			report.RateLimited++
			g = g.RateLimited(s.policy, now)
			attrs = append(attrs, slog.Time("global_next_request_at", g.NextRequestAt))
		}
		log.WarnContext(ctx, "resolution check failed", attrs...)
		if err := s.reschedule(writeCtx, m, domain.CheckState{LastCheckedAt: &now, NextCheckAt: &next, ConsecutiveFailures: failures}, false); err != nil {
			log.WarnContext(ctx, "reschedule after failure failed", slog.String("error", err.Error()))
		}
		return g
	}

	g = g.Succeeded()
	next := now.Add(s.policy.SuccessCooldown)
	okState := domain.CheckState{LastCheckedAt: &now, NextCheckAt: &next}

	if !payload.Settled() {
		report.StillOpen++
		if err := s.reschedule(writeCtx, m, okState, false); err != nil {
			log.WarnContext(ctx, "reschedule after check failed", slog.String("error", err.Error()))
		}
		return g
	}

	tokens, err := s.scheduleTokens(writeCtx, m)
	if err != nil {
		log.WarnContext(ctx, "listing market instruments failed", slog.String("error", err.Error()))
		tokens = m.tokens
	}
	out, err := s.applier.Apply(writeCtx, PollResolution{
		Resolution:     payload,
		CheckedAt:      now,
		ScheduleTokens: tokens,
		NextCheckAt:    next,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPayoutsUnavailable) {
			report.Unavailable++
			log.WarnContext(ctx, "market settled but payouts unusable", slog.String("error", err.Error()))
		} else {
			log.ErrorContext(ctx, "applying resolution failed", slog.String("error", err.Error()))
		}
		if err := s.reschedule(writeCtx, m, okState, false); err != nil {
			log.WarnContext(ctx, "reschedule after apply failed", slog.String("error", err.Error()))
		}
		return g
	}

	if out.Resolved > 0 {
		report.Resolved++
	}
	s.publish(writeCtx, out)
	return g
}

// reschedule writes st to every instrument row of the market. keepLast
// preserves each row's last check time (no query was made).
func (s *Scheduler) reschedule(ctx context.Context, m market, st domain.CheckState, keepLast bool) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		tokens := m.tokens
		if m.conditionID != "" {
			ids, err := tx.TokenIDsByCondition(ctx, m.conditionID)
			if err != nil {
				return err
			}
			if len(ids) > 0 {
				tokens = ids
			}
		}
		if keepLast {
			inst, err := tx.GetInstrument(ctx, m.tokens[0])
			if err != nil {
				return err
			}
			st.LastCheckedAt = inst.Check.LastCheckedAt
		}
		return tx.UpdateCheckState(ctx, tokens, st)
	})
}

// scheduleTokens lists every stored instrument of the market.
func (s *Scheduler) scheduleTokens(ctx context.Context, m market) ([]string, error) {
	if m.conditionID == "" {
		return m.tokens, nil
	}
	var ids []string
	err := s.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ids, err = tx.TokenIDsByCondition(ctx, m.conditionID)
		return err
	})
	if err != nil || len(ids) == 0 {
		return m.tokens, err
	}
	return ids, nil
}

// HandlePush applies a pushed resolution. A push that cannot be applied
// directly (no usable payouts yet) makes the market due immediately so the
// next poll cycle queries it.
func (s *Scheduler) HandlePush(ctx context.Context, p domain.ResolutionPayload) {
	writeCtx := context.WithoutCancel(ctx)
	log := s.logger.With(slog.String("condition_id", p.ConditionID))

	out, err := s.applier.Apply(writeCtx, PushResolution{Resolution: p})
	if err == nil {
		if out.Resolved == 0 {
			log.DebugContext(ctx, "pushed resolution already applied")
			return
		}
		s.publish(writeCtx, out)
		return
	}
	if !errors.Is(err, domain.ErrPayoutsUnavailable) {
		log.ErrorContext(ctx, "applying pushed resolution failed", slog.String("error", err.Error()))
		return
	}

	log.InfoContext(ctx, "pushed resolution not usable, scheduling immediate check", slog.String("reason", err.Error()))
	if p.ConditionID == "" {
		return
	}
	now := s.now().UTC()
	err = s.store.InTx(writeCtx, func(ctx context.Context, tx domain.Tx) error {
		ids, err := tx.TokenIDsByCondition(ctx, p.ConditionID)
		if err != nil || len(ids) == 0 {
			return err
		}
		failures, err := tx.MaxCheckFailures(ctx, ids)
		if err != nil {
			return err
		}
		inst, err := tx.GetInstrument(ctx, ids[0])
		if err != nil {
			return err
		}
		return tx.UpdateCheckState(ctx, ids, domain.CheckState{
			LastCheckedAt:       inst.Check.LastCheckedAt,
			NextCheckAt:         &now,
			ConsecutiveFailures: failures,
		})
	})
	if err != nil {
		log.WarnContext(ctx, "scheduling immediate check failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) publish(ctx context.Context, out Outcome) {
	if out.Resolved == 0 {
		return
	}
	out.Event.ID = uuid.NewString()
	var realized float64
	for _, in := range out.Event.Instruments {
		realized += in.RealizedGain
	}
	s.logger.InfoContext(ctx, "market resolved",
		slog.String("condition_id", out.Event.ConditionID),
		slog.String("source", out.Event.Source),
		slog.String("payouts", out.Payouts),
		slog.Int("instruments", out.Resolved),
		slog.Float64("realized", realized),
	)
	if s.sink != nil {
		s.sink.Settled(ctx, out.Event)
	}
}
