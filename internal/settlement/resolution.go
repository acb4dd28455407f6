package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
	"github.com/alanyoungcy/polyshadow/internal/ledger"
)

// ResolutionEvent is a resolution from one of the two sources. Both variants
// are applied by the same Applier.Apply.
type ResolutionEvent interface {
	Payload() domain.ResolutionPayload
	Source() string
}

// PollResolution is a resolution found by a scheduled check. The market's
// check schedule is reset in the same transaction that applies it.
type PollResolution struct {
	Resolution domain.ResolutionPayload
	CheckedAt  time.Time
	// ScheduleTokens are the instrument rows whose check state is reset.
	ScheduleTokens []string
	NextCheckAt    time.Time
}

func (r PollResolution) Payload() domain.ResolutionPayload { return r.Resolution }
func (PollResolution) Source() string                      { return "poll" }

// PushResolution is an unsolicited resolution notification.
type PushResolution struct {
	Resolution domain.ResolutionPayload
}

func (r PushResolution) Payload() domain.ResolutionPayload { return r.Resolution }
func (PushResolution) Source() string                      { return "push" }

// Outcome is what one Apply call changed.
type Outcome struct {
	Event   domain.SettlementEvent
	Payouts string // payout field used
	// Resolved counts instruments newly marked resolved; instruments
	// already resolved or unknown to the store are skipped.
	Resolved int
	Skipped  int
}

// Applier applies resolutions to the store. It is safe for concurrent use;
// the per-instrument resolved flag inside one transaction is the only guard.
type Applier struct {
	store domain.TxRunner
	now   func() time.Time
}

// NewApplier creates an Applier.
func NewApplier(store domain.TxRunner) *Applier {
	return &Applier{store: store, now: time.Now}
}

// Apply marks every still-unresolved instrument of the payload resolved with
// its payout and settles its open position. Re-applying a resolution is a
// no-op. A payload without a settlement flag or without a usable payout
// vector returns an error wrapping domain.ErrPayoutsUnavailable and changes
// nothing.
func (a *Applier) Apply(ctx context.Context, ev ResolutionEvent) (Outcome, error) {
	p := ev.Payload()
	if !p.Settled() {
		return Outcome{}, fmt.Errorf("settlement: %s %s: %w: market not settled", ev.Source(), p.ConditionID, domain.ErrPayoutsUnavailable)
	}
	if len(p.TokenIDs) == 0 {
		return Outcome{}, fmt.Errorf("settlement: %s %s: %w: no instruments", ev.Source(), p.ConditionID, domain.ErrPayoutsUnavailable)
	}
	payouts, field, err := ExtractPayouts(p)
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: %s %s: %w", ev.Source(), p.ConditionID, err)
	}

	at := a.now().UTC()
	var out Outcome
	err = a.store.InTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		out = Outcome{Payouts: field}
		for i, tokenID := range p.TokenIDs {
			settled, ok, err := resolveInstrument(ctx, tx, tokenID, i, payouts[i], at)
			if err != nil {
				return err
			}
			if !ok {
				out.Skipped++
				continue
			}
			out.Resolved++
			out.Event.Instruments = append(out.Event.Instruments, settled)
		}

		if poll, isPoll := ev.(PollResolution); isPoll && len(poll.ScheduleTokens) > 0 {
			checked, next := poll.CheckedAt, poll.NextCheckAt
			if err := tx.UpdateCheckState(ctx, poll.ScheduleTokens, domain.CheckState{
				LastCheckedAt: &checked,
				NextCheckAt:   &next,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("settlement: apply %s %s: %w", ev.Source(), p.ConditionID, err)
	}

	out.Event.ConditionID = p.ConditionID
	out.Event.Source = ev.Source()
	out.Event.At = at
	return out, nil
}

// resolveInstrument resolves one instrument inside tx. ok is false when the
// instrument is unknown or already resolved.
func resolveInstrument(ctx context.Context, tx domain.Tx, tokenID string, idx int, payout float64, at time.Time) (domain.SettledInstrument, bool, error) {
	inst, err := tx.GetInstrument(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.SettledInstrument{}, false, nil
	}
	if err != nil {
		return domain.SettledInstrument{}, false, err
	}
	if inst.Resolved {
		return domain.SettledInstrument{}, false, nil
	}

	if err := tx.MarkResolved(ctx, tokenID, idx, payout, at); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.SettledInstrument{}, false, nil
		}
		return domain.SettledInstrument{}, false, err
	}

	settled := domain.SettledInstrument{TokenID: tokenID, OutcomeIndex: idx, Payout: payout}

	pos, err := tx.GetPosition(ctx, tokenID)
	if errors.Is(err, domain.ErrNotFound) {
		return settled, true, nil
	}
	if err != nil {
		return domain.SettledInstrument{}, false, err
	}

	res := ledger.ApplySettlement(pos, payout)
	if res.Settled || res.Position != pos {
		res.Position.UpdatedAt = at
		if err := tx.SavePosition(ctx, res.Position); err != nil {
			return domain.SettledInstrument{}, false, err
		}
	}
	settled.ClosedSize = res.Closed
	settled.RealizedGain = res.Realized
	return settled, true, nil
}
