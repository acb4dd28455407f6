package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/alanyoungcy/polyshadow/internal/domain"
)

const instrumentCols = `token_id, condition_id, question, slug, category, outcome, outcome_index,
	resolved, winning_outcome, payout_value, resolved_at,
	last_check_at, next_check_at, check_failures, first_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstrument(row rowScanner) (domain.Instrument, error) {
	var (
		inst                   domain.Instrument
		winning                sql.NullInt64
		payout                 sql.NullFloat64
		resolvedAt, last, next sql.NullInt64
		firstSeen              int64
	)
	if err := row.Scan(
		&inst.TokenID, &inst.ConditionID, &inst.Question, &inst.Slug, &inst.Category,
		&inst.Outcome, &inst.OutcomeIndex,
		&inst.Resolved, &winning, &payout, &resolvedAt,
		&last, &next, &inst.Check.ConsecutiveFailures, &firstSeen,
	); err != nil {
		return domain.Instrument{}, err
	}
	inst.WinningOutcome = fromNullInt(winning)
	inst.PayoutValue = fromNullFloat(payout)
	inst.ResolvedAt = fromNullMs(resolvedAt)
	inst.Check.LastCheckedAt = fromNullMs(last)
	inst.Check.NextCheckAt = fromNullMs(next)
	inst.FirstSeenAt = fromMs(firstSeen)
	return inst, nil
}

func getInstrument(ctx context.Context, q querier, tokenID string) (domain.Instrument, error) {
	row := q.queryRow(ctx, `SELECT `+instrumentCols+` FROM instruments WHERE token_id = ?`, tokenID)
	inst, err := scanInstrument(row)
	if err != nil {
		return domain.Instrument{}, fmt.Errorf("sqlstore: get instrument %s: %w", tokenID, notFound(err))
	}
	return inst, nil
}

// GetInstrument returns one instrument outside any transaction.
func (s *Store) GetInstrument(ctx context.Context, tokenID string) (domain.Instrument, error) {
	return getInstrument(ctx, s.q(), tokenID)
}

// ListIncompleteInstruments returns unresolved instruments whose metadata is a
// placeholder or malformed, newest first.
func (s *Store) ListIncompleteInstruments(ctx context.Context, limit int) ([]domain.Instrument, error) {
	rows, err := s.q().query(ctx,
		`SELECT `+instrumentCols+` FROM instruments WHERE NOT resolved ORDER BY first_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list incomplete instruments: %w", err)
	}
	defer rows.Close()

	var out []domain.Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan instrument: %w", err)
		}
		if !inst.NeedsMetadata() {
			continue
		}
		out = append(out, inst)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

const dueCheckQuery = `
	SELECT i.token_id, i.condition_id, i.last_check_at, i.next_check_at, i.check_failures
	FROM positions p
	JOIN instruments i ON i.token_id = p.token_id
	WHERE p.size > ? AND NOT i.resolved
	  AND (i.next_check_at IS NULL OR i.next_check_at <= ?)
	ORDER BY COALESCE(i.next_check_at, 0), i.token_id`

// ListDueChecks returns open, unresolved instruments whose next check time
// is unset or not after now.
func (s *Store) ListDueChecks(ctx context.Context, now time.Time) ([]domain.DueCheck, error) {
	rows, err := s.q().query(ctx, dueCheckQuery, domain.DustEpsilon, ms(now))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list due checks: %w", err)
	}
	defer rows.Close()

	var out []domain.DueCheck
	for rows.Next() {
		var (
			d          domain.DueCheck
			last, next sql.NullInt64
		)
		if err := rows.Scan(&d.TokenID, &d.ConditionID, &last, &next, &d.Check.ConsecutiveFailures); err != nil {
			return nil, fmt.Errorf("sqlstore: scan due check: %w", err)
		}
		d.Check.LastCheckedAt = fromNullMs(last)
		d.Check.NextCheckAt = fromNullMs(next)
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountCoolingChecks counts open, unresolved instruments still cooling down.
func (s *Store) CountCoolingChecks(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.q().queryRow(ctx, `
		SELECT COUNT(*)
		FROM positions p
		JOIN instruments i ON i.token_id = p.token_id
		WHERE p.size > ? AND NOT i.resolved AND i.next_check_at > ?`,
		domain.DustEpsilon, ms(now),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: count cooling checks: %w", err)
	}
	return n, nil
}

// UpsertInstrument inserts the instrument or refreshes its metadata. Empty or
// placeholder values never overwrite known ones.
func (t *txStore) UpsertInstrument(ctx context.Context, inst domain.Instrument) error {
	firstSeen := inst.FirstSeenAt
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	question := inst.Question
	if question == "" {
		question = domain.PlaceholderQuestion
	}
	_, err := t.q.exec(ctx, `
		INSERT INTO instruments (
			token_id, condition_id, question, slug, category, outcome, outcome_index, first_seen_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (token_id) DO UPDATE SET
			condition_id = COALESCE(NULLIF(excluded.condition_id, ''), instruments.condition_id),
			question = CASE WHEN excluded.question = ? THEN instruments.question ELSE excluded.question END,
			slug = COALESCE(NULLIF(excluded.slug, ''), instruments.slug),
			category = COALESCE(NULLIF(excluded.category, ''), instruments.category),
			outcome_index = CASE WHEN excluded.outcome <> '' THEN excluded.outcome_index ELSE instruments.outcome_index END,
			outcome = COALESCE(NULLIF(excluded.outcome, ''), instruments.outcome)`,
		inst.TokenID, inst.ConditionID, question, inst.Slug, inst.Category,
		inst.Outcome, inst.OutcomeIndex, ms(firstSeen),
		domain.PlaceholderQuestion,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert instrument %s: %w", inst.TokenID, err)
	}
	return nil
}

func (t *txStore) GetInstrument(ctx context.Context, tokenID string) (domain.Instrument, error) {
	return getInstrument(ctx, t.q, tokenID)
}

// TokenIDsByCondition lists the stored instruments of one market in outcome
// order.
func (t *txStore) TokenIDsByCondition(ctx context.Context, conditionID string) ([]string, error) {
	rows, err := t.q.query(ctx,
		`SELECT token_id FROM instruments WHERE condition_id = ? ORDER BY outcome_index, token_id`,
		conditionID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: tokens by condition %s: %w", conditionID, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlstore: scan token id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (t *txStore) MaxCheckFailures(ctx context.Context, tokenIDs []string) (int, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	var n int
	err := t.q.queryRow(ctx,
		`SELECT COALESCE(MAX(check_failures), 0) FROM instruments WHERE token_id IN (`+placeholders(len(tokenIDs))+`)`,
		stringArgs(tokenIDs)...,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: max check failures: %w", err)
	}
	return n, nil
}

// UpdateCheckState writes the same schedule to every listed instrument.
func (t *txStore) UpdateCheckState(ctx context.Context, tokenIDs []string, st domain.CheckState) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	args := []any{nullMs(st.LastCheckedAt), nullMs(st.NextCheckAt), st.ConsecutiveFailures}
	args = append(args, stringArgs(tokenIDs)...)
	_, err := t.q.exec(ctx, `
		UPDATE instruments
		SET last_check_at = ?, next_check_at = ?, check_failures = ?
		WHERE token_id IN (`+placeholders(len(tokenIDs))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update check state: %w", err)
	}
	return nil
}

// MarkResolved flips the resolved flag of an unresolved instrument. It
// returns domain.ErrAlreadyExists when the instrument was already resolved
// and domain.ErrNotFound when it does not exist.
func (t *txStore) MarkResolved(ctx context.Context, tokenID string, outcomeIndex int, payout float64, at time.Time) error {
	res, err := t.q.exec(ctx, `
		UPDATE instruments
		SET resolved = ?, winning_outcome = ?, payout_value = ?, resolved_at = ?
		WHERE token_id = ? AND NOT resolved`,
		true, outcomeIndex, payout, ms(at), tokenID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: mark resolved %s: %w", tokenID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: mark resolved %s: %w", tokenID, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := getInstrument(ctx, t.q, tokenID); err != nil {
		return err
	}
	return fmt.Errorf("sqlstore: mark resolved %s: %w", tokenID, domain.ErrAlreadyExists)
}
