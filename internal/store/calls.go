package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketdata-quota-service/internal/model"
)

// RecordCalls appends every per-rule record for one logical call and
// increments the credential's cumulative counter once, in a single
// transaction. Partial accounting is never visible: either all rows
// land or none do.
func (p *Postgres) RecordCalls(ctx context.Context, credentialID uuid.UUID, records []*model.CallRecord) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record calls: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range records {
		err := tx.QueryRow(ctx, `
			INSERT INTO call_records (credential_id, rule_id, endpoint, called_at, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, credentialID, rec.RuleID, rec.Endpoint, rec.CalledAt, rec.ExpiresAt).Scan(&rec.ID)
		if err != nil {
			return fmt.Errorf("insert call record: %w", err)
		}
		rec.CredentialID = credentialID
	}

	tag, err := tx.Exec(ctx, `
		UPDATE credentials SET total_calls = total_calls + 1, updated_at = NOW() WHERE id = $1
	`, credentialID)
	if err != nil {
		return fmt.Errorf("increment credential counter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record calls: %w", err)
	}
	return nil
}

func (p *Postgres) CountActiveCalls(ctx context.Context, credentialID, ruleID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_records
		WHERE credential_id = $1 AND rule_id = $2 AND expires_at > $3
	`, credentialID, ruleID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active calls: %w", err)
	}
	return count, nil
}

func (p *Postgres) CountActiveCallsForRule(ctx context.Context, ruleID uuid.UUID, now time.Time) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM call_records c
		JOIN credentials k ON k.id = c.credential_id
		WHERE c.rule_id = $1 AND c.expires_at > $2 AND k.active
	`, ruleID, now).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active calls for rule: %w", err)
	}
	return count, nil
}

func (p *Postgres) ListActiveCallsForService(ctx context.Context, serviceID uuid.UUID, now time.Time) ([]*model.CallRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT c.id, c.credential_id, c.rule_id, c.endpoint, c.called_at, c.expires_at
		FROM call_records c
		JOIN rate_limit_rules r ON r.id = c.rule_id
		WHERE r.service_id = $1 AND c.expires_at > $2
		ORDER BY c.expires_at ASC
	`, serviceID, now)
	if err != nil {
		return nil, fmt.Errorf("list active calls: %w", err)
	}
	defer rows.Close()

	var calls []*model.CallRecord
	for rows.Next() {
		var rec model.CallRecord
		if err := rows.Scan(&rec.ID, &rec.CredentialID, &rec.RuleID, &rec.Endpoint, &rec.CalledAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		calls = append(calls, &rec)
	}
	return calls, rows.Err()
}

func (p *Postgres) DeleteExpiredCalls(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM call_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired calls: %w", err)
	}
	return tag.RowsAffected(), nil
}
