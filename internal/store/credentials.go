package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketdata-quota-service/internal/model"
)

const credentialColumns = `id, service_id, value, value_hint, label, active,
	rate_limited, rate_limited_until, last_used_at, total_calls,
	priority, source, created_at, updated_at`

func (p *Postgres) CreateCredential(ctx context.Context, cred *model.Credential) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO credentials (service_id, value, value_hint, label, active, priority, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, cred.ServiceID, cred.Value, cred.ValueHint, cred.Label, cred.Active, cred.Priority, cred.Source).
		Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (p *Postgres) GetCredentialByID(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	return p.scanCredential(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id)
}

func (p *Postgres) GetCredentialByValue(ctx context.Context, serviceID uuid.UUID, value string) (*model.Credential, error) {
	return p.scanCredential(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE service_id = $1 AND value = $2`,
		serviceID, value)
}

func (p *Postgres) ListCredentials(ctx context.Context, serviceID uuid.UUID) ([]*model.Credential, error) {
	return p.queryCredentials(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE service_id = $1
		ORDER BY priority DESC, created_at ASC
	`, serviceID)
}

func (p *Postgres) ListUsableCredentials(ctx context.Context, serviceID uuid.UUID, now time.Time) ([]*model.Credential, error) {
	// Self-healing read: an expired throttle flag is treated as unset
	// regardless of whether the cleanup sweep has run yet.
	return p.queryCredentials(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE service_id = $1
		  AND active
		  AND (NOT rate_limited OR rate_limited_until <= $2)
		ORDER BY priority DESC, created_at ASC
	`, serviceID, now)
}

func (p *Postgres) CountActiveCredentials(ctx context.Context, serviceID uuid.UUID) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credentials WHERE service_id = $1 AND active`, serviceID).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count credentials: %w", err)
	}
	return count, nil
}

func (p *Postgres) UpdateCredential(ctx context.Context, id uuid.UUID, updates CredentialUpdates) error {
	// Build dynamic update query
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if updates.Label != nil {
		setClauses = append(setClauses, fmt.Sprintf("label = $%d", argIdx))
		args = append(args, *updates.Label)
		argIdx++
	}
	if updates.Value != nil {
		setClauses = append(setClauses, fmt.Sprintf("value = $%d", argIdx))
		args = append(args, *updates.Value)
		argIdx++
		setClauses = append(setClauses, fmt.Sprintf("value_hint = $%d", argIdx))
		args = append(args, model.Hint(*updates.Value))
		argIdx++
	}
	if updates.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("active = $%d", argIdx))
		args = append(args, *updates.Active)
		argIdx++
	}
	if updates.Priority != nil {
		setClauses = append(setClauses, fmt.Sprintf("priority = $%d", argIdx))
		args = append(args, *updates.Priority)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE credentials SET %s WHERE id = $%d",
		strings.Join(setClauses, ", "), argIdx)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchCredentialUsed(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials SET last_used_at = $1, updated_at = NOW() WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetCredentialThrottled(ctx context.Context, id uuid.UUID, until time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET rate_limited = TRUE, rate_limited_until = $1, updated_at = NOW()
		WHERE id = $2
	`, until, id)
	if err != nil {
		return fmt.Errorf("set credential throttled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ClearCredentialThrottle(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE credentials
		SET rate_limited = FALSE, rate_limited_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear credential throttle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListThrottledCredentials(ctx context.Context) ([]*model.Credential, error) {
	return p.queryCredentials(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE rate_limited`)
}

func (p *Postgres) scanCredential(ctx context.Context, query string, args ...interface{}) (*model.Credential, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credential: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanCredentialFromRow(rows)
}

func (p *Postgres) queryCredentials(ctx context.Context, query string, args ...interface{}) ([]*model.Credential, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		cred, err := scanCredentialFromRow(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func scanCredentialFromRow(rows pgx.Rows) (*model.Credential, error) {
	var cred model.Credential
	err := rows.Scan(
		&cred.ID, &cred.ServiceID, &cred.Value, &cred.ValueHint, &cred.Label, &cred.Active,
		&cred.RateLimited, &cred.RateLimitedUntil, &cred.LastUsedAt, &cred.TotalCalls,
		&cred.Priority, &cred.Source, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &cred, nil
}
