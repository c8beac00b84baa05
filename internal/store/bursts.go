package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketdata-quota-service/internal/model"
)

func (p *Postgres) UpsertBurstEvent(ctx context.Context, serviceID, ruleID uuid.UUID, day, hitAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO burst_events (service_id, rule_id, day, hit_count, last_hit_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (rule_id, day)
		DO UPDATE SET hit_count = burst_events.hit_count + 1, last_hit_at = EXCLUDED.last_hit_at
	`, serviceID, ruleID, day, hitAt)
	if err != nil {
		return fmt.Errorf("upsert burst event: %w", err)
	}
	return nil
}

func (p *Postgres) ListBurstEvents(ctx context.Context, serviceID uuid.UUID, day time.Time) ([]*model.BurstEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, service_id, rule_id, day, hit_count, last_hit_at
		FROM burst_events
		WHERE service_id = $1 AND day = $2
		ORDER BY last_hit_at DESC
	`, serviceID, day)
	if err != nil {
		return nil, fmt.Errorf("list burst events: %w", err)
	}
	defer rows.Close()

	var events []*model.BurstEvent
	for rows.Next() {
		var ev model.BurstEvent
		if err := rows.Scan(&ev.ID, &ev.ServiceID, &ev.RuleID, &ev.Day, &ev.HitCount, &ev.LastHitAt); err != nil {
			return nil, fmt.Errorf("scan burst event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
