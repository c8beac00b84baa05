package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketdata-quota-service/internal/model"
)

const ruleColumns = `id, service_id, limit_type, endpoint_scope, max_calls, window_seconds, window_kind, created_at`

// LegacyLimitTypes maps labels left behind by older deployments to the
// canonical names.
var LegacyLimitTypes = map[string]string{
	"per_sec": model.LimitPerSecond,
	"per_min": model.LimitPerMinute,
	"per_day": model.LimitDaily,
}

func (p *Postgres) CreateRule(ctx context.Context, rule *model.RateLimitRule) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO rate_limit_rules (service_id, limit_type, endpoint_scope, max_calls, window_seconds, window_kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, rule.ServiceID, rule.LimitType, rule.EndpointScope, rule.MaxCalls, rule.WindowSeconds, rule.WindowKind).
		Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (p *Postgres) ListRulesByService(ctx context.Context, serviceID uuid.UUID) ([]*model.RateLimitRule, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM rate_limit_rules
		WHERE service_id = $1
		ORDER BY window_seconds ASC
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.RateLimitRule
	for rows.Next() {
		rule, err := scanRuleFromRow(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// ReconcileRules runs the startup reconciliation pass: legacy limit-type
// labels are rewritten, exact duplicates are deleted keeping the
// earliest row, and duplicate groups that disagree on quota are reported
// as conflicts without touching any row.
func (p *Postgres) ReconcileRules(ctx context.Context) (int, []RuleConflict, error) {
	for legacy, canonical := range LegacyLimitTypes {
		if _, err := p.pool.Exec(ctx, `
			UPDATE rate_limit_rules SET limit_type = $1 WHERE limit_type = $2
		`, canonical, legacy); err != nil {
			return 0, nil, fmt.Errorf("rewrite legacy limit type %q: %w", legacy, err)
		}
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM rate_limit_rules ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return 0, nil, fmt.Errorf("list rules for reconciliation: %w", err)
	}
	defer rows.Close()

	var all []*model.RateLimitRule
	for rows.Next() {
		rule, err := scanRuleFromRow(rows)
		if err != nil {
			return 0, nil, err
		}
		all = append(all, rule)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("list rules for reconciliation: %w", err)
	}

	toDelete, conflicts := PlanRuleReconciliation(all)

	removed := 0
	for _, id := range toDelete {
		tag, err := p.pool.Exec(ctx, `DELETE FROM rate_limit_rules WHERE id = $1`, id)
		if err != nil {
			return removed, conflicts, fmt.Errorf("delete duplicate rule %s: %w", id, err)
		}
		removed += int(tag.RowsAffected())
	}
	return removed, conflicts, nil
}

// PlanRuleReconciliation groups rules by uniqueness key and decides
// which duplicates are safe to drop. Rules must be ordered oldest first;
// the first row of each group is the keeper. Groups whose members
// disagree on max_calls or window_seconds are conflicts and left alone.
func PlanRuleReconciliation(rules []*model.RateLimitRule) ([]uuid.UUID, []RuleConflict) {
	type key struct {
		service   uuid.UUID
		limitType string
		scope     string
	}
	groups := make(map[key][]*model.RateLimitRule)
	var order []key
	for _, r := range rules {
		k := key{r.ServiceID, r.LimitType, r.EndpointScope}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	var toDelete []uuid.UUID
	var conflicts []RuleConflict
	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		keeper := group[0]
		mismatch := false
		for _, r := range group[1:] {
			if r.MaxCalls != keeper.MaxCalls || r.WindowSeconds != keeper.WindowSeconds {
				mismatch = true
				break
			}
		}
		if mismatch {
			ids := make([]uuid.UUID, 0, len(group))
			for _, r := range group {
				ids = append(ids, r.ID)
			}
			conflicts = append(conflicts, RuleConflict{
				ServiceID:     k.service,
				LimitType:     k.limitType,
				EndpointScope: k.scope,
				RuleIDs:       ids,
			})
			continue
		}
		for _, r := range group[1:] {
			toDelete = append(toDelete, r.ID)
		}
	}
	return toDelete, conflicts
}

func scanRuleFromRow(rows pgx.Rows) (*model.RateLimitRule, error) {
	var rule model.RateLimitRule
	err := rows.Scan(
		&rule.ID, &rule.ServiceID, &rule.LimitType, &rule.EndpointScope,
		&rule.MaxCalls, &rule.WindowSeconds, &rule.WindowKind, &rule.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan rule: %w", err)
	}
	return &rule, nil
}
