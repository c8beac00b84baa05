package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketdata-quota-service/internal/model"
)

const serviceColumns = `id, name, display_name, priority, active, config, created_at, updated_at`

func (p *Postgres) CreateService(ctx context.Context, svc *model.Service) error {
	cfg, err := json.Marshal(svc.Config)
	if err != nil {
		return fmt.Errorf("marshal service config: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO services (name, display_name, priority, active, config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id, created_at, updated_at
	`, svc.Name, svc.DisplayName, svc.Priority, svc.Active, cfg).
		Scan(&svc.ID, &svc.CreatedAt, &svc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

func (p *Postgres) GetServiceByName(ctx context.Context, name string) (*model.Service, error) {
	return p.scanService(ctx, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, name)
}

func (p *Postgres) GetServiceByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	return p.scanService(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
}

func (p *Postgres) ListServices(ctx context.Context) ([]*model.Service, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+serviceColumns+` FROM services ORDER BY priority DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []*model.Service
	for rows.Next() {
		svc, err := scanServiceFromRow(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (p *Postgres) scanService(ctx context.Context, query string, args ...interface{}) (*model.Service, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query service: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanServiceFromRow(rows)
}

func scanServiceFromRow(rows pgx.Rows) (*model.Service, error) {
	var svc model.Service
	var cfgJSON []byte

	err := rows.Scan(
		&svc.ID, &svc.Name, &svc.DisplayName, &svc.Priority, &svc.Active,
		&cfgJSON, &svc.CreatedAt, &svc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan service: %w", err)
	}

	if err := json.Unmarshal(cfgJSON, &svc.Config); err != nil {
		return nil, fmt.Errorf("unmarshal service config: %w", err)
	}
	return &svc, nil
}
