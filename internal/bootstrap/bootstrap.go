// Package bootstrap seeds the provider catalog, reconciles rate-limit
// rules, and migrates environment-provisioned credentials before the
// engine starts serving requests.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

type SeedRule struct {
	LimitType     string
	MaxCalls      int
	WindowSeconds int
	WindowKind    model.WindowKind
}

type SeedService struct {
	Name        string
	DisplayName string
	Priority    int
	Config      model.ServiceConfig
	Rules       []SeedRule
}

// DefaultCatalog lists the market-data providers the aggregator talks
// to, with their published quotas.
var DefaultCatalog = []SeedService{
	{
		Name:        "alphavantage",
		DisplayName: "Alpha Vantage",
		Priority:    10,
		Config: model.ServiceConfig{
			// free tier signals throttling with a 200 + "Note" body
			ThrottleBodyField:        "Note",
			DefaultRetryAfterSeconds: 60,
		},
		Rules: []SeedRule{
			{LimitType: model.LimitPerMinute, MaxCalls: 5, WindowSeconds: 60, WindowKind: model.WindowSliding},
			{LimitType: model.LimitDaily, MaxCalls: 500, WindowSeconds: 86400, WindowKind: model.WindowDailyFixed},
		},
	},
	{
		Name:        "finnhub",
		DisplayName: "Finnhub",
		Priority:    20,
		Config: model.ServiceConfig{
			ThrottleStatusCodes:      []int{429},
			DefaultRetryAfterSeconds: 1,
		},
		Rules: []SeedRule{
			{LimitType: model.LimitPerSecond, MaxCalls: 30, WindowSeconds: 1, WindowKind: model.WindowSliding},
			{LimitType: model.LimitPerMinute, MaxCalls: 60, WindowSeconds: 60, WindowKind: model.WindowSliding},
		},
	},
	{
		Name:        "twelvedata",
		DisplayName: "Twelve Data",
		Priority:    15,
		Config: model.ServiceConfig{
			ThrottleStatusCodes:      []int{429},
			DefaultRetryAfterSeconds: 60,
		},
		Rules: []SeedRule{
			{LimitType: model.LimitPerMinute, MaxCalls: 8, WindowSeconds: 60, WindowKind: model.WindowSliding},
			{LimitType: model.LimitDaily, MaxCalls: 800, WindowSeconds: 86400, WindowKind: model.WindowDailyFixed},
		},
	},
}

// Run executes the full bootstrap sequence: seed, reconcile, migrate.
func Run(ctx context.Context, st store.Store) error {
	if err := SeedCatalog(ctx, st, DefaultCatalog); err != nil {
		return err
	}
	if err := Reconcile(ctx, st); err != nil {
		return err
	}
	if err := MigrateEnvCredentials(ctx, st, os.LookupEnv); err != nil {
		return err
	}
	return nil
}

// SeedCatalog upserts services and creates their rules when the service
// has none yet. Idempotent across restarts; rule changes for existing
// services are an operator task, not a seed overwrite.
func SeedCatalog(ctx context.Context, st store.Store, catalog []SeedService) error {
	for _, seed := range catalog {
		svc := &model.Service{
			Name:        seed.Name,
			DisplayName: seed.DisplayName,
			Priority:    seed.Priority,
			Active:      true,
			Config:      seed.Config,
		}
		if err := st.CreateService(ctx, svc); err != nil {
			return fmt.Errorf("seed service %q: %w", seed.Name, err)
		}

		existing, err := st.ListRulesByService(ctx, svc.ID)
		if err != nil {
			return fmt.Errorf("list rules for %q: %w", seed.Name, err)
		}
		if len(existing) > 0 {
			continue
		}
		for _, sr := range seed.Rules {
			rule := &model.RateLimitRule{
				ServiceID:     svc.ID,
				LimitType:     sr.LimitType,
				MaxCalls:      sr.MaxCalls,
				WindowSeconds: sr.WindowSeconds,
				WindowKind:    sr.WindowKind,
			}
			if err := st.CreateRule(ctx, rule); err != nil {
				return fmt.Errorf("seed rule %s/%s: %w", seed.Name, sr.LimitType, err)
			}
		}
		log.Info().Str("service", seed.Name).Int("rules", len(seed.Rules)).Msg("seeded provider")
	}
	return nil
}

// Reconcile removes duplicate rules and reports quota conflicts. A
// conflict is never resolved silently: the mismatched rows are left in
// place and logged for the operator.
func Reconcile(ctx context.Context, st store.Store) error {
	removed, conflicts, err := st.ReconcileRules(ctx)
	if err != nil {
		return fmt.Errorf("reconcile rules: %w", err)
	}
	if removed > 0 {
		log.Warn().Int("removed", removed).Msg("removed duplicate rate-limit rules")
	}
	for _, c := range conflicts {
		log.Error().
			Str("service_id", c.ServiceID.String()).
			Str("limit_type", c.LimitType).
			Str("endpoint_scope", c.EndpointScope).
			Int("rules", len(c.RuleIDs)).
			Msg("rate-limit rule conflict: duplicate key with differing quotas, refusing to auto-resolve")
	}
	return nil
}

// MigrateEnvCredentials imports keys provisioned through environment
// variables: <SERVICE>_API_KEY plus numbered variants
// <SERVICE>_API_KEY_2 .. _9. Already-imported values are skipped.
func MigrateEnvCredentials(ctx context.Context, st store.Store, lookup func(string) (string, bool)) error {
	services, err := st.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}

	for _, svc := range services {
		base := strings.ToUpper(svc.Name) + "_API_KEY"
		names := []string{base}
		for i := 2; i <= 9; i++ {
			names = append(names, fmt.Sprintf("%s_%d", base, i))
		}

		imported := 0
		for _, name := range names {
			value, ok := lookup(name)
			if !ok || value == "" {
				continue
			}
			if _, err := st.GetCredentialByValue(ctx, svc.ID, value); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("check credential for %q: %w", svc.Name, err)
			}
			cred := &model.Credential{
				ServiceID: svc.ID,
				Value:     value,
				ValueHint: model.Hint(value),
				Label:     name,
				Active:    true,
				Source:    model.SourceEnvironment,
			}
			if err := st.CreateCredential(ctx, cred); err != nil {
				return fmt.Errorf("import credential %s: %w", name, err)
			}
			imported++
		}
		if imported > 0 {
			log.Info().Str("service", svc.Name).Int("imported", imported).
				Msg("migrated environment credentials")
		}
	}
	return nil
}
