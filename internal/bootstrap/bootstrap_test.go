package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store/inmemory"
)

func TestSeedCatalogIdempotent(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	st := inmemory.New(clock)

	if err := SeedCatalog(context.Background(), st, DefaultCatalog); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	if err := SeedCatalog(context.Background(), st, DefaultCatalog); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	services, err := st.ListServices(context.Background())
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if len(services) != len(DefaultCatalog) {
		t.Fatalf("expected %d services, got %d", len(DefaultCatalog), len(services))
	}

	for _, seed := range DefaultCatalog {
		svc, err := st.GetServiceByName(context.Background(), seed.Name)
		if err != nil {
			t.Fatalf("get %q: %v", seed.Name, err)
		}
		rules, err := st.ListRulesByService(context.Background(), svc.ID)
		if err != nil {
			t.Fatalf("list rules for %q: %v", seed.Name, err)
		}
		if len(rules) != len(seed.Rules) {
			t.Fatalf("service %q: expected %d rules, got %d", seed.Name, len(seed.Rules), len(rules))
		}
	}
}

func TestMigrateEnvCredentials(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	st := inmemory.New(clock)
	if err := SeedCatalog(context.Background(), st, DefaultCatalog); err != nil {
		t.Fatalf("seed: %v", err)
	}

	env := map[string]string{
		"ALPHAVANTAGE_API_KEY":   "av-primary-key",
		"ALPHAVANTAGE_API_KEY_2": "av-backup-key",
		"FINNHUB_API_KEY":        "fh-key",
	}
	lookup := func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}

	if err := MigrateEnvCredentials(context.Background(), st, lookup); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	av, err := st.GetServiceByName(context.Background(), "alphavantage")
	if err != nil {
		t.Fatalf("get alphavantage: %v", err)
	}
	creds, err := st.ListCredentials(context.Background(), av.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected 2 alphavantage credentials, got %d", len(creds))
	}
	for _, cred := range creds {
		if cred.Source != model.SourceEnvironment {
			t.Fatalf("expected environment source, got %q", cred.Source)
		}
		if !cred.Active {
			t.Fatal("expected imported credentials to be active")
		}
	}

	// re-running must not duplicate already-imported values
	if err := MigrateEnvCredentials(context.Background(), st, lookup); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	creds, err = st.ListCredentials(context.Background(), av.ID)
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(creds) != 2 {
		t.Fatalf("expected migration to be idempotent, got %d credentials", len(creds))
	}
}

func TestRunReportsConflictsWithoutFailing(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	st := inmemory.New(clock)
	if err := SeedCatalog(context.Background(), st, DefaultCatalog); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// inject a quota conflict against a seeded rule
	av, err := st.GetServiceByName(context.Background(), "alphavantage")
	if err != nil {
		t.Fatalf("get alphavantage: %v", err)
	}
	conflicting := &model.RateLimitRule{
		ServiceID:     av.ID,
		LimitType:     model.LimitPerMinute,
		MaxCalls:      25,
		WindowSeconds: 60,
		WindowKind:    model.WindowSliding,
	}
	if err := st.CreateRule(context.Background(), conflicting); err != nil {
		t.Fatalf("create conflicting rule: %v", err)
	}

	if err := Reconcile(context.Background(), st); err != nil {
		t.Fatalf("reconcile must not fail on conflicts: %v", err)
	}

	// both rows survive; the operator resolves the disagreement
	rules, err := st.ListRulesByService(context.Background(), av.ID)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	perMinute := 0
	for _, rule := range rules {
		if rule.LimitType == model.LimitPerMinute {
			perMinute++
		}
	}
	if perMinute != 2 {
		t.Fatalf("expected conflicting rules left in place, got %d per_minute rules", perMinute)
	}
}
