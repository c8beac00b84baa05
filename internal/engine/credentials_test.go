package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/marketdata-quota-service/internal/model"
	"github.com/marketdata-quota-service/internal/store"
)

func TestCredentialAdd(t *testing.T) {
	t.Run("creates active manual credential", func(t *testing.T) {
		f := newFixture(t)
		svc := NewCredentialService(f.store, f.clock.Now)

		cred, err := svc.Add(context.Background(), AddCredentialInput{
			Service: f.svc.Name,
			Value:   "sk-abcdef123456",
			Label:   "primary",
		})
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if !cred.Active || cred.Source != model.SourceManual {
			t.Fatalf("unexpected credential state: %+v", cred)
		}
		if cred.ValueHint != "sk-abc..." {
			t.Fatalf("unexpected value hint: %q", cred.ValueHint)
		}
	})

	t.Run("rejects empty value", func(t *testing.T) {
		f := newFixture(t)
		svc := NewCredentialService(f.store, f.clock.Now)

		_, err := svc.Add(context.Background(), AddCredentialInput{Service: f.svc.Name, Value: "  "})
		var engErr *Error
		if !errors.As(err, &engErr) || engErr.Kind != ErrBadRequest {
			t.Fatalf("expected bad request, got %v", err)
		}
	})

	t.Run("rejects unknown service", func(t *testing.T) {
		f := newFixture(t)
		svc := NewCredentialService(f.store, f.clock.Now)

		_, err := svc.Add(context.Background(), AddCredentialInput{Service: "nosuch", Value: "key"})
		var engErr *Error
		if !errors.As(err, &engErr) || engErr.Code != "service_not_found" {
			t.Fatalf("expected service_not_found, got %v", err)
		}
	})

	t.Run("rejects duplicate value", func(t *testing.T) {
		f := newFixture(t)
		f.addCredential(t, "existing-key", 0)
		svc := NewCredentialService(f.store, f.clock.Now)

		_, err := svc.Add(context.Background(), AddCredentialInput{Service: f.svc.Name, Value: "existing-key"})
		var engErr *Error
		if !errors.As(err, &engErr) || engErr.Code != "duplicate_credential" {
			t.Fatalf("expected duplicate_credential, got %v", err)
		}
	})
}

func TestCredentialUpdate(t *testing.T) {
	t.Run("applies partial updates", func(t *testing.T) {
		f := newFixture(t)
		cred := f.addCredential(t, "key-one", 0)
		svc := NewCredentialService(f.store, f.clock.Now)

		label := "backup"
		priority := 5
		updated, err := svc.Update(context.Background(), cred.ID, store.CredentialUpdates{
			Label:    &label,
			Priority: &priority,
		})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Label != "backup" || updated.Priority != 5 {
			t.Fatalf("unexpected updated credential: %+v", updated)
		}
	})

	t.Run("rejects empty value", func(t *testing.T) {
		f := newFixture(t)
		cred := f.addCredential(t, "key-one", 0)
		svc := NewCredentialService(f.store, f.clock.Now)

		empty := ""
		_, err := svc.Update(context.Background(), cred.ID, store.CredentialUpdates{Value: &empty})
		var engErr *Error
		if !errors.As(err, &engErr) || engErr.Kind != ErrBadRequest {
			t.Fatalf("expected bad request, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		f := newFixture(t)
		svc := NewCredentialService(f.store, f.clock.Now)

		label := "x"
		_, err := svc.Update(context.Background(), uuid.New(), store.CredentialUpdates{Label: &label})
		var engErr *Error
		if !errors.As(err, &engErr) || engErr.Kind != ErrNotFound {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestCredentialDelete(t *testing.T) {
	f := newFixture(t)
	cred := f.addCredential(t, "key-one", 0)
	svc := NewCredentialService(f.store, f.clock.Now)

	if err := svc.Delete(context.Background(), cred.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.store.GetCredentialByID(context.Background(), cred.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected credential gone, got %v", err)
	}

	err := svc.Delete(context.Background(), cred.ID)
	var engErr *Error
	if !errors.As(err, &engErr) || engErr.Kind != ErrNotFound {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestCredentialTest(t *testing.T) {
	t.Run("usable with headroom", func(t *testing.T) {
		f := newFixture(t)
		f.addRule(t, model.LimitPerMinute, 10, 60, model.WindowSliding)
		cred := f.addCredential(t, "key-one", 0)

		svc := NewCredentialService(f.store, f.clock.Now)
		rotator := NewKeyRotator(f.store, f.clock.Now)

		result, err := svc.Test(context.Background(), rotator, cred.ID)
		if err != nil {
			t.Fatalf("test: %v", err)
		}
		if !result.Usable || result.Headroom != 10 || len(result.Reasons) != 0 {
			t.Fatalf("unexpected result: %+v", result)
		}
	})

	t.Run("throttled credential reports reason", func(t *testing.T) {
		f := newFixture(t)
		f.addRule(t, model.LimitPerMinute, 10, 60, model.WindowSliding)
		cred := f.addCredential(t, "key-one", 0)

		until := f.clock.Now().Add(60 * time.Second)
		if err := f.store.SetCredentialThrottled(context.Background(), cred.ID, until); err != nil {
			t.Fatalf("set throttled: %v", err)
		}

		svc := NewCredentialService(f.store, f.clock.Now)
		rotator := NewKeyRotator(f.store, f.clock.Now)

		result, err := svc.Test(context.Background(), rotator, cred.ID)
		if err != nil {
			t.Fatalf("test: %v", err)
		}
		if result.Usable || len(result.Reasons) == 0 {
			t.Fatalf("expected unusable with reasons, got %+v", result)
		}
	})

	t.Run("exhausted credential reports no headroom", func(t *testing.T) {
		f := newFixture(t)
		f.addRule(t, model.LimitPerMinute, 2, 60, model.WindowSliding)
		cred := f.addCredential(t, "key-one", 0)
		f.recordCalls(t, "key-one", "", 2)

		svc := NewCredentialService(f.store, f.clock.Now)
		rotator := NewKeyRotator(f.store, f.clock.Now)

		result, err := svc.Test(context.Background(), rotator, cred.ID)
		if err != nil {
			t.Fatalf("test: %v", err)
		}
		if result.Usable || result.Headroom != 0 {
			t.Fatalf("expected zero headroom, got %+v", result)
		}
	})
}
