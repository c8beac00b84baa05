package model

import (
	"testing"
	"time"
)

func TestExpiryFrom(t *testing.T) {
	t.Run("sliding window expires per call", func(t *testing.T) {
		rule := &RateLimitRule{WindowSeconds: 60, WindowKind: WindowSliding}
		calledAt := time.Date(2025, 3, 10, 12, 0, 30, 0, time.UTC)

		got := rule.ExpiryFrom(calledAt)
		want := calledAt.Add(60 * time.Second)
		if !got.Equal(want) {
			t.Fatalf("unexpected expiry: got %v want %v", got, want)
		}
	})

	t.Run("daily fixed window resets at UTC midnight", func(t *testing.T) {
		rule := &RateLimitRule{WindowSeconds: 86400, WindowKind: WindowDailyFixed}
		calledAt := time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC)

		got := rule.ExpiryFrom(calledAt)
		want := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("unexpected expiry: got %v want %v", got, want)
		}
	})
}

func TestIsBurst(t *testing.T) {
	burst := &RateLimitRule{WindowSeconds: 1}
	if !burst.IsBurst() {
		t.Fatal("expected one-second window to be a burst rule")
	}
	minute := &RateLimitRule{WindowSeconds: 60}
	if minute.IsBurst() {
		t.Fatal("expected one-minute window not to be a burst rule")
	}
}

func TestHint(t *testing.T) {
	if got := Hint("sk-abcdef123456"); got != "sk-abc..." {
		t.Fatalf("unexpected hint: %q", got)
	}
	if got := Hint("short"); got != "short" {
		t.Fatalf("expected short values unmasked, got %q", got)
	}
}

func TestThrottledAt(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("unset flag", func(t *testing.T) {
		c := &Credential{}
		if c.ThrottledAt(now) {
			t.Fatal("expected unthrottled credential")
		}
	})

	t.Run("active flag", func(t *testing.T) {
		until := now.Add(time.Minute)
		c := &Credential{RateLimited: true, RateLimitedUntil: &until}
		if !c.ThrottledAt(now) {
			t.Fatal("expected throttled credential")
		}
	})

	t.Run("expired flag self-heals", func(t *testing.T) {
		until := now.Add(-time.Second)
		c := &Credential{RateLimited: true, RateLimitedUntil: &until}
		if c.ThrottledAt(now) {
			t.Fatal("expected expired flag to no longer count")
		}
	})
}
