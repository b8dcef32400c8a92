package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

func okCheck(context.Context) error { return nil }

func TestNewDependencyHealthRepositoryValidates(t *testing.T) {
	tests := map[string][]DependencyCheck{
		"empty":        nil,
		"missing name": {{Name: " ", Check: okCheck}},
		"missing func": {{Name: "state"}},
	}
	for name, checks := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(checks); err == nil {
				t.Fatal("expected construction error")
			}
		})
	}
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	blocked := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	tests := []struct {
		name       string
		checks     []DependencyCheck
		wantStatus string
		wantChecks map[string]string
		wantDetail map[string]string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "state", Check: okCheck},
				{Name: "pubsub", Check: okCheck},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"state": domain.HealthStatusOK, "pubsub": domain.HealthStatusOK},
			wantDetail: map[string]string{"state": "ok"},
		},
		{
			name: "failure degrades",
			checks: []DependencyCheck{
				{Name: "state", Check: okCheck},
				{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic checkout-events not found") }},
			},
			wantStatus: domain.HealthStatusDegraded,
			wantChecks: map[string]string{"state": domain.HealthStatusOK, "pubsub": domain.HealthStatusDegraded},
			wantDetail: map[string]string{"pubsub": "topic checkout-events not found"},
		},
		{
			name: "timeout is an error",
			checks: []DependencyCheck{
				{Name: "secrets", Timeout: 5 * time.Millisecond, Check: blocked},
				{Name: "state", Check: okCheck},
			},
			wantStatus: domain.HealthStatusError,
			wantChecks: map[string]string{"secrets": domain.HealthStatusError, "state": domain.HealthStatusOK},
			wantDetail: map[string]string{"secrets": "timeout"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks)
			if err != nil {
				t.Fatalf("NewDependencyHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("status = %s, want %s", report.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := report.Checks[name].Status; got != want {
					t.Fatalf("check %s status = %s, want %s", name, got, want)
				}
			}
			for name, want := range tc.wantDetail {
				if got := report.Checks[name].Detail; got != want {
					t.Fatalf("check %s detail = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestDependencyHealthRepositoryUsesClock(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "state", Check: okCheck}},
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.GeneratedAt != now || report.Checks["state"].CheckedAt != now {
		t.Fatalf("expected injected clock, got %+v", report)
	}
}

func TestDependencyHealthRepositoryCancelledContext(t *testing.T) {
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "state", Check: okCheck}},
		WithDependencyTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := repo.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	check := report.Checks["state"]
	if check.Status != domain.HealthStatusError || check.Detail != "cancelled" {
		t.Fatalf("expected cancelled error check, got %+v", check)
	}
}
