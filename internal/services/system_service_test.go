package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceFillsBuildMetadata(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &stubHealthRepository{report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{"redis": {Status: domain.HealthStatusOK}},
		}},
		Clock: func() time.Time { return now },
		Build: BuildInfo{Version: "1.2.3", CommitSHA: "abc123", Environment: "prod", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.2.3" || report.CommitSHA != "abc123" || report.Environment != "prod" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 5*time.Minute || !report.GeneratedAt.Equal(now) {
		t.Fatalf("unexpected timing uptime=%s generated=%s", report.Uptime, report.GeneratedAt)
	}
}

func TestSystemServiceStatus(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]domain.SystemHealthCheck
		critical []string
		want     string
	}{
		{
			name:   "no checks",
			checks: nil,
			want:   domain.HealthStatusOK,
		},
		{
			name: "non critical failure degrades",
			checks: map[string]domain.SystemHealthCheck{
				"pubsub":  {Status: domain.HealthStatusDegraded},
				"secrets": {Status: domain.HealthStatusOK},
			},
			critical: []string{"redis"},
			want:     domain.HealthStatusDegraded,
		},
		{
			name: "non critical timeout still degrades",
			checks: map[string]domain.SystemHealthCheck{
				"secrets": {Status: domain.HealthStatusError, Detail: "timeout"},
			},
			critical: []string{"redis"},
			want:     domain.HealthStatusDegraded,
		},
		{
			name: "critical failure errors",
			checks: map[string]domain.SystemHealthCheck{
				"redis":  {Status: domain.HealthStatusDegraded, Error: "redis: connection refused"},
				"pubsub": {Status: domain.HealthStatusOK},
			},
			critical: []string{" redis "},
			want:     domain.HealthStatusError,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: domain.HealthStatusOK, Checks: tc.checks}}
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Critical: tc.critical})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("status = %s, want %s", report.Status, tc.want)
			}
			if report.Checks == nil {
				t.Fatal("expected non-nil checks map")
			}
		})
	}
}

func TestSystemServiceErrors(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}

	collectErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected collect error, got %v", err)
	}
}
