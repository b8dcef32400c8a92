package repositories

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/state"
)

type stubSecretPinger struct {
	err error
	ref string
}

func (s *stubSecretPinger) Ping(_ context.Context, ref string) error {
	s.ref = ref
	return s.err
}

func TestPingCheckUsesStateStore(t *testing.T) {
	check := PingCheck("state", state.NewMemoryStore())
	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("expected memory store ping to succeed, got %v", err)
	}

	missing := PingCheck("state", nil)
	if err := missing.Check(context.Background()); err == nil {
		t.Fatalf("expected error for unconfigured store")
	}
}

func TestSecretCheckReportsResolverFailure(t *testing.T) {
	resolver := &stubSecretPinger{err: errors.New("permission denied")}
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		SecretCheck(resolver, "secret://commerce-oauth"),
		PingCheck("state", state.NewMemoryStore()),
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resolver.ref != "secret://commerce-oauth" {
		t.Fatalf("expected ref to be forwarded, got %q", resolver.ref)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["secrets"].Error; got != "permission denied" {
		t.Fatalf("unexpected secrets error %q", got)
	}
	if got := report.Checks["state"].Status; got != domain.HealthStatusOK {
		t.Fatalf("expected state ok, got %s", got)
	}
}

func TestPubSubTopicCheck(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	if _, err := client.CreateTopic(ctx, "checkout-events"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	if err := PubSubTopicCheck(client.Topic("checkout-events")).Check(ctx); err != nil {
		t.Fatalf("expected existing topic to pass, got %v", err)
	}
	if err := PubSubTopicCheck(client.Topic("missing")).Check(ctx); err == nil {
		t.Fatalf("expected missing topic to fail")
	}
}

func TestNewDependencyHealthRepositoryRejectsInvalidChecks(t *testing.T) {
	cases := []struct {
		name   string
		checks []DependencyCheck
	}{
		{name: "empty", checks: nil},
		{name: "missing name", checks: []DependencyCheck{{Check: func(context.Context) error { return nil }}}},
		{name: "missing func", checks: []DependencyCheck{{Name: "state"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(tc.checks); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
