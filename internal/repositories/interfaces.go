package repositories

import (
	"context"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// HealthRepository aggregates the readiness of the backing services the checkout app depends on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
