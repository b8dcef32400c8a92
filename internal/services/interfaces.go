package services

import (
	"context"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	SystemHealthReport = domain.SystemHealthReport
	SystemHealthCheck  = domain.SystemHealthCheck
	TaxRate            = domain.TaxRate
)

// SystemService reports process and dependency health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Compile-time checks that the rate table serves both tax services.
var (
	_ RateSelector         = RateTable{}
	_ AdjustmentRateSource = RateTable{}
)
