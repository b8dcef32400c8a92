package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// ErrInvalidCreditMemo is returned when the credit memo or its items are missing. The message is
// surfaced to Commerce verbatim.
var ErrInvalidCreditMemo = errors.New("Invalid or missing oopCreditMemo data")

const (
	refundTaxPath = "oopCreditMemo/adjustment/refund_tax"
	feeTaxPath    = "oopCreditMemo/adjustment/fee_tax"
)

// AdjustmentRateSource supplies the flat rate used for credit memo adjustments.
type AdjustmentRateSource interface {
	AdjustmentRate(taxIncluded bool) float64
}

// AdjustmentTaxService answers the collect-adjustment-taxes webhook.
type AdjustmentTaxService interface {
	CollectAdjustmentTaxes(ctx context.Context, memo *domain.OopCreditMemo) ([]domain.TaxOperation, error)
}

// AdjustmentTaxServiceDeps bundles the collaborators of the adjustment tax service.
type AdjustmentTaxServiceDeps struct {
	Rates  AdjustmentRateSource
	Logger func(context.Context, string, map[string]any)
}

type adjustmentTaxService struct {
	rates  AdjustmentRateSource
	logger func(context.Context, string, map[string]any)
}

var _ AdjustmentTaxService = (*adjustmentTaxService)(nil)

// NewAdjustmentTaxService builds the service, falling back to the default rate table.
func NewAdjustmentTaxService(deps AdjustmentTaxServiceDeps) (AdjustmentTaxService, error) {
	rates := deps.Rates
	if rates == nil {
		rates = DefaultRateTable()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &adjustmentTaxService{rates: rates, logger: logger}, nil
}

func (s *adjustmentTaxService) CollectAdjustmentTaxes(ctx context.Context, memo *domain.OopCreditMemo) ([]domain.TaxOperation, error) {
	if memo == nil || memo.Items == nil {
		return nil, ErrInvalidCreditMemo
	}

	included := StoreTaxIncluded(memo.Items)
	rate := s.rates.AdjustmentRate(included)

	var refund, fee float64
	if memo.Adjustment != nil {
		refund = memo.Adjustment.Refund
		fee = memo.Adjustment.Fee
	}

	ops := make([]domain.TaxOperation, 0, 2)
	if refund != 0 {
		ops = append(ops, domain.TaxOperation{
			Op:    domain.OpReplace,
			Path:  refundTaxPath,
			Value: CalculateAdjustmentTax(refund, rate),
		})
	}
	if fee != 0 {
		ops = append(ops, domain.TaxOperation{
			Op:    domain.OpReplace,
			Path:  feeTaxPath,
			Value: CalculateAdjustmentTax(fee, rate),
		})
	}

	s.logger(ctx, "tax.adjustment_collected", map[string]any{
		"taxIncluded": included,
		"rate":        rate,
		"operations":  len(ops),
	})
	return ops, nil
}

// StoreTaxIncluded treats the store as tax-inclusive when any credit memo item is.
func StoreTaxIncluded(items []domain.CreditMemoItem) bool {
	for _, item := range items {
		if item.IsTaxIncluded {
			return true
		}
	}
	return false
}

// CalculateAdjustmentTax applies a flat percentage to an adjustment amount.
func CalculateAdjustmentTax(amount, rate float64) float64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Shift(-2).Round(2).InexactFloat64()
}
