package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// ErrTaxInvalidInput signals a collect-taxes request without oopQuote.items.
var ErrTaxInvalidInput = errors.New("tax: invalid input")

const (
	taxBreakdownInstance = `Magento\OutOfProcessTaxManagement\Api\Data\OopQuoteItemTaxBreakdownInterface`
	itemTaxInstance      = `Magento\OutOfProcessTaxManagement\Api\Data\OopQuoteItemTaxInterface`
)

// TaxService answers the collect-taxes webhook.
type TaxService interface {
	CollectTaxes(ctx context.Context, quote *domain.OopQuote) ([]domain.TaxOperation, error)
}

// TaxServiceDeps bundles the collaborators of the tax service.
type TaxServiceDeps struct {
	Rates  RateSelector
	Logger func(context.Context, string, map[string]any)
}

type taxService struct {
	rates  RateSelector
	logger func(context.Context, string, map[string]any)
}

var _ TaxService = (*taxService)(nil)

// NewTaxService builds the tax service. Without a rate selector the default rate table is used.
func NewTaxService(deps TaxServiceDeps) (TaxService, error) {
	rates := deps.Rates
	if rates == nil {
		rates = DefaultRateTable()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &taxService{rates: rates, logger: logger}, nil
}

// CollectTaxes returns the breakdown and summary operations for every quote item, in item order.
func (s *taxService) CollectTaxes(ctx context.Context, quote *domain.OopQuote) ([]domain.TaxOperation, error) {
	if quote == nil || quote.Items == nil {
		return nil, fmt.Errorf("%w: oopQuote.items is required", ErrTaxInvalidInput)
	}

	ops := make([]domain.TaxOperation, 0, len(quote.Items)*3)
	total := decimal.Zero
	for i, item := range quote.Items {
		tax := CalculateLineItemTax(item, s.rates.RatesFor(item))
		ops = append(ops, TaxOperationsForItem(i, tax)...)
		total = total.Add(decimal.NewFromFloat(tax.Amount))
	}

	s.logger(ctx, "tax.collected", map[string]any{
		"items":      len(quote.Items),
		"operations": len(ops),
		"taxTotal":   total.StringFixed(2),
	})
	return ops, nil
}

// CalculateLineItemTax computes the tax of one line. Discounts are applied before tax and capped
// at the line total. For tax-inclusive prices the tax is extracted from the price and the tax
// hidden in the discount is reported as discount compensation. Amounts are computed in decimal
// and rounded to cents half away from zero.
func CalculateLineItemTax(item domain.LineItem, rates []domain.TaxRate) domain.LineItemTax {
	lineTotal := decimal.NewFromFloat(item.UnitPrice).Mul(decimal.NewFromFloat(item.Quantity))
	discount := decimal.Max(decimal.Zero, decimal.Min(lineTotal, decimal.NewFromFloat(item.DiscountAmount)))
	taxable := decimal.Max(decimal.Zero, lineTotal.Sub(discount))

	result := domain.LineItemTax{
		Breakdown:     make([]domain.TaxBreakdown, 0, len(rates)),
		TaxableAmount: taxable.InexactFloat64(),
	}

	itemTax, hidden := decimal.Zero, decimal.Zero
	for _, rate := range rates {
		fraction := decimal.NewFromFloat(rate.Rate).Shift(-2)
		var amount decimal.Decimal
		if item.IsTaxIncluded {
			divisor := decimal.NewFromInt(1).Add(fraction)
			amount = taxable.Sub(taxable.Div(divisor))
			hidden = hidden.Add(discount.Sub(discount.Div(divisor)))
		} else {
			amount = taxable.Mul(fraction)
		}
		amount = amount.Round(2)
		itemTax = itemTax.Add(amount)

		result.Breakdown = append(result.Breakdown, domain.TaxBreakdown{
			Code:       rate.Code,
			Rate:       rate.Rate,
			Amount:     amount.InexactFloat64(),
			Title:      rate.Title,
			TaxRateKey: TaxRateKey(rate),
		})
	}

	itemTax = itemTax.Round(2)
	net := taxable
	if item.IsTaxIncluded {
		net = taxable.Sub(itemTax)
	}

	result.Amount = itemTax.InexactFloat64()
	result.DiscountCompensationAmount = hidden.Round(2).InexactFloat64()
	result.NetPrice = net.InexactFloat64()
	if net.IsPositive() {
		result.Rate = itemTax.Div(net).Shift(2).Round(2).InexactFloat64()
	}
	return result
}

// TaxOperationsForItem renders one breakdown operation per rate followed by the item summary.
func TaxOperationsForItem(index int, tax domain.LineItemTax) []domain.TaxOperation {
	ops := make([]domain.TaxOperation, 0, len(tax.Breakdown)+1)
	for _, b := range tax.Breakdown {
		ops = append(ops, domain.TaxOperation{
			Op:       domain.OpAdd,
			Path:     fmt.Sprintf("oopQuote/items/%d/tax_breakdown", index),
			Value:    domain.DataValue[domain.TaxBreakdown]{Data: b},
			Instance: taxBreakdownInstance,
		})
	}
	ops = append(ops, domain.TaxOperation{
		Op:   domain.OpReplace,
		Path: fmt.Sprintf("oopQuote/items/%d/tax", index),
		Value: domain.DataValue[domain.ItemTaxSummary]{Data: domain.ItemTaxSummary{
			Rate:                       tax.Rate,
			Amount:                     tax.Amount,
			DiscountCompensationAmount: tax.DiscountCompensationAmount,
		}},
		Instance: itemTaxInstance,
	})
	return ops
}

// TaxRateKey identifies a rate as "{code}-{rate}" with the rate in shortest decimal form.
func TaxRateKey(rate domain.TaxRate) string {
	return rate.Code + "-" + strconv.FormatFloat(rate.Rate, 'f', -1, 64)
}

// Round2 rounds to two decimals, halves away from zero. The input is read as its shortest
// decimal representation, so 1.005 rounds to 1.01.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
