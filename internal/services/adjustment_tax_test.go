package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

func TestCollectAdjustmentTaxes(t *testing.T) {
	svc, err := NewAdjustmentTaxService(AdjustmentTaxServiceDeps{})
	if err != nil {
		t.Fatalf("NewAdjustmentTaxService: %v", err)
	}

	tests := []struct {
		name string
		memo *domain.OopCreditMemo
		want string
	}{
		{
			name: "excluding store refund and fee",
			memo: &domain.OopCreditMemo{
				Items:      []domain.CreditMemoItem{{SKU: "a"}},
				Adjustment: &domain.CreditMemoAdjustment{Refund: 100, Fee: 20},
			},
			want: `[{"op":"replace","path":"oopCreditMemo/adjustment/refund_tax","value":8.1},{"op":"replace","path":"oopCreditMemo/adjustment/fee_tax","value":1.62}]`,
		},
		{
			name: "any included item switches rate",
			memo: &domain.OopCreditMemo{
				Items:      []domain.CreditMemoItem{{SKU: "a"}, {SKU: "b", IsTaxIncluded: true}},
				Adjustment: &domain.CreditMemoAdjustment{Refund: 100},
			},
			want: `[{"op":"replace","path":"oopCreditMemo/adjustment/refund_tax","value":8.4}]`,
		},
		{
			name: "fee only",
			memo: &domain.OopCreditMemo{
				Items:      []domain.CreditMemoItem{},
				Adjustment: &domain.CreditMemoAdjustment{Fee: 10},
			},
			want: `[{"op":"replace","path":"oopCreditMemo/adjustment/fee_tax","value":0.81}]`,
		},
		{
			name: "no adjustment",
			memo: &domain.OopCreditMemo{Items: []domain.CreditMemoItem{{SKU: "a"}}},
			want: `[]`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ops, err := svc.CollectAdjustmentTaxes(context.Background(), tc.memo)
			if err != nil {
				t.Fatalf("CollectAdjustmentTaxes: %v", err)
			}
			data, err := json.Marshal(ops)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tc.want {
				t.Fatalf("unexpected operations\n got: %s\nwant: %s", data, tc.want)
			}
		})
	}
}

func TestCollectAdjustmentTaxesRequiresItems(t *testing.T) {
	svc, _ := NewAdjustmentTaxService(AdjustmentTaxServiceDeps{})

	for _, memo := range []*domain.OopCreditMemo{nil, {Adjustment: &domain.CreditMemoAdjustment{Refund: 1}}} {
		_, err := svc.CollectAdjustmentTaxes(context.Background(), memo)
		if !errors.Is(err, ErrInvalidCreditMemo) {
			t.Fatalf("expected ErrInvalidCreditMemo, got %v", err)
		}
	}
	if ErrInvalidCreditMemo.Error() != "Invalid or missing oopCreditMemo data" {
		t.Fatalf("unexpected message %q", ErrInvalidCreditMemo.Error())
	}
}

func TestCollectAdjustmentTaxesUsesConfiguredRates(t *testing.T) {
	table := DefaultRateTable()
	table.Adjustment = AdjustmentRates{Including: 20, Excluding: 10}
	svc, _ := NewAdjustmentTaxService(AdjustmentTaxServiceDeps{Rates: table})

	ops, err := svc.CollectAdjustmentTaxes(context.Background(), &domain.OopCreditMemo{
		Items:      []domain.CreditMemoItem{{IsTaxIncluded: true}},
		Adjustment: &domain.CreditMemoAdjustment{Refund: 50, Fee: -5},
	})
	if err != nil {
		t.Fatalf("CollectAdjustmentTaxes: %v", err)
	}
	if len(ops) != 2 || ops[0].Value != 10.0 || ops[1].Value != -1.0 {
		t.Fatalf("unexpected operations %+v", ops)
	}
}

func TestCalculateAdjustmentTax(t *testing.T) {
	tests := []struct {
		amount, rate, want float64
	}{
		{amount: 12.5, rate: 8.4, want: 1.05},
		{amount: 0, rate: 8.4, want: 0},
		{amount: 5, rate: 8.1, want: 0.41},
		{amount: 15, rate: 8.1, want: 1.22},
		{amount: 10.05, rate: 4.5, want: 0.45},
	}
	for _, tc := range tests {
		if got := CalculateAdjustmentTax(tc.amount, tc.rate); got != tc.want {
			t.Fatalf("CalculateAdjustmentTax(%v, %v): expected %v, got %v", tc.amount, tc.rate, tc.want, got)
		}
	}
}
