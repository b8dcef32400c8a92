package domain

// LineItem is a single quote line as sent by Commerce in the collect-taxes webhook.
// Quantity is fractional because Commerce allows decimal quantities on some product types.
type LineItem struct {
	Code           string  `json:"code,omitempty"`
	SKU            string  `json:"sku,omitempty"`
	Name           string  `json:"name,omitempty"`
	TaxClass       string  `json:"tax_class,omitempty"`
	UnitPrice      float64 `json:"unit_price"`
	Quantity       float64 `json:"quantity"`
	DiscountAmount float64 `json:"discount_amount"`
	IsTaxIncluded  bool    `json:"is_tax_included"`
}

// OopQuote is the out-of-process quote. A nil Items slice means the field was absent.
type OopQuote struct {
	Items           []LineItem     `json:"items"`
	ShippingAddress map[string]any `json:"ship_to_address,omitempty"`
	CustomerTaxCode string         `json:"customer_tax_class,omitempty"`
}

// CollectTaxesRequest is the collect-taxes webhook body.
type CollectTaxesRequest struct {
	OopQuote *OopQuote `json:"oopQuote"`
}

// TaxRate is a named percentage applied to a taxable amount.
type TaxRate struct {
	Code  string  `json:"code" yaml:"code"`
	Rate  float64 `json:"rate" yaml:"rate"`
	Title string  `json:"title" yaml:"title"`
}

// TaxBreakdown is one rate's contribution to a line item's tax.
type TaxBreakdown struct {
	Code       string  `json:"code"`
	Rate       float64 `json:"rate"`
	Amount     float64 `json:"amount"`
	Title      string  `json:"title"`
	TaxRateKey string  `json:"tax_rate_key"`
}

// LineItemTax is the computed tax for one line item.
type LineItemTax struct {
	Breakdown                  []TaxBreakdown
	Amount                     float64
	Rate                       float64
	DiscountCompensationAmount float64
	TaxableAmount              float64
	NetPrice                   float64
}

// ItemTaxSummary is the value written to oopQuote/items/{i}/tax.
type ItemTaxSummary struct {
	Rate                       float64 `json:"rate"`
	Amount                     float64 `json:"amount"`
	DiscountCompensationAmount float64 `json:"discount_compensation_amount"`
}

// CreditMemoItem is a credit memo line. Only the tax-inclusion flag drives adjustment taxes.
type CreditMemoItem struct {
	SKU           string  `json:"sku,omitempty"`
	Qty           float64 `json:"qty,omitempty"`
	IsTaxIncluded bool    `json:"is_tax_included"`
}

// CreditMemoAdjustment holds the untaxed refund and fee adjustments.
type CreditMemoAdjustment struct {
	Refund float64 `json:"refund"`
	Fee    float64 `json:"fee"`
}

// OopCreditMemo is the out-of-process credit memo. A nil Items slice means the field was absent.
type OopCreditMemo struct {
	Items      []CreditMemoItem      `json:"items"`
	Adjustment *CreditMemoAdjustment `json:"adjustment,omitempty"`
}

// CollectAdjustmentTaxesRequest is the collect-adjustment-taxes webhook body.
type CollectAdjustmentTaxesRequest struct {
	OopCreditMemo *OopCreditMemo `json:"oopCreditMemo"`
}
