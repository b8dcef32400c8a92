package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// ErrRateTableInvalid is returned when a rate table fails validation.
var ErrRateTableInvalid = errors.New("tax: invalid rate table")

// RateSelector chooses the rates that apply to a quote item.
type RateSelector interface {
	RatesFor(item domain.LineItem) []domain.TaxRate
}

// AdjustmentRates are the flat percentages applied to credit memo adjustments.
type AdjustmentRates struct {
	Including float64 `yaml:"including"`
	Excluding float64 `yaml:"excluding"`
}

// RateTable is the static rate configuration. Tax-inclusive items use Including, all other
// items use Excluding.
type RateTable struct {
	Including  []domain.TaxRate `yaml:"including"`
	Excluding  []domain.TaxRate `yaml:"excluding"`
	Adjustment AdjustmentRates  `yaml:"adjustment"`
}

// DefaultRateTable returns the built-in sample rates.
func DefaultRateTable() RateTable {
	return RateTable{
		Including: []domain.TaxRate{
			{Code: "vat", Rate: 8.4, Title: "VAT"},
		},
		Excluding: []domain.TaxRate{
			{Code: "state_tax", Rate: 4.5, Title: "State Tax"},
			{Code: "county_tax", Rate: 3.6, Title: "County Tax"},
		},
		Adjustment: AdjustmentRates{Including: 8.4, Excluding: 8.1},
	}
}

// RatesFor implements RateSelector.
func (t RateTable) RatesFor(item domain.LineItem) []domain.TaxRate {
	if item.IsTaxIncluded {
		return t.Including
	}
	return t.Excluding
}

// Codes lists every rate of the table once per code, tax-inclusive rates first.
func (t RateTable) Codes() []domain.TaxRate {
	seen := make(map[string]struct{}, len(t.Including)+len(t.Excluding))
	codes := make([]domain.TaxRate, 0, len(t.Including)+len(t.Excluding))
	for _, rate := range append(append([]domain.TaxRate{}, t.Including...), t.Excluding...) {
		if _, ok := seen[rate.Code]; ok {
			continue
		}
		seen[rate.Code] = struct{}{}
		codes = append(codes, rate)
	}
	return codes
}

// AdjustmentRate returns the adjustment percentage for the store's tax mode.
func (t RateTable) AdjustmentRate(taxIncluded bool) float64 {
	if taxIncluded {
		return t.Adjustment.Including
	}
	return t.Adjustment.Excluding
}

// Validate checks codes are present and unique per set and rates are within [0, 100].
func (t RateTable) Validate() error {
	var problems []string
	check := func(set string, rates []domain.TaxRate) {
		seen := make(map[string]struct{}, len(rates))
		for i, rate := range rates {
			code := strings.TrimSpace(rate.Code)
			if code == "" {
				problems = append(problems, fmt.Sprintf("%s[%d].code is required", set, i))
				continue
			}
			if _, dup := seen[code]; dup {
				problems = append(problems, fmt.Sprintf("%s[%d].code %q is duplicated", set, i, code))
			}
			seen[code] = struct{}{}
			if !validPercentage(rate.Rate) {
				problems = append(problems, fmt.Sprintf("%s[%d].rate %v must be between 0 and 100", set, i, rate.Rate))
			}
		}
	}
	check("including", t.Including)
	check("excluding", t.Excluding)
	if !validPercentage(t.Adjustment.Including) {
		problems = append(problems, fmt.Sprintf("adjustment.including %v must be between 0 and 100", t.Adjustment.Including))
	}
	if !validPercentage(t.Adjustment.Excluding) {
		problems = append(problems, fmt.Sprintf("adjustment.excluding %v must be between 0 and 100", t.Adjustment.Excluding))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrRateTableInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func validPercentage(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// ParseRateTable decodes a YAML rate table. Sections left out of the document keep their
// built-in defaults.
func ParseRateTable(data []byte) (RateTable, error) {
	var doc struct {
		Including  *[]domain.TaxRate `yaml:"including"`
		Excluding  *[]domain.TaxRate `yaml:"excluding"`
		Adjustment *AdjustmentRates  `yaml:"adjustment"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return RateTable{}, fmt.Errorf("%w: %v", ErrRateTableInvalid, err)
	}

	table := DefaultRateTable()
	if doc.Including != nil {
		table.Including = *doc.Including
	}
	if doc.Excluding != nil {
		table.Excluding = *doc.Excluding
	}
	if doc.Adjustment != nil {
		table.Adjustment = *doc.Adjustment
	}
	if err := table.Validate(); err != nil {
		return RateTable{}, err
	}
	return table, nil
}

// ObjectReader reads a configuration object from a path or gs:// URI.
type ObjectReader interface {
	Read(ctx context.Context, location string) ([]byte, error)
}

// LoadRateTable reads and parses the table at location. An empty location yields the defaults.
func LoadRateTable(ctx context.Context, reader ObjectReader, location string) (RateTable, error) {
	if strings.TrimSpace(location) == "" {
		return DefaultRateTable(), nil
	}
	if reader == nil {
		return RateTable{}, errors.New("tax: rate table reader is required")
	}
	data, err := reader.Read(ctx, location)
	if err != nil {
		return RateTable{}, fmt.Errorf("tax: load rate table: %w", err)
	}
	return ParseRateTable(data)
}
