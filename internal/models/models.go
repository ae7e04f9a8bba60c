// Package models defines the row and aggregate types shared by the bill
// reconciliation pipelines, together with the cell normalization helpers
// every pipeline applies before doing arithmetic.
//
// Spreadsheet exports are messy: amounts arrive as "¥1,234.50", product
// codes bleed into scientific notation when a sheet stores them as floats,
// and free-text cells carry stray tabs and newlines. Normalization is total:
// a malformed cell degrades to zero or an empty string instead of failing
// the run.
package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// RawRow is one parsed spreadsheet row: a mapping from column name to the
// raw cell text. Column names are the natural-language labels of the export;
// the column set is schema-dependent per pipeline. Rows are ephemeral and
// consumed by exactly one pipeline run.
type RawRow map[string]string

// Has reports whether the row carries the given column
func (r RawRow) Has(column string) bool {
	_, ok := r[column]
	return ok
}

// Get returns the cleaned string value of a column (empty when absent)
func (r RawRow) Get(column string) string {
	return CleanString(r[column])
}

// Amount returns the numeric value of a column, normalized per ParseAmount
func (r RawRow) Amount(column string) decimal.Decimal {
	return ParseAmount(r[column])
}

// Clone returns an independent copy of the row
func (r RawRow) Clone() RawRow {
	clone := make(RawRow, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}

// CloneRows deep-copies a row sequence. The task harness uses this so no
// shared mutable state crosses the worker boundary.
func CloneRows(rows []RawRow) []RawRow {
	if rows == nil {
		return nil
	}
	cloned := make([]RawRow, len(rows))
	for i, row := range rows {
		cloned[i] = row.Clone()
	}
	return cloned
}

// ProductStatus tracks whether a product aggregate has a unit price yet
type ProductStatus string

const (
	// ProductStatusValid means a default price was applied from configuration
	ProductStatusValid ProductStatus = "valid"
	// ProductStatusPending means the product still needs a manual price
	ProductStatusPending ProductStatus = "pending"
)

// ProductAggregate is the per-product-code output unit of the business rule
// engine's price-entry workflow. UnitPrice and Total stay nil until a price
// has been assigned.
type ProductAggregate struct {
	ProductCode string           `json:"productCode"`
	ProductName string           `json:"productName"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Total       *decimal.Decimal `json:"total,omitempty"`
	Status      ProductStatus    `json:"status"`
}

// RecomputeTotal refreshes Total from UnitPrice and Quantity; Total stays
// nil while the unit price is pending.
func (p *ProductAggregate) RecomputeTotal() {
	if p.UnitPrice == nil {
		p.Total = nil
		return
	}
	total := p.UnitPrice.Mul(p.Quantity)
	p.Total = &total
}

// SimplifiedRow is the priced output row of the reconciliation pipeline:
// product identity plus quantity and (once known) unit price and total.
type SimplifiedRow struct {
	ProductName string           `json:"productName"`
	ProductCode string           `json:"productCode"`
	UnitPrice   *decimal.Decimal `json:"unitPrice,omitempty"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Total       *decimal.Decimal `json:"total,omitempty"`
}

// SettlementAggregate is the per-product-code output unit of the settlement
// aggregation pipeline. Quantity is nil when the dataset carries no quantity
// column. All money values are rounded to cents (round half up).
type SettlementAggregate struct {
	ProductCode      string           `json:"productCode"`
	SettlementAmount decimal.Decimal  `json:"settlementAmount"`
	Quantity         *decimal.Decimal `json:"quantity,omitempty"`
	ServiceFee       decimal.Decimal  `json:"serviceFee"`
	Net              decimal.Decimal  `json:"net"`
}

// PriceEntry is one static default-price configuration record. It is
// read-only input to the rule engine and never mutated by a pipeline run.
type PriceEntry struct {
	Enabled   bool            `json:"enabled"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// PriceTable maps product code to its default price entry
type PriceTable map[string]PriceEntry

// Lookup returns the unit price for a code when an enabled entry exists
func (t PriceTable) Lookup(code string) (decimal.Decimal, bool) {
	entry, ok := t[code]
	if !ok || !entry.Enabled {
		return decimal.Zero, false
	}
	return entry.UnitPrice, true
}

// Cell normalization

var (
	controlCharReplacer = strings.NewReplacer("\t", "", "\n", "", "\r", "")
	currencyReplacer    = strings.NewReplacer("¥", "", "￥", "", "$", "", ",", "", " ", "", " ", "")
	scientificPattern   = regexp.MustCompile(`^[+-]?\d+(\.\d+)?[eE][+-]?\d+$`)
)

// CleanString strips tab, newline and carriage-return characters and trims
// surrounding whitespace from a raw cell value.
func CleanString(s string) string {
	return strings.TrimSpace(controlCharReplacer.Replace(s))
}

// ParseAmount converts a raw cell value into a numeric amount. Currency
// symbols (¥, ￥, $), thousands separators and whitespace are stripped
// first. Empty or non-numeric input yields zero; ParseAmount never fails.
func ParseAmount(s string) decimal.Decimal {
	cleaned := currencyReplacer.Replace(CleanString(s))
	if cleaned == "" {
		return decimal.Zero
	}

	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// NormalizeProductCode forces a product code into plain string form. Codes
// that a spreadsheet stored as floats arrive in scientific notation
// (e.g. "6.92334567e+12"); those are expanded to plain digits so codes keep
// a stable identity across merge steps.
func NormalizeProductCode(s string) string {
	code := CleanString(s)
	if scientificPattern.MatchString(code) {
		if expanded, err := decimal.NewFromString(code); err == nil {
			return expanded.String()
		}
	}
	return code
}

var halfCent = decimal.New(5, -1)

// RoundCent rounds a money value to 2 decimal places using round half up
// at the cent boundary: floor(x*100 + 0.5) / 100. Note this differs from
// decimal.Round (half away from zero) for negative midpoints.
func RoundCent(d decimal.Decimal) decimal.Decimal {
	return d.Shift(2).Add(halfCent).Floor().Shift(-2)
}
