package settlement

import (
	"testing"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(nil)
	if err != nil {
		t.Fatalf("failed to create aggregator: %v", err)
	}
	return aggregator
}

// settleRow builds one settlement bill row with the default column labels
func settleRow(fee, code, amount, qty string) models.RawRow {
	return models.RawRow{
		"费用项目": fee,
		"商品编码": code,
		"结算金额": amount,
		"数量":   qty,
	}
}

func findAggregate(t *testing.T, result *Result, code string) models.SettlementAggregate {
	t.Helper()
	for _, aggregate := range result.Aggregates {
		if aggregate.ProductCode == code {
			return aggregate
		}
	}
	t.Fatalf("no aggregate for product code %s", code)
	return models.SettlementAggregate{}
}

func TestAggregateClassification(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "SKU-1", "100.00", "2"),
		settleRow("货款", "SKU-1", "-30.00", "1"),
		settleRow("货款", "SKU-2", "50.00", "1"),
		settleRow("代运营服务费", "SKU-1", "-5.00", ""),
		settleRow("售后卖家赔付费", "", "-8.00", ""),
		settleRow("运费", "SKU-1", "12.00", ""),
		settleRow("货款", "", "99.00", "1"),
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if result.AmountColumn != "结算金额" {
		t.Errorf("amount column = %s, want 结算金额", result.AmountColumn)
	}

	sku1 := findAggregate(t, result, "SKU-1")
	if !sku1.SettlementAmount.Equal(decimal.RequireFromString("70")) {
		t.Errorf("SKU-1 settlement = %s, want 70", sku1.SettlementAmount)
	}
	if !sku1.ServiceFee.Equal(decimal.RequireFromString("-5")) {
		t.Errorf("SKU-1 service fee = %s, want -5", sku1.ServiceFee)
	}
	if !sku1.Net.Equal(decimal.RequireFromString("65")) {
		t.Errorf("SKU-1 net = %s, want 65", sku1.Net)
	}
	if sku1.Quantity == nil || !sku1.Quantity.Equal(decimal.NewFromInt(1)) {
		// 2 from the positive row, -1 from the negative one
		t.Errorf("SKU-1 quantity = %v, want 1", sku1.Quantity)
	}

	sku2 := findAggregate(t, result, "SKU-2")
	if !sku2.SettlementAmount.Equal(decimal.RequireFromString("50")) {
		t.Errorf("SKU-2 settlement = %s, want 50", sku2.SettlementAmount)
	}
	if !sku2.ServiceFee.IsZero() {
		t.Errorf("SKU-2 service fee = %s, want 0", sku2.ServiceFee)
	}

	if !result.CompensationTotal.Equal(decimal.RequireFromString("-8")) {
		t.Errorf("compensation total = %s, want -8", result.CompensationTotal)
	}
	if !result.CompensationDeducted.IsZero() {
		t.Errorf("compensation must never be deducted, got %s", result.CompensationDeducted)
	}

	stats := result.Stats
	if stats.SettlementRows != 3 || stats.ServiceFeeRows != 1 || stats.CompensationRows != 1 {
		t.Errorf("stats = %+v, want 3 settlement / 1 service fee / 1 compensation", stats)
	}
	if stats.SkippedRows != 2 {
		t.Errorf("skipped %d rows, want 2 (unknown fee, payment without code)", stats.SkippedRows)
	}
}

func TestAggregateWithoutFeeColumn(t *testing.T) {
	aggregator := newTestAggregator(t)

	// No fee item column at all: every row counts toward settlement.
	rows := []models.RawRow{
		{"商品编码": "SKU-1", "结算金额": "10.00"},
		{"商品编码": "SKU-1", "结算金额": "5.50"},
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	sku1 := findAggregate(t, result, "SKU-1")
	if !sku1.SettlementAmount.Equal(decimal.RequireFromString("15.5")) {
		t.Errorf("settlement = %s, want 15.5", sku1.SettlementAmount)
	}
	if sku1.Quantity != nil {
		t.Errorf("quantity must be nil without a quantity column, got %s", sku1.Quantity)
	}
}

func TestAggregateAmountColumnFallback(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		{"费用项目": "货款", "商品编码": "SKU-1", "金额": "42.00"},
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if result.AmountColumn != "金额" {
		t.Errorf("amount column = %s, want fallback 金额", result.AmountColumn)
	}
}

func TestAggregateMissingAmountColumn(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		{"费用项目": "货款", "商品编码": "SKU-1"},
	}

	_, err := aggregator.Aggregate(rows)
	if err == nil {
		t.Fatal("expected missing amount column error")
	}
	if !errors.IsMissingAmountColumn(err) {
		t.Errorf("expected missing-amount-column error, got %v", err)
	}
}

func TestAggregateEmptyDataset(t *testing.T) {
	aggregator := newTestAggregator(t)

	_, err := aggregator.Aggregate(nil)
	if err == nil {
		t.Fatal("expected empty dataset error")
	}
	if !errors.IsEmptyDataset(err) {
		t.Errorf("expected empty-dataset error, got %v", err)
	}
}

func TestAggregateExcludesZeroTotals(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "SKU-1", "25.00", "1"),
		settleRow("货款", "SKU-1", "-25.00", "1"),
		settleRow("货款", "SKU-2", "10.00", "1"),
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(result.Aggregates) != 1 {
		t.Fatalf("got %d aggregates, want 1 (zero totals excluded)", len(result.Aggregates))
	}
	if result.Aggregates[0].ProductCode != "SKU-2" {
		t.Errorf("surviving code = %s, want SKU-2", result.Aggregates[0].ProductCode)
	}
}

func TestAggregatePermutationIndependence(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "SKU-1", "10.00", "1"),
		settleRow("代运营服务费", "SKU-1", "-1.00", ""),
		settleRow("货款", "SKU-2", "20.00", "2"),
		settleRow("货款", "SKU-1", "5.00", "1"),
		settleRow("售后卖家赔付费", "", "-3.00", ""),
	}

	reversed := make([]models.RawRow, len(rows))
	for i, row := range rows {
		reversed[len(rows)-1-i] = row
	}

	forward, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}
	backward, err := aggregator.Aggregate(reversed)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(forward.Aggregates) != len(backward.Aggregates) {
		t.Fatalf("aggregate counts differ: %d vs %d", len(forward.Aggregates), len(backward.Aggregates))
	}

	for _, aggregate := range forward.Aggregates {
		other := findAggregate(t, backward, aggregate.ProductCode)
		if !aggregate.SettlementAmount.Equal(other.SettlementAmount) ||
			!aggregate.ServiceFee.Equal(other.ServiceFee) ||
			!aggregate.Net.Equal(other.Net) {
			t.Errorf("totals for %s differ across input orderings", aggregate.ProductCode)
		}
	}

	if !forward.CompensationTotal.Equal(backward.CompensationTotal) {
		t.Error("compensation totals differ across input orderings")
	}
}

func TestAggregateRounding(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "SKU-1", "1.005", "1"),
		settleRow("货款", "SKU-1", "1.000", "1"),
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	sku1 := findAggregate(t, result, "SKU-1")
	// 2.005 rounds half up at the cent
	if !sku1.SettlementAmount.Equal(decimal.RequireFromString("2.01")) {
		t.Errorf("settlement = %s, want 2.01", sku1.SettlementAmount)
	}
}

func TestAggregateNormalizesProductCodes(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "6923345670123", "10.00", "1"),
		settleRow("货款", "6.923345670123e+12", "5.00", "1"),
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	if len(result.Aggregates) != 1 {
		t.Fatalf("got %d aggregates, want 1 (codes must merge after normalization)", len(result.Aggregates))
	}
	if !result.Aggregates[0].SettlementAmount.Equal(decimal.RequireFromString("15")) {
		t.Errorf("settlement = %s, want 15", result.Aggregates[0].SettlementAmount)
	}
}

func TestAggregateInsertionOrder(t *testing.T) {
	aggregator := newTestAggregator(t)

	rows := []models.RawRow{
		settleRow("货款", "SKU-3", "1.00", "1"),
		settleRow("货款", "SKU-1", "1.00", "1"),
		settleRow("货款", "SKU-2", "1.00", "1"),
		settleRow("货款", "SKU-1", "1.00", "1"),
	}

	result, err := aggregator.Aggregate(rows)
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	want := []string{"SKU-3", "SKU-1", "SKU-2"}
	for i, code := range want {
		if result.Aggregates[i].ProductCode != code {
			t.Errorf("aggregates[%d] = %s, want %s", i, result.Aggregates[i].ProductCode, code)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"no amount candidates", func(c *Config) { c.AmountColumnCandidates = nil }, true},
		{"empty fee item column", func(c *Config) { c.FeeItemColumn = "" }, true},
		{"empty product code column", func(c *Config) { c.ProductCodeColumn = "" }, true},
		{"zero progress interval", func(c *Config) { c.ProgressInterval = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
