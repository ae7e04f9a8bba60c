package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/pipeline"
	"settlement-reconciliation-service/internal/settlement"

	"github.com/shopspring/decimal"
)

func sampleBillResult() *pipeline.Result {
	price := decimal.RequireFromString("10.00")
	total := decimal.RequireFromString("30.00")

	return &pipeline.Result{
		Rows: []models.SimplifiedRow{
			{ProductName: "商品一", ProductCode: "SKU-1", UnitPrice: &price, Quantity: decimal.NewFromInt(3), Total: &total},
			{ProductName: "商品二", ProductCode: "SKU-2", Quantity: decimal.NewFromInt(4)},
		},
		Products: []models.ProductAggregate{
			{ProductCode: "SKU-1", ProductName: "商品一", UnitPrice: &price, Quantity: decimal.NewFromInt(3), Status: models.ProductStatusValid},
			{ProductCode: "SKU-2", ProductName: "商品二", Quantity: decimal.NewFromInt(4), Status: models.ProductStatusPending},
		},
		Stats:       pipeline.RuleStats{ProcessedGroups: 3, FilteredGroups: 1, FilteredRows: 2},
		ProcessedAt: time.Now(),
	}
}

func sampleSettlementResult() *settlement.Result {
	quantity := decimal.NewFromInt(2)

	return &settlement.Result{
		Aggregates: []models.SettlementAggregate{
			{
				ProductCode:      "SKU-1",
				SettlementAmount: decimal.RequireFromString("70.00"),
				Quantity:         &quantity,
				ServiceFee:       decimal.RequireFromString("-5.00"),
				Net:              decimal.RequireFromString("65.00"),
			},
		},
		CompensationTotal:    decimal.RequireFromString("-8.00"),
		CompensationDeducted: decimal.Zero,
		AmountColumn:         "结算金额",
		Stats:                settlement.Stats{RowsProcessed: 7, SettlementRows: 3},
		ProcessedAt:          time.Now(),
	}
}

func newGenerator(t *testing.T, format OutputFormat) *ReportGenerator {
	t.Helper()
	config := DefaultReportConfig()
	config.Format = format
	generator, err := NewReportGenerator(config)
	if err != nil {
		t.Fatalf("failed to create generator: %v", err)
	}
	return generator
}

func TestBillConsoleReport(t *testing.T) {
	generator := newGenerator(t, FormatConsole)

	var buf bytes.Buffer
	if err := generator.GenerateBillReport(sampleBillResult(), &buf); err != nil {
		t.Fatalf("GenerateBillReport failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"BILL RECONCILIATION REPORT", "SKU-1", "30.00", "PRODUCTS AWAITING A UNIT PRICE", "SKU-2", "Order groups processed: 3"} {
		if !strings.Contains(output, want) {
			t.Errorf("console report missing %q", want)
		}
	}
}

func TestBillJSONReport(t *testing.T) {
	generator := newGenerator(t, FormatJSON)

	var buf bytes.Buffer
	if err := generator.GenerateBillReport(sampleBillResult(), &buf); err != nil {
		t.Fatalf("GenerateBillReport failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON report does not decode: %v", err)
	}
	if _, ok := decoded["rows"]; !ok {
		t.Error("JSON report missing rows field")
	}
	if _, ok := decoded["pendingProducts"]; !ok {
		t.Error("JSON report missing pendingProducts field")
	}
}

func TestBillCSVReport(t *testing.T) {
	generator := newGenerator(t, FormatCSV)

	var buf bytes.Buffer
	if err := generator.GenerateBillReport(sampleBillResult(), &buf); err != nil {
		t.Fatalf("GenerateBillReport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("CSV report has %d lines, want header + 2 rows", len(lines))
	}
	if lines[0] != "product_name,product_code,unit_price,quantity,total" {
		t.Errorf("unexpected CSV header: %s", lines[0])
	}
	if !strings.Contains(lines[2], "SKU-2") {
		t.Errorf("CSV row missing SKU-2: %s", lines[2])
	}
}

func TestSettlementConsoleReport(t *testing.T) {
	generator := newGenerator(t, FormatConsole)

	var buf bytes.Buffer
	if err := generator.GenerateSettlementReport(sampleSettlementResult(), &buf); err != nil {
		t.Fatalf("GenerateSettlementReport failed: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"SETTLEMENT REPORT", "结算金额", "SKU-1", "65.00", "COMPENSATION (NOT DEDUCTED)", "-8.00"} {
		if !strings.Contains(output, want) {
			t.Errorf("console report missing %q", want)
		}
	}
}

func TestSettlementCSVReport(t *testing.T) {
	generator := newGenerator(t, FormatCSV)

	var buf bytes.Buffer
	if err := generator.GenerateSettlementReport(sampleSettlementResult(), &buf); err != nil {
		t.Fatalf("GenerateSettlementReport failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("CSV report has %d lines, want header + 1 row", len(lines))
	}
	if lines[1] != "SKU-1,70.00,2,-5.00,65.00" {
		t.Errorf("unexpected CSV row: %s", lines[1])
	}
}

func TestGenerateReportNilResult(t *testing.T) {
	generator := newGenerator(t, FormatConsole)

	var buf bytes.Buffer
	if err := generator.GenerateBillReport(nil, &buf); err == nil {
		t.Error("expected error for nil bill result")
	}
	if err := generator.GenerateSettlementReport(nil, &buf); err == nil {
		t.Error("expected error for nil settlement result")
	}
}

func TestInvalidFormatRejected(t *testing.T) {
	config := DefaultReportConfig()
	config.Format = "xml"
	if _, err := NewReportGenerator(config); err == nil {
		t.Error("expected error for unsupported format")
	}
}
