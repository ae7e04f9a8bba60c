// Package reporter renders reconciliation and settlement results for the
// CLI.
//
// Supported output formats:
//   - Console: human-readable tabular output for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: comma-separated output for spreadsheet applications
//
// Two report kinds exist, one per pipeline: the bill report (simplified
// priced rows plus products still pending a unit price) and the settlement
// report (per-product-code settlement aggregates plus the compensation
// total carried for review).
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/pipeline"
	"settlement-reconciliation-service/internal/settlement"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludePendingProducts bool `json:"include_pending_products"`
	IncludeStats           bool `json:"include_stats"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludePendingProducts: true,
		IncludeStats:           true,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	return nil
}

// ReportGenerator renders pipeline results in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateBillReport writes a bill reconciliation report to the writer
func (rg *ReportGenerator) GenerateBillReport(result *pipeline.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.billConsole(result, writer)
	case FormatJSON:
		return rg.billJSON(result, writer)
	case FormatCSV:
		return rg.billCSV(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateSettlementReport writes a settlement aggregation report to the writer
func (rg *ReportGenerator) GenerateSettlementReport(result *settlement.Result, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("settlement result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.settlementConsole(result, writer)
	case FormatJSON:
		return rg.settlementJSON(result, writer)
	case FormatCSV:
		return rg.settlementCSV(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// Bill report rendering

func (rg *ReportGenerator) billConsole(result *pipeline.Result, writer io.Writer) error {
	fmt.Fprintf(writer, "BILL RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n\n", result.ProcessedAt.Format(time.RFC3339))

	fmt.Fprintf(writer, "=== RECONCILED ROWS ===\n")
	fmt.Fprintf(writer, "%-40s %-20s %12s %12s %14s\n",
		"Product Name", "Product Code", "Unit Price", "Quantity", "Total")
	for _, row := range result.Rows {
		fmt.Fprintf(writer, "%-40s %-20s %12s %12s %14s\n",
			truncate(row.ProductName, 40), row.ProductCode,
			formatOptional(row.UnitPrice), row.Quantity.String(),
			formatOptional(row.Total))
	}
	fmt.Fprintf(writer, "\n")

	if rg.config.IncludePendingProducts {
		pending := result.PendingProducts()
		if len(pending) > 0 {
			fmt.Fprintf(writer, "=== PRODUCTS AWAITING A UNIT PRICE ===\n")
			for _, product := range pending {
				fmt.Fprintf(writer, "%-20s %-40s qty %s\n",
					product.ProductCode, truncate(product.ProductName, 40),
					product.Quantity.String())
			}
			fmt.Fprintf(writer, "\n")
		}
	}

	if rg.config.IncludeStats {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		fmt.Fprintf(writer, "Order groups processed: %d\n", result.Stats.ProcessedGroups)
		fmt.Fprintf(writer, "Order groups filtered:  %d\n", result.Stats.FilteredGroups)
		fmt.Fprintf(writer, "Rows filtered:          %d\n", result.Stats.FilteredRows)
		fmt.Fprintf(writer, "Output rows:            %d\n", len(result.Rows))
	}

	return nil
}

func (rg *ReportGenerator) billJSON(result *pipeline.Result, writer io.Writer) error {
	payload := struct {
		*pipeline.Result
		Pending []models.ProductAggregate `json:"pendingProducts,omitempty"`
	}{Result: result}

	if rg.config.IncludePendingProducts {
		payload.Pending = result.PendingProducts()
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func (rg *ReportGenerator) billCSV(result *pipeline.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{"product_name", "product_code", "unit_price", "quantity", "total"}); err != nil {
			return err
		}
	}

	for _, row := range result.Rows {
		record := []string{
			row.ProductName,
			row.ProductCode,
			optionalString(row.UnitPrice),
			row.Quantity.String(),
			optionalString(row.Total),
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Settlement report rendering

func (rg *ReportGenerator) settlementConsole(result *settlement.Result, writer io.Writer) error {
	fmt.Fprintf(writer, "SETTLEMENT REPORT\n")
	fmt.Fprintf(writer, "Generated: %s\n", result.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Amount column: %s\n\n", result.AmountColumn)

	fmt.Fprintf(writer, "=== SETTLEMENT BY PRODUCT CODE ===\n")
	fmt.Fprintf(writer, "%-20s %14s %10s %14s %14s\n",
		"Product Code", "Settlement", "Quantity", "Service Fee", "Net")

	total := decimal.Zero
	for _, aggregate := range result.Aggregates {
		quantity := "-"
		if aggregate.Quantity != nil {
			quantity = aggregate.Quantity.String()
		}
		fmt.Fprintf(writer, "%-20s %14s %10s %14s %14s\n",
			aggregate.ProductCode, aggregate.SettlementAmount.StringFixed(2),
			quantity, aggregate.ServiceFee.StringFixed(2), aggregate.Net.StringFixed(2))
		total = total.Add(aggregate.Net)
	}
	fmt.Fprintf(writer, "%-20s %14s\n\n", "TOTAL NET", total.StringFixed(2))

	if !result.CompensationTotal.IsZero() {
		fmt.Fprintf(writer, "=== COMPENSATION (NOT DEDUCTED) ===\n")
		fmt.Fprintf(writer, "After-sales compensation total: %s\n", result.CompensationTotal.StringFixed(2))
		fmt.Fprintf(writer, "Deducted from settlement:       %s\n\n", result.CompensationDeducted.StringFixed(2))
	}

	if rg.config.IncludeStats {
		fmt.Fprintf(writer, "=== PROCESSING STATISTICS ===\n")
		fmt.Fprintf(writer, "%s\n", result.Stats.String())
	}

	return nil
}

func (rg *ReportGenerator) settlementJSON(result *settlement.Result, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func (rg *ReportGenerator) settlementCSV(result *settlement.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	defer csvWriter.Flush()

	if rg.config.CSVHeaders {
		if err := csvWriter.Write([]string{"product_code", "settlement_amount", "quantity", "service_fee", "net"}); err != nil {
			return err
		}
	}

	for _, aggregate := range result.Aggregates {
		quantity := ""
		if aggregate.Quantity != nil {
			quantity = aggregate.Quantity.String()
		}
		record := []string{
			aggregate.ProductCode,
			aggregate.SettlementAmount.StringFixed(2),
			quantity,
			aggregate.ServiceFee.StringFixed(2),
			aggregate.Net.StringFixed(2),
		}
		if err := csvWriter.Write(record); err != nil {
			return err
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Formatting helpers

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func formatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}

func optionalString(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.StringFixed(2)
}
