// Package settlement implements the settlement aggregation pipeline: a
// single-pass, per-product-code aggregation of settlement amounts, service
// fees and compensation payouts, plus the cancellable task harness that
// runs it off the caller's goroutine for large bills.
package settlement

import (
	"fmt"
	"time"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Config holds the column labels, fee vocabulary and batching behavior of
// the settlement aggregator.
type Config struct {
	// Candidate amount column names, probed in order against the first
	// row; the first present one becomes the active amount column.
	AmountColumnCandidates []string `json:"amount_column_candidates" mapstructure:"amount_column_candidates"`

	FeeItemColumn     string `json:"fee_item_column" mapstructure:"fee_item_column"`
	ProductCodeColumn string `json:"product_code_column" mapstructure:"product_code_column"`
	QuantityColumn    string `json:"quantity_column" mapstructure:"quantity_column"`

	// Fee item values
	FeePayment      string `json:"fee_payment" mapstructure:"fee_payment"`
	FeeService      string `json:"fee_service" mapstructure:"fee_service"`
	FeeCompensation string `json:"fee_compensation" mapstructure:"fee_compensation"`

	// ProgressInterval is the row-count interval between progress
	// checkpoints, bounding message volume on large inputs.
	ProgressInterval int `json:"progress_interval" mapstructure:"progress_interval"`
}

// DefaultConfig returns the configuration for the standard settlement bill
// export.
func DefaultConfig() *Config {
	return &Config{
		AmountColumnCandidates: []string{"结算金额", "应结金额", "金额"},
		FeeItemColumn:          "费用项目",
		ProductCodeColumn:      "商品编码",
		QuantityColumn:         "数量",
		FeePayment:             "货款",
		FeeService:             "代运营服务费",
		FeeCompensation:        "售后卖家赔付费",
		ProgressInterval:       1000,
	}
}

// Validate validates the aggregator configuration
func (c *Config) Validate() error {
	if len(c.AmountColumnCandidates) == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "amount_column_candidates", nil, nil)
	}
	if c.FeeItemColumn == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "fee_item_column", "", nil)
	}
	if c.ProductCodeColumn == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "product_code_column", "", nil)
	}
	if c.ProgressInterval <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "progress_interval", c.ProgressInterval, nil)
	}
	return nil
}

// rowSchema is the column layout of one dataset, resolved once from the
// first row so the per-row classification below is exhaustive rather than
// scattered key-presence checks.
type rowSchema struct {
	amountColumn string
	hasFeeItem   bool
	hasQuantity  bool
}

// resolveSchema probes the first row for the active amount column and the
// optional fee-item and quantity columns.
func (a *Aggregator) resolveSchema(first models.RawRow) (rowSchema, error) {
	schema := rowSchema{
		hasFeeItem:  first.Has(a.config.FeeItemColumn),
		hasQuantity: first.Has(a.config.QuantityColumn),
	}

	for _, candidate := range a.config.AmountColumnCandidates {
		if first.Has(candidate) {
			schema.amountColumn = candidate
			return schema, nil
		}
	}

	return schema, errors.MissingAmountColumnError(a.config.AmountColumnCandidates)
}

// Stats counts the work of one aggregation run
type Stats struct {
	RowsProcessed    int `json:"rows_processed"`
	SettlementRows   int `json:"settlement_rows"`
	ServiceFeeRows   int `json:"service_fee_rows"`
	CompensationRows int `json:"compensation_rows"`
	SkippedRows      int `json:"skipped_rows"`
}

// Result is the output of one aggregation run
type Result struct {
	Aggregates []models.SettlementAggregate `json:"aggregates"`

	// CompensationTotal is the run-wide sum of after-sales seller
	// compensation rows. CompensationDeducted is always zero: the
	// deduction rule was never defined upstream, so the total is
	// reported for review instead of being silently applied per code.
	CompensationTotal    decimal.Decimal `json:"compensation_total"`
	CompensationDeducted decimal.Decimal `json:"compensation_deducted"`

	AmountColumn string    `json:"amount_column"`
	Stats        Stats     `json:"stats"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// Aggregator aggregates settlement amounts per product code
type Aggregator struct {
	config *Config
	logger logger.Logger
}

// NewAggregator creates a settlement aggregator with the given configuration
func NewAggregator(config *Config) (*Aggregator, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Aggregator{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("settlement_aggregator"),
	}, nil
}

// Config returns the aggregator's configuration
func (a *Aggregator) Config() *Config {
	return a.config
}

// accumulator collects per-code running totals for one run. Each run owns
// its own accumulator instance; there is no package-level state.
type accumulator struct {
	codes      []string
	settlement map[string]decimal.Decimal
	quantity   map[string]decimal.Decimal
	serviceFee map[string]decimal.Decimal
}

func newAccumulator() *accumulator {
	return &accumulator{
		settlement: make(map[string]decimal.Decimal),
		quantity:   make(map[string]decimal.Decimal),
		serviceFee: make(map[string]decimal.Decimal),
	}
}

func (acc *accumulator) touch(code string) {
	if _, ok := acc.settlement[code]; !ok {
		if _, feeOnly := acc.serviceFee[code]; !feeOnly {
			acc.codes = append(acc.codes, code)
		}
		acc.settlement[code] = decimal.Zero
	}
}

func (acc *accumulator) addSettlement(code string, amount decimal.Decimal) {
	acc.touch(code)
	acc.settlement[code] = acc.settlement[code].Add(amount)
}

func (acc *accumulator) addQuantity(code string, quantity decimal.Decimal) {
	acc.quantity[code] = acc.quantity[code].Add(quantity)
}

func (acc *accumulator) addServiceFee(code string, amount decimal.Decimal) {
	if _, settled := acc.settlement[code]; !settled {
		if _, ok := acc.serviceFee[code]; !ok {
			acc.codes = append(acc.codes, code)
		}
	}
	acc.serviceFee[code] = acc.serviceFee[code].Add(amount)
}

// Aggregate runs the settlement aggregation over a parsed dataset. The
// first candidate amount column present in the first row becomes the
// active amount column; the run fails when none is present or the dataset
// is empty.
func (a *Aggregator) Aggregate(rows []models.RawRow) (*Result, error) {
	return a.aggregate(rows, nil)
}

// aggregate is the single-pass core. checkpoint, when non-nil, is invoked
// every ProgressInterval rows and once after the final row; returning an
// error from it aborts the run (this is how the task harness implements
// cooperative cancellation at the batch boundary).
func (a *Aggregator) aggregate(rows []models.RawRow, checkpoint func(processed, total int) error) (*Result, error) {
	if len(rows) == 0 {
		return nil, errors.EmptyDatasetError("settlement aggregation")
	}

	schema, err := a.resolveSchema(rows[0])
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logger.Fields{
		"rows":          len(rows),
		"amount_column": schema.amountColumn,
		"has_fee_item":  schema.hasFeeItem,
		"has_quantity":  schema.hasQuantity,
	}).Info("Starting settlement aggregation")

	acc := newAccumulator()
	compensation := decimal.Zero
	var stats Stats

	for i, row := range rows {
		if checkpoint != nil && i > 0 && i%a.config.ProgressInterval == 0 {
			if err := checkpoint(i, len(rows)); err != nil {
				return nil, err
			}
		}

		stats.RowsProcessed++
		amount := row.Amount(schema.amountColumn)
		code := models.NormalizeProductCode(row.Get(a.config.ProductCodeColumn))

		var feeItem string
		if schema.hasFeeItem {
			feeItem = row.Get(a.config.FeeItemColumn)
		}

		switch {
		case schema.hasFeeItem && feeItem == a.config.FeeCompensation:
			compensation = compensation.Add(amount)
			stats.CompensationRows++

		case schema.hasFeeItem && feeItem == a.config.FeeService && code != "":
			acc.addServiceFee(code, amount)
			stats.ServiceFeeRows++

		case !schema.hasFeeItem || feeItem == a.config.FeePayment:
			if code == "" {
				stats.SkippedRows++
				continue
			}
			acc.addSettlement(code, amount)
			if schema.hasQuantity {
				quantity := row.Amount(a.config.QuantityColumn).Abs()
				if amount.Sign() < 0 {
					quantity = quantity.Neg()
				} else if amount.Sign() == 0 {
					quantity = decimal.Zero
				}
				acc.addQuantity(code, quantity)
			}
			stats.SettlementRows++

		default:
			stats.SkippedRows++
		}
	}

	if checkpoint != nil {
		if err := checkpoint(len(rows), len(rows)); err != nil {
			return nil, err
		}
	}

	result := &Result{
		CompensationTotal:    models.RoundCent(compensation),
		CompensationDeducted: decimal.Zero,
		AmountColumn:         schema.amountColumn,
		Stats:                stats,
		ProcessedAt:          time.Now(),
	}

	for _, code := range acc.codes {
		settled := acc.settlement[code]
		if settled.IsZero() {
			continue
		}

		aggregate := models.SettlementAggregate{
			ProductCode:      code,
			SettlementAmount: models.RoundCent(settled),
			ServiceFee:       models.RoundCent(acc.serviceFee[code]),
			Net:              models.RoundCent(settled.Add(acc.serviceFee[code])),
		}

		if schema.hasQuantity {
			quantity := acc.quantity[code]
			aggregate.Quantity = &quantity
		}

		result.Aggregates = append(result.Aggregates, aggregate)
	}

	a.logger.WithFields(logger.Fields{
		"aggregates":         len(result.Aggregates),
		"rows_processed":     stats.RowsProcessed,
		"rows_skipped":       stats.SkippedRows,
		"compensation_total": result.CompensationTotal,
	}).Info("Settlement aggregation completed")

	return result, nil
}

// String returns a one-line summary of the run statistics
func (s Stats) String() string {
	return fmt.Sprintf("processed %d rows (%d settlement, %d service fee, %d compensation, %d skipped)",
		s.RowsProcessed, s.SettlementRows, s.ServiceFeeRows, s.CompensationRows, s.SkippedRows)
}
