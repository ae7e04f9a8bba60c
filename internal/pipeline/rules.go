// Package pipeline implements the bill reconciliation data pipeline:
// schema validation, order grouping, and the order-group-level business
// rules that turn a raw settlement export into a priced, deduplicated bill.
//
// The pipeline is pure over its inputs. Every operation returns fresh
// values, owns its own accumulators, and touches neither network nor
// storage; the only side effect is structured logging.
//
// Processing order:
//
//	rows -> ValidateSchema -> GroupByOrder -> ApplyBusinessRules
//	     -> ExtractUniqueProducts / ApplyUnitPrices -> MergeSameSKU
package pipeline

import (
	"time"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// Engine applies the order-group-level business rules of the bill
// reconciliation pipeline.
type Engine struct {
	config *RuleConfig
	logger logger.Logger
}

// NewEngine creates a rule engine with the given configuration
func NewEngine(config *RuleConfig) (*Engine, error) {
	if config == nil {
		config = DefaultRuleConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Engine{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("rule_engine"),
	}, nil
}

// Config returns the engine's rule configuration
func (e *Engine) Config() *RuleConfig {
	return e.config
}

// ValidateSchema validates the dataset against the pipeline's required
// column set.
func (e *Engine) ValidateSchema(rows []models.RawRow) error {
	return ValidateSchema(rows, e.config.RequiredColumns())
}

// RuleStats counts the work of one ApplyBusinessRules run
type RuleStats struct {
	ProcessedGroups int `json:"processed_groups"`
	FilteredGroups  int `json:"filtered_groups"`
	FilteredRows    int `json:"filtered_rows"`
}

// ApplyBusinessRules flattens the order groups into the surviving row
// sequence. Per group, in order:
//
//  1. Compute the distinct document types present in the group.
//  2. A group containing a cancel-refund document is dropped entirely;
//     no further rule runs for it.
//  3. A group whose every row is a plain order document keeps all rows
//     except those whose fee item is the direct-operation service fee.
//  4. Any other mix passes through unchanged.
//
// Output order is group first-sighting order, then original row order
// within each surviving group.
func (e *Engine) ApplyBusinessRules(groups *OrderGroups) ([]models.RawRow, RuleStats) {
	var output []models.RawRow
	var stats RuleStats

	for _, orderNumber := range groups.Keys() {
		rows := groups.Get(orderNumber)
		stats.ProcessedGroups++

		docTypes := e.distinctDocumentTypes(rows)

		if docTypes[e.config.DocumentTypeCancelRefund] {
			stats.FilteredGroups++
			stats.FilteredRows += len(rows)
			e.logger.WithFields(logger.Fields{
				"order_number": orderNumber,
				"rows":         len(rows),
			}).Debug("Dropping order group containing cancel-refund document")
			continue
		}

		if len(docTypes) == 1 && docTypes[e.config.DocumentTypeOrder] {
			kept := 0
			for _, row := range rows {
				if row.Get(e.config.Columns.FeeItem) == e.config.FeeDirectOperation {
					stats.FilteredRows++
					continue
				}
				output = append(output, row)
				kept++
			}
			if kept < len(rows) {
				e.logger.WithFields(logger.Fields{
					"order_number":  orderNumber,
					"stripped_rows": len(rows) - kept,
				}).Debug("Stripped direct-operation service fee rows from pure order group")
			}
			continue
		}

		output = append(output, rows...)
	}

	e.logger.WithFields(logger.Fields{
		"processed_groups": stats.ProcessedGroups,
		"filtered_groups":  stats.FilteredGroups,
		"filtered_rows":    stats.FilteredRows,
		"output_rows":      len(output),
	}).Info("Applied business rules")

	return output, stats
}

// distinctDocumentTypes returns the set of document type values in a group
func (e *Engine) distinctDocumentTypes(rows []models.RawRow) map[string]bool {
	types := make(map[string]bool)
	for _, row := range rows {
		types[row.Get(e.config.Columns.DocumentType)] = true
	}
	return types
}

// ExtractUniqueProducts builds one aggregate per distinct product code,
// first sighting wins for name. A default price is attached when the price
// table carries an enabled entry for the code; the aggregate stays pending
// otherwise. Quantities are summed across sightings. Rows without a product
// code are skipped.
func (e *Engine) ExtractUniqueProducts(rows []models.RawRow, prices models.PriceTable) []models.ProductAggregate {
	index := make(map[string]int)
	var products []models.ProductAggregate

	for _, row := range rows {
		code := models.NormalizeProductCode(row.Get(e.config.Columns.ProductCode))
		if code == "" {
			continue
		}

		quantity := row.Amount(e.config.Columns.Quantity)

		if i, ok := index[code]; ok {
			products[i].Quantity = products[i].Quantity.Add(quantity)
			products[i].RecomputeTotal()
			continue
		}

		aggregate := models.ProductAggregate{
			ProductCode: code,
			ProductName: row.Get(e.config.Columns.ProductName),
			Quantity:    quantity,
			Status:      models.ProductStatusPending,
		}

		if price, ok := prices.Lookup(code); ok {
			aggregate.UnitPrice = &price
			aggregate.Status = models.ProductStatusValid
		}
		aggregate.RecomputeTotal()

		index[code] = len(products)
		products = append(products, aggregate)
	}

	return products
}

// ApplyUnitPrices maps each row to a simplified row using the supplied
// product-code to price mapping. The product code is forced to plain string
// form so codes a spreadsheet mangled into scientific notation keep their
// identity. Quantity parses with a 0 default; total stays nil until a unit
// price is known.
func (e *Engine) ApplyUnitPrices(rows []models.RawRow, priceMap map[string]decimal.Decimal) []models.SimplifiedRow {
	simplified := make([]models.SimplifiedRow, 0, len(rows))

	for _, row := range rows {
		code := models.NormalizeProductCode(row.Get(e.config.Columns.ProductCode))
		quantity := row.Amount(e.config.Columns.Quantity)

		out := models.SimplifiedRow{
			ProductName: row.Get(e.config.Columns.ProductName),
			ProductCode: code,
			Quantity:    quantity,
		}

		if price, ok := priceMap[code]; ok {
			out.UnitPrice = &price
			total := price.Mul(quantity)
			out.Total = &total
		}

		simplified = append(simplified, out)
	}

	return simplified
}

// MergeSameSKU merges simplified rows sharing a product code by summing
// quantities and recomputing total = unit price * summed quantity. Row
// order follows first sighting of each code.
//
// The merge assumes a single unit price per code. When merged rows disagree
// on unit price the last writer wins; totals are recomputed from that
// price, not summed.
func MergeSameSKU(rows []models.SimplifiedRow) []models.SimplifiedRow {
	index := make(map[string]int)
	var merged []models.SimplifiedRow

	for _, row := range rows {
		i, ok := index[row.ProductCode]
		if !ok {
			index[row.ProductCode] = len(merged)
			merged = append(merged, row)
			continue
		}

		merged[i].Quantity = merged[i].Quantity.Add(row.Quantity)
		if row.UnitPrice != nil {
			merged[i].UnitPrice = row.UnitPrice
		}
		if merged[i].UnitPrice != nil {
			total := merged[i].UnitPrice.Mul(merged[i].Quantity)
			merged[i].Total = &total
		} else {
			merged[i].Total = nil
		}
	}

	return merged
}

// Result is the output of one full reconciliation run
type Result struct {
	Rows        []models.SimplifiedRow    `json:"rows"`
	Products    []models.ProductAggregate `json:"products"`
	Stats       RuleStats                 `json:"stats"`
	ProcessedAt time.Time                 `json:"processed_at"`
}

// PendingProducts returns the products still waiting for a unit price
func (r *Result) PendingProducts() []models.ProductAggregate {
	var pending []models.ProductAggregate
	for _, product := range r.Products {
		if product.Status == models.ProductStatusPending {
			pending = append(pending, product)
		}
	}
	return pending
}

// Reconcile runs the complete bill reconciliation pipeline over a parsed
// dataset: validation, order grouping, business rules, default price
// application, and same-SKU merging.
func (e *Engine) Reconcile(rows []models.RawRow, prices models.PriceTable) (*Result, error) {
	if err := e.ValidateSchema(rows); err != nil {
		return nil, err
	}

	groups := e.GroupByOrder(rows)
	surviving, stats := e.ApplyBusinessRules(groups)

	products := e.ExtractUniqueProducts(surviving, prices)

	priceMap := make(map[string]decimal.Decimal)
	for _, product := range products {
		if product.UnitPrice != nil {
			priceMap[product.ProductCode] = *product.UnitPrice
		}
	}

	simplified := e.ApplyUnitPrices(surviving, priceMap)
	merged := MergeSameSKU(simplified)

	// Every reconciled row must carry a product code; rows without one
	// cannot be billed and are surfaced rather than silently dropped.
	kept := merged[:0]
	for _, row := range merged {
		if row.ProductCode == "" {
			e.logger.WithFields(logger.Fields{
				"product_name": row.ProductName,
				"quantity":     row.Quantity,
			}).Warn("Dropping reconciled row without product code")
			continue
		}
		kept = append(kept, row)
	}
	merged = kept

	return &Result{
		Rows:        merged,
		Products:    products,
		Stats:       stats,
		ProcessedAt: time.Now(),
	}, nil
}
