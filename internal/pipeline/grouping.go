package pipeline

import (
	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/logger"
)

// OrderGroups is an insertion-ordered mapping from order number to the rows
// sharing it. Go maps do not preserve insertion order, and the rule engine's
// output order must be reproducible, so the key sequence is tracked
// explicitly.
type OrderGroups struct {
	keys   []string
	groups map[string][]models.RawRow
}

// NewOrderGroups creates an empty group mapping
func NewOrderGroups() *OrderGroups {
	return &OrderGroups{
		groups: make(map[string][]models.RawRow),
	}
}

// append adds a row to its order group, registering the key on first sight
func (g *OrderGroups) append(key string, row models.RawRow) {
	if _, ok := g.groups[key]; !ok {
		g.keys = append(g.keys, key)
	}
	g.groups[key] = append(g.groups[key], row)
}

// Keys returns the order numbers in first-sighting order
func (g *OrderGroups) Keys() []string {
	return g.keys
}

// Get returns the ordered row sequence of one order group
func (g *OrderGroups) Get(key string) []models.RawRow {
	return g.groups[key]
}

// Len returns the number of groups
func (g *OrderGroups) Len() int {
	return len(g.keys)
}

// RowCount returns the total number of grouped rows
func (g *OrderGroups) RowCount() int {
	count := 0
	for _, rows := range g.groups {
		count += len(rows)
	}
	return count
}

// GroupByOrder partitions rows by order number. Grouping is stable: the
// relative order of rows within a group matches their order in the input,
// and group iteration order is first-sighting order. Rows with an empty
// order number never appear in any group; they are logged and skipped, not
// errors.
func (e *Engine) GroupByOrder(rows []models.RawRow) *OrderGroups {
	groups := NewOrderGroups()
	skipped := 0

	orderColumn := e.config.Columns.OrderNumber
	for i, row := range rows {
		orderNumber := row.Get(orderColumn)
		if orderNumber == "" {
			skipped++
			e.logger.WithField("row_index", i).Debug("Skipping row without order number")
			continue
		}
		groups.append(orderNumber, row)
	}

	if skipped > 0 {
		e.logger.WithFields(logger.Fields{
			"skipped_rows": skipped,
			"groups":       groups.Len(),
		}).Info("Grouped rows by order number")
	}

	return groups
}
