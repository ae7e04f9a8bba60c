package pipeline

import (
	"sort"
	"strings"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"
)

// ValidateSchema confirms a parsed dataset carries every required column
// before any rule runs. The check is made against the first row's key set,
// since all rows of one export share a schema.
//
// An empty dataset fails with an empty-dataset error; a missing column fails
// with a missing-column error naming the first absent required column, in
// the order of requiredColumns. Near-miss column names are logged as
// warnings to help the user fix a malformed upload, but validation still
// fails hard. The input is never mutated.
func ValidateSchema(rows []models.RawRow, requiredColumns []string) error {
	if len(rows) == 0 {
		return errors.EmptyDatasetError("schema validation")
	}

	available := columnSet(rows[0])

	for _, column := range requiredColumns {
		if _, ok := rows[0][column]; ok {
			continue
		}

		if candidates := nearMissCandidates(column, available); len(candidates) > 0 {
			logger.WithComponent("validator").WithFields(logger.Fields{
				"missing_column": column,
				"candidates":     candidates,
			}).Warn("Required column not found; similar column names are present")
		}

		return errors.MissingColumnError(column, available)
	}

	return nil
}

// columnSet returns the sorted key set of a row
func columnSet(row models.RawRow) []string {
	columns := make([]string, 0, len(row))
	for column := range row {
		columns = append(columns, column)
	}
	sort.Strings(columns)
	return columns
}

// nearMissCandidates returns available columns that look like the missing
// one: one contains the other, or they differ only by surrounding
// whitespace. Diagnostics only, never a match.
func nearMissCandidates(missing string, available []string) []string {
	var candidates []string
	target := strings.ToLower(strings.TrimSpace(missing))

	for _, column := range available {
		cleaned := strings.ToLower(strings.TrimSpace(column))
		if cleaned == "" {
			continue
		}
		if strings.Contains(cleaned, target) || strings.Contains(target, cleaned) {
			candidates = append(candidates, column)
		}
	}

	return candidates
}
