// Package ingest loads settlement bill exports from disk into the raw row
// maps the pipelines consume.
//
// CSV and xlsx exports are supported and produce the same output shape:
// one RawRow per data row, keyed by the cleaned header labels of the
// export. The header is the first non-empty row; rows shorter than the
// header are padded with empty cells so every row carries the full column
// set, and fully empty rows are skipped.
package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"settlement-reconciliation-service/internal/models"
)

// ParseStats holds statistics about one file ingestion
type ParseStats struct {
	TotalLines   int `json:"total_lines"`
	RowsParsed   int `json:"rows_parsed"`
	SkippedEmpty int `json:"skipped_empty"`
}

// String returns a human-readable summary of the ingestion
func (ps *ParseStats) String() string {
	return fmt.Sprintf("read %d lines, parsed %d rows (%d empty skipped)",
		ps.TotalLines, ps.RowsParsed, ps.SkippedEmpty)
}

// Options bundles the per-format parser configurations
type Options struct {
	CSV   *CSVConfig
	Excel *ExcelConfig
}

// ParseFile loads a bill export, selecting the parser by file extension.
// Spreadsheet extensions go through the xlsx parser; everything else is
// treated as CSV.
func ParseFile(path string, opts Options) ([]models.RawRow, *ParseStats, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		parser, err := NewExcelParser(opts.Excel)
		if err != nil {
			return nil, nil, err
		}
		return parser.ParseFile(path)
	default:
		parser, err := NewCSVParser(opts.CSV)
		if err != nil {
			return nil, nil, err
		}
		return parser.ParseFile(path)
	}
}

// cleanHeader normalizes every header cell
func cleanHeader(cells []string) []string {
	cleaned := make([]string, len(cells))
	for i, cell := range cells {
		cleaned[i] = models.CleanString(cell)
	}
	return cleaned
}

// isEmptyRecord reports whether every cell is empty or whitespace
func isEmptyRecord(cells []string) bool {
	for _, cell := range cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// rowFromRecord builds a RawRow from one data record. Cells beyond the
// header width are dropped; missing trailing cells become empty strings so
// schema probes see the full column set on every row.
func rowFromRecord(headers, record []string) models.RawRow {
	row := make(models.RawRow, len(headers))
	for i, header := range headers {
		if header == "" {
			continue
		}
		if i < len(record) {
			row[header] = record[i]
		} else {
			row[header] = ""
		}
	}
	return row
}
