package ingest

import (
	"os"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"

	"github.com/xuri/excelize/v2"
)

// ExcelConfig holds configuration for xlsx ingestion
type ExcelConfig struct {
	// Sheet names the worksheet to read; empty selects the first sheet.
	Sheet         string `json:"sheet" mapstructure:"sheet"`
	SkipEmptyRows bool   `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
}

// DefaultExcelConfig returns a configuration with sensible defaults
func DefaultExcelConfig() *ExcelConfig {
	return &ExcelConfig{
		SkipEmptyRows: true,
	}
}

// ExcelParser reads an xlsx bill export into raw rows
type ExcelParser struct {
	config *ExcelConfig
	logger logger.Logger
}

// NewExcelParser creates an xlsx parser with the given configuration
func NewExcelParser(config *ExcelConfig) (*ExcelParser, error) {
	if config == nil {
		config = DefaultExcelConfig()
	}

	return &ExcelParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("excel_parser"),
	}, nil
}

// ParseFile reads one worksheet of an xlsx bill export. The first non-empty
// row is the header; every following row becomes one RawRow keyed by the
// cleaned header labels. Rows shorter than the header (xlsx readers trim
// trailing empty cells) are padded so the schema stays uniform.
func (p *ExcelParser) ParseFile(path string) ([]models.RawRow, *ParseStats, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer file.Close()

	sheet, err := p.selectSheet(file, path)
	if err != nil {
		return nil, nil, err
	}

	records, err := file.GetRows(sheet)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}

	stats := &ParseStats{}
	var headers []string
	var rows []models.RawRow

	for _, record := range records {
		stats.TotalLines++

		if p.config.SkipEmptyRows && isEmptyRecord(record) {
			stats.SkippedEmpty++
			continue
		}

		if headers == nil {
			headers = cleanHeader(record)
			continue
		}

		rows = append(rows, rowFromRecord(headers, record))
		stats.RowsParsed++
	}

	if len(rows) == 0 {
		return nil, stats, errors.EmptyDatasetError(path)
	}

	p.logger.WithFields(logger.Fields{
		"file_path": path,
		"sheet":     sheet,
		"columns":   len(headers),
		"rows":      stats.RowsParsed,
	}).Info("Parsed xlsx file")

	return rows, stats, nil
}

// selectSheet resolves the worksheet to read: the configured name when
// present, the workbook's first sheet otherwise.
func (p *ExcelParser) selectSheet(file *excelize.File, path string) (string, error) {
	if p.config.Sheet != "" {
		index, err := file.GetSheetIndex(p.config.Sheet)
		if err != nil || index < 0 {
			return "", errors.ParseError(errors.CodeMissingSheet, path, 0, p.config.Sheet, err)
		}
		return p.config.Sheet, nil
	}

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.EmptyDatasetError(path)
	}
	return sheets[0], nil
}
