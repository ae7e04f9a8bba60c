package ingest

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/pkg/errors"
	"settlement-reconciliation-service/pkg/logger"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Supported CSV encodings. Marketplace exports frequently arrive in GBK;
// everything else is expected to be UTF-8.
const (
	EncodingUTF8 = "utf-8"
	EncodingGBK  = "gbk"
)

// CSVConfig holds configuration for CSV ingestion
type CSVConfig struct {
	Delimiter        rune   `json:"delimiter" mapstructure:"delimiter"`
	Encoding         string `json:"encoding" mapstructure:"encoding"`
	TrimLeadingSpace bool   `json:"trim_leading_space" mapstructure:"trim_leading_space"`
	SkipEmptyRows    bool   `json:"skip_empty_rows" mapstructure:"skip_empty_rows"`
	ValidateEncoding bool   `json:"validate_encoding" mapstructure:"validate_encoding"`
}

// DefaultCSVConfig returns a configuration with sensible defaults
func DefaultCSVConfig() *CSVConfig {
	return &CSVConfig{
		Delimiter:        ',',
		Encoding:         EncodingUTF8,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
	}
}

// Validate validates the CSV configuration
func (c *CSVConfig) Validate() error {
	switch strings.ToLower(c.Encoding) {
	case EncodingUTF8, EncodingGBK:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "encoding", c.Encoding, nil)
	}
	if c.Delimiter == 0 {
		return errors.ConfigurationError(errors.CodeMissingConfig, "delimiter", nil, nil)
	}
	return nil
}

// CSVParser reads a CSV bill export into raw rows
type CSVParser struct {
	config *CSVConfig
	logger logger.Logger
}

// NewCSVParser creates a CSV parser with the given configuration
func NewCSVParser(config *CSVConfig) (*CSVParser, error) {
	if config == nil {
		config = DefaultCSVConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CSVParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("csv_parser"),
	}, nil
}

// ParseFile reads an entire CSV bill export. The first non-empty record is
// the header; every following record becomes one RawRow keyed by the
// cleaned header labels. A file with a header but no data rows fails with
// an empty-dataset error.
func (p *CSVParser) ParseFile(path string) ([]models.RawRow, *ParseStats, error) {
	p.logger.WithFields(logger.Fields{
		"file_path": path,
		"encoding":  p.config.Encoding,
	}).Debug("Opening CSV file")

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, path, err)
	}
	defer file.Close()

	var source io.Reader = bufio.NewReader(file)
	if strings.ToLower(p.config.Encoding) == EncodingGBK {
		source = transform.NewReader(source, simplifiedchinese.GBK.NewDecoder())
	}

	reader := csv.NewReader(source)
	reader.Comma = p.config.Delimiter
	reader.TrimLeadingSpace = p.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1

	stats := &ParseStats{}
	var headers []string
	var rows []models.RawRow

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, errors.ParseError(errors.CodeInvalidFormat, path,
				stats.TotalLines+1, "malformed CSV record", err)
		}

		stats.TotalLines++

		if p.config.ValidateEncoding && strings.ToLower(p.config.Encoding) == EncodingUTF8 {
			if err := validateUTF8(record, path, stats.TotalLines); err != nil {
				return nil, nil, err
			}
		}

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
		"columns":   len(headers),
		"rows":      stats.RowsParsed,
	}).Info("Parsed CSV file")

	return rows, stats, nil
}

// validateUTF8 rejects records with invalid UTF-8, pointing the user at
// the GBK encoding option since that is the usual cause.
func validateUTF8(record []string, path string, line int) error {
	for _, cell := range record {
		if !utf8.ValidString(cell) {
			return errors.ParseError(errors.CodeEncodingError, path, line, "", nil)
		}
	}
	return nil
}
