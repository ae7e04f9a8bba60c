// Package config assembles the pipeline configurations for the CLI from
// defaults, the optional viper config file, and command-line flags.
package config

import (
	"encoding/json"
	"os"

	"settlement-reconciliation-service/internal/ingest"
	"settlement-reconciliation-service/internal/models"
	"settlement-reconciliation-service/internal/pipeline"
	"settlement-reconciliation-service/internal/reporter"
	"settlement-reconciliation-service/internal/settlement"
	"settlement-reconciliation-service/pkg/errors"

	"github.com/spf13/viper"
)

// CreateRuleConfig builds the business rule configuration, letting the
// config file override any column label or vocabulary value under the
// "rules" key.
func CreateRuleConfig() (*pipeline.RuleConfig, error) {
	config := pipeline.DefaultRuleConfig()

	if viper.IsSet("rules") {
		if err := viper.UnmarshalKey("rules", config); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "rules", nil, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateSettlementConfig builds the settlement aggregator configuration,
// letting the config file override values under the "settlement" key.
func CreateSettlementConfig() (*settlement.Config, error) {
	config := settlement.DefaultConfig()

	if viper.IsSet("settlement") {
		if err := viper.UnmarshalKey("settlement", config); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "settlement", nil, err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateIngestOptions builds the file ingestion options from the CLI's
// encoding and worksheet flags.
func CreateIngestOptions(encoding, sheet string) ingest.Options {
	csvConfig := ingest.DefaultCSVConfig()
	if encoding != "" {
		csvConfig.Encoding = encoding
	}

	excelConfig := ingest.DefaultExcelConfig()
	excelConfig.Sheet = sheet

	return ingest.Options{
		CSV:   csvConfig,
		Excel: excelConfig,
	}
}

// CreateReportConfig creates a report configuration for the specified
// output format.
func CreateReportConfig(format string) *reporter.ReportConfig {
	config := reporter.DefaultReportConfig()

	switch format {
	case "console":
		config.Format = reporter.FormatConsole
		config.IncludePendingProducts = true
		config.IncludeStats = true
	case "json":
		config.Format = reporter.FormatJSON
		config.IncludePendingProducts = true
		config.IncludeStats = true
	case "csv":
		config.Format = reporter.FormatCSV
		config.CSVHeaders = true
		config.CSVDelimiter = ','
		// CSV carries row data only
		config.IncludePendingProducts = false
		config.IncludeStats = false
	}

	return config
}

// LoadPriceTable reads the static default-price table from a JSON file
// mapping product code to price entry. An empty path yields an empty
// table; reconciliation then marks every product as pending.
func LoadPriceTable(path string) (models.PriceTable, error) {
	if path == "" {
		return models.PriceTable{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	var table models.PriceTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "invalid price table JSON", err)
	}

	return table, nil
}
