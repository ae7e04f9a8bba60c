package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"settlement-reconciliation-service/cmd/reconciler/config"
	"settlement-reconciliation-service/internal/ingest"
	"settlement-reconciliation-service/internal/pipeline"
	"settlement-reconciliation-service/internal/reporter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	billFile     string
	priceFile    string
	encoding     string
	sheetName    string
	outputFormat string
	outputFile   string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile an order-level settlement bill into priced product rows",
	Long: `Reconcile processes an order-level bill export: it groups rows by order
number, drops order groups containing a cancel-refund document, strips
direct-operation service fee rows from pure order groups, applies the
configured default prices, and merges rows sharing a product code.

This command requires a bill export in CSV or xlsx format.

Examples:
  # Basic reconciliation with a default price table
  reconciler reconcile --bill-file bill.xlsx --prices prices.json

  # GBK-encoded CSV export
  reconciler reconcile --bill-file bill.csv --encoding gbk

  # JSON output to a file
  reconciler reconcile --bill-file bill.xlsx --output-format json --output-file report.json

  # Read a specific worksheet
  reconciler reconcile --bill-file bill.xlsx --sheet "对账单"`,

	PreRunE: validateBillFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	// Required flags
	reconcileCmd.Flags().StringVarP(&billFile, "bill-file", "b", "", "path to the bill export file (required)")

	// Input flags
	reconcileCmd.Flags().StringVarP(&priceFile, "prices", "p", "", "path to the default price table JSON file")
	reconcileCmd.Flags().StringVar(&encoding, "encoding", "utf-8", "CSV encoding: utf-8, gbk")
	reconcileCmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet name for xlsx input (default: first sheet)")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	reconcileCmd.MarkFlagRequired("bill-file")
}

// bindBillFlags binds the invoked command's input and output flags to
// viper. Binding happens at run time because reconcile and settle share
// the flag keys and viper can hold only one binding per key.
func bindBillFlags(cmd *cobra.Command) {
	for _, name := range []string{"bill-file", "prices", "encoding", "sheet", "output-format", "output-file"} {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			viper.BindPFlag(name, flag)
		}
	}
}

func validateBillFlags(cmd *cobra.Command, args []string) error {
	bindBillFlags(cmd)

	// Get values from viper (allows override from config file)
	billFile = viper.GetString("bill-file")
	priceFile = viper.GetString("prices")
	encoding = viper.GetString("encoding")
	sheetName = viper.GetString("sheet")
	outputFormat = viper.GetString("output-format")
	outputFile = viper.GetString("output-file")

	if billFile == "" {
		return fmt.Errorf("bill-file is required")
	}

	if err := validateFileExists(billFile, "bill export file"); err != nil {
		return err
	}

	if priceFile != "" {
		if err := validateFileExists(priceFile, "price table file"); err != nil {
			return err
		}
	}

	validEncodings := map[string]bool{"utf-8": true, "gbk": true}
	if !validEncodings[encoding] {
		return fmt.Errorf("invalid encoding '%s'. Valid encodings: utf-8, gbk", encoding)
	}

	validFormats := map[string]bool{"console": true, "json": true, "csv": true}
	if !validFormats[outputFormat] {
		return fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", outputFormat)
	}

	// Validate output file directory exists if specified
	if outputFile != "" {
		dir := filepath.Dir(outputFile)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return fmt.Errorf("output directory does not exist: %s", dir)
			}
		}
	}

	return nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return fmt.Errorf("%s path cannot be empty", description)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("%s does not exist: %s", description, filePath)
	}
	if err != nil {
		return fmt.Errorf("error accessing %s: %w", description, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%s is a directory, expected a file: %s", description, filePath)
	}

	return nil
}

// openOutput resolves the report destination from the output-file flag
func openOutput() (*os.File, func(), error) {
	if outputFile == "" {
		return os.Stdout, func() {}, nil
	}

	output, err := os.Create(outputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return output, func() { output.Close() }, nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting bill reconciliation...\n")
		fmt.Fprintf(os.Stderr, "Bill file: %s\n", billFile)
		if priceFile != "" {
			fmt.Fprintf(os.Stderr, "Price table: %s\n", priceFile)
		}
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
	}

	ruleConfig, err := config.CreateRuleConfig()
	if err != nil {
		return err
	}

	engine, err := pipeline.NewEngine(ruleConfig)
	if err != nil {
		return err
	}

	prices, err := config.LoadPriceTable(priceFile)
	if err != nil {
		return err
	}

	rows, stats, err := ingest.ParseFile(billFile, config.CreateIngestOptions(encoding, sheetName))
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Ingested bill: %s\n", stats.String())
	}

	result, err := engine.Reconcile(rows, prices)
	if err != nil {
		return err
	}

	reportGenerator, err := reporter.NewReportGenerator(config.CreateReportConfig(outputFormat))
	if err != nil {
		return err
	}

	output, closeOutput, err := openOutput()
	if err != nil {
		return err
	}
	defer closeOutput()

	if err := reportGenerator.GenerateBillReport(result, output); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nReconciliation completed successfully.\n")
		fmt.Fprintf(os.Stderr, "Processed %d order groups, filtered %d groups and %d rows.\n",
			result.Stats.ProcessedGroups, result.Stats.FilteredGroups, result.Stats.FilteredRows)
		if pending := result.PendingProducts(); len(pending) > 0 {
			fmt.Fprintf(os.Stderr, "%d products still need a unit price.\n", len(pending))
		}
	}

	return nil
}
