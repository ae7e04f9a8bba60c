package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"settlement-reconciliation-service/cmd/reconciler/config"
	"settlement-reconciliation-service/internal/ingest"
	"settlement-reconciliation-service/internal/reporter"
	"settlement-reconciliation-service/internal/settlement"
	"settlement-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the settle command
var (
	showProgress  bool
	amountColumns []string
)

// settleCmd represents the settle command
var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Aggregate a settlement bill per product code",
	Long: `Settle aggregates a settlement bill export per product code: payment
rows sum into settlement amounts, direct-operation service fee rows sum
into per-code service fees, and after-sales compensation rows are totaled
for review without being deducted.

The aggregation runs as a cancellable background task; press Ctrl-C to
cancel a long run cleanly.

Examples:
  # Basic settlement aggregation
  reconciler settle --bill-file settlement.xlsx

  # GBK-encoded CSV with progress output
  reconciler settle --bill-file settlement.csv --encoding gbk --progress

  # JSON output to a file
  reconciler settle --bill-file settlement.xlsx --output-format json --output-file settle.json`,

	PreRunE: validateBillFlags,
	RunE:    runSettle,
}

func init() {
	rootCmd.AddCommand(settleCmd)

	// Required flags
	settleCmd.Flags().StringVarP(&billFile, "bill-file", "b", "", "path to the settlement bill export file (required)")

	// Input flags
	settleCmd.Flags().StringVar(&encoding, "encoding", "utf-8", "CSV encoding: utf-8, gbk")
	settleCmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet name for xlsx input (default: first sheet)")
	settleCmd.Flags().StringSliceVar(&amountColumns, "amount-columns", nil, "override the settlement amount column candidates, in priority order")

	// Output flags
	settleCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	settleCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	// UI flags
	settleCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress indicators")

	settleCmd.MarkFlagRequired("bill-file")

	viper.BindPFlag("progress", settleCmd.Flags().Lookup("progress"))
}

func runSettle(cmd *cobra.Command, args []string) error {
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Starting settlement aggregation...\n")
		fmt.Fprintf(os.Stderr, "Bill file: %s\n", billFile)
		fmt.Fprintf(os.Stderr, "Output format: %s\n", outputFormat)
	}

	settlementConfig, err := config.CreateSettlementConfig()
	if err != nil {
		return err
	}
	if len(amountColumns) > 0 {
		settlementConfig.AmountColumnCandidates = amountColumns
		if err := settlementConfig.Validate(); err != nil {
			return err
		}
	}

	aggregator, err := settlement.NewAggregator(settlementConfig)
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

	runner := settlement.NewRunner(aggregator)
	task := runner.Submit(rows)

	// Cancel the task cleanly on interrupt; a second interrupt kills the
	// process through the default handler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		task.Cancel()
	}()

	go func() {
		for event := range runner.Events() {
			if event.TaskID != task.ID() {
				continue
			}
			if event.Type == settlement.EventProgress && showProgress {
				fmt.Fprintf(os.Stderr, "\r%s (%.1f%% complete)", event.Message, event.Percent)
			}
		}
	}()

	result, err := task.Wait(context.Background())
	if showProgress {
		fmt.Fprintf(os.Stderr, "\n")
	}
	if err != nil {
		if errors.IsTaskCancelled(err) {
			fmt.Fprintf(os.Stderr, "Settlement aggregation cancelled.\n")
		}
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

	if err := reportGenerator.GenerateSettlementReport(result, output); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nSettlement aggregation completed successfully.\n")
		fmt.Fprintf(os.Stderr, "%s\n", result.Stats.String())
		fmt.Fprintf(os.Stderr, "Amount column: %s, %d product codes aggregated.\n",
			result.AmountColumn, len(result.Aggregates))
		if !result.CompensationTotal.IsZero() {
			fmt.Fprintf(os.Stderr, "Compensation total carried for review: %s\n",
				result.CompensationTotal.StringFixed(2))
		}
	}

	return nil
}
