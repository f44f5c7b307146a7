package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"trailing-return-alerts/internal/app"
)

var (
	exportFrom        string
	exportTo          string
	exportPNGPath     string
	exportCSVPath     string
	exportParquetPath string
	exportMaxPoints   int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded trailing returns as CSV, PNG chart or parquet",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:     exportPNGPath,
			CSVPath:     exportCSVPath,
			ParquetPath: exportParquetPath,
			MaxPoints:   exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := parseWhen(exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parseWhen(exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseWhen accepts RFC3339 timestamps or bare dates.
func parseWhen(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start of the recorded_at window (RFC3339 or YYYY-MM-DD, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End of the recorded_at window (RFC3339 or YYYY-MM-DD, exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportParquetPath, "parquet", "", "Path to write parquet data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum rows to export (defaults to config)")
}
