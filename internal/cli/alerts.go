package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
	"flight-price-alerts/internal/model"
)

var (
	alertsFormat    string
	alertsRecipient string
	pruneBefore     string
	pruneDryRun     bool
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Inspect and maintain the sent-alert ledger",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts that were already sent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context(), app.AlertsOptions{
			Format:    alertsFormat,
			Recipient: alertsRecipient,
		})
	},
}

var alertsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget alerts for departures before a date",
	RunE: func(cmd *cobra.Command, args []string) error {
		before := time.Now().UTC()
		if pruneBefore != "" {
			parsed, err := time.Parse(model.DateLayout, pruneBefore)
			if err != nil {
				return fmt.Errorf("invalid --before value: %w", err)
			}
			before = parsed
		}

		return getApp().PruneAlerts(cmd.Context(), app.PruneOptions{
			Before: before,
			DryRun: pruneDryRun,
		})
	},
}

func init() {
	alertsListCmd.Flags().StringVar(&alertsFormat, "format", app.FormatTable, "Output format: table, json or yaml")
	alertsListCmd.Flags().StringVar(&alertsRecipient, "recipient", "", "Only show alerts sent to this address")

	alertsPruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Departure date cutoff (YYYY-MM-DD, defaults to today)")
	alertsPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report what would be removed without writing")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsPruneCmd)
}
