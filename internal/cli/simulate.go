package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"flight-price-alerts/internal/app"
)

var (
	simulateRoute string
	simulatePrice string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用固定报价模拟一次告警，验证通知通道",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{RouteID: simulateRoute}
		if simulatePrice != "" {
			price, err := decimal.NewFromString(simulatePrice)
			if err != nil {
				return fmt.Errorf("invalid --price value: %w", err)
			}
			if !price.IsPositive() {
				return fmt.Errorf("--price must be greater than zero")
			}
			opts.Price = price
		}
		return getApp().SimulateAlert(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRoute, "route", "", "Route ID to simulate (defaults to the first configured route)")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Quoted price (defaults to the route threshold)")
}
