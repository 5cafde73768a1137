package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"flight-price-alerts/internal/service"
)

// Check runs a single polling pass and prints the decision for each route.
func (a *App) Check(ctx context.Context) error {
	m, err := a.openMonitor(ctx)
	if err != nil {
		return err
	}
	defer m.close()

	if err := m.ledger.Open(ctx); err != nil {
		return err
	}

	results, cycleErr := m.svc.CheckOnce(ctx)
	printResults(a, results)
	return cycleErr
}

func printResults(a *App, results []service.Result) {
	if len(results) == 0 {
		fmt.Fprintln(a.Stdout, "no routes checked")
		return
	}

	writer := tabwriter.NewWriter(a.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Route\tPrice\tOutcome\tError")
	for _, r := range results {
		price := "-"
		if r.Quote != nil {
			price = r.Quote.PriceString()
		}
		outcome := "-"
		errMsg := ""
		if r.Err != nil {
			errMsg = sanitizeInline(r.Err.Error())
		} else {
			outcome = r.Outcome.String()
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r.RouteID, price, outcome, errMsg)
	}
	writer.Flush()
}
