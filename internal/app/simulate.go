package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/ledger"
	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/storage"
)

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	RouteID string
	// Price defaults to the route threshold so the alert always fires.
	Price decimal.Decimal
}

// SimulateAlert 使用固定报价走一遍完整的告警流程，验证通知通道。
// The real ledger is not touched; a throwaway in-memory ledger is used instead.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	routes, err := a.Config.MonitoredRoutes()
	if err != nil {
		return err
	}
	set, err := model.NewRouteSet(routes)
	if err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	routeID := opts.RouteID
	if routeID == "" {
		routeID = routes[0].ID
	}
	route, err := set.Get(routeID)
	if err != nil {
		return err
	}

	price := opts.Price
	if price.IsZero() {
		price = route.Threshold
	}
	if !price.IsPositive() {
		return errors.New("--price 必须大于 0")
	}

	led := ledger.New(storage.NewMemory(), a.Logger)
	m, err := a.newMonitor(&fetcher.Static{Price: price, Airline: "SIMULATED"}, led, nil)
	if err != nil {
		return err
	}
	defer m.close()

	res, err := m.svc.ProcessRoute(ctx, route)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "%s: %s at %s (threshold %s)\n", route.ID, res.Outcome, price.String()+" "+route.Currency, route.Threshold.String())
	return nil
}
