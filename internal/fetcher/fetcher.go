package fetcher

import (
	"context"
	"errors"
	"time"

	"flight-price-alerts/internal/model"
)

// ErrProvider wraps every lookup failure: transport errors, non-2xx responses and
// malformed payloads. A nil quote with a nil error means no offers were found.
var ErrProvider = errors.New("price provider error")

// QuoteRequest identifies what to price.
type QuoteRequest struct {
	RouteID       string
	Origin        string
	Destination   string
	DepartureDate time.Time
	Currency      string
}

// RequestFor builds the provider request for a route.
func RequestFor(r model.Route) QuoteRequest {
	return QuoteRequest{
		RouteID:       r.ID,
		Origin:        r.Origin,
		Destination:   r.Destination,
		DepartureDate: r.DepartureDate,
		Currency:      r.Currency,
	}
}

// Provider returns the cheapest current offer for a route.
type Provider interface {
	Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error)
}
