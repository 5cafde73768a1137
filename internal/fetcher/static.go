package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/model"
)

// Static always answers with the same price; used by simulate-alert.
type Static struct {
	Price   decimal.Decimal
	Airline string
}

func (s *Static) Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error) {
	return &model.Quote{
		RouteID:       req.RouteID,
		Price:         s.Price,
		Currency:      req.Currency,
		Airline:       s.Airline,
		DepartureTime: req.DepartureDate.Format(model.DateLayout),
		BookingLink:   BookingLink(req.Origin, req.Destination, req.DepartureDate),
		ObservedAt:    time.Now().UTC(),
	}, nil
}

var _ Provider = (*Static)(nil)
