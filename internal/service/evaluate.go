package service

import (
	"errors"
	"fmt"
	"strings"

	"flight-price-alerts/internal/model"
)

// ErrCurrencyMismatch means the provider priced the route in another currency.
var ErrCurrencyMismatch = errors.New("quote currency does not match route currency")

// Outcome is the decision taken for one route in one cycle.
type Outcome int

const (
	// NoOffers: the provider found nothing to price.
	NoOffers Outcome = iota + 1
	// ThresholdNotMet: the cheapest price is above the threshold.
	ThresholdNotMet
	// AlreadyNotified: the price qualifies but this exact alert was already sent.
	AlreadyNotified
	// Notify: the price qualifies and has not been reported yet.
	Notify
)

func (o Outcome) String() string {
	switch o {
	case NoOffers:
		return "NO_OFFERS"
	case ThresholdNotMet:
		return "BELOW_THRESHOLD_NOT_MET"
	case AlreadyNotified:
		return "ALREADY_NOTIFIED"
	case Notify:
		return "NOTIFY"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Evaluate decides what to do with a quote. sent reports whether the alert key for
// this quote is already in the ledger. The threshold is checked first, so a price
// above the current threshold never counts as already notified.
func Evaluate(quote *model.Quote, route model.Route, sent bool) (Outcome, error) {
	if quote == nil {
		return NoOffers, nil
	}
	if !strings.EqualFold(quote.Currency, route.Currency) {
		return 0, fmt.Errorf("%w: got %s, want %s", ErrCurrencyMismatch, quote.Currency, route.Currency)
	}
	if quote.Price.GreaterThan(route.Threshold) {
		return ThresholdNotMet, nil
	}
	if sent {
		return AlreadyNotified, nil
	}
	return Notify, nil
}
