package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar date format used for departure dates.
const DateLayout = "2006-01-02"

var (
	// ErrUnknownRoute indicates a route ID that is not being monitored.
	ErrUnknownRoute = errors.New("unknown route")
	// ErrInvalidThreshold indicates a non-positive threshold.
	ErrInvalidThreshold = errors.New("threshold must be greater than zero")
)

// Route is a monitored origin/destination/date tuple.
type Route struct {
	ID            string
	Origin        string
	Destination   string
	DepartureDate time.Time
	Currency      string
	Threshold     decimal.Decimal
	Recipient     string
}

// Date renders the departure date as YYYY-MM-DD.
func (r Route) Date() string {
	return r.DepartureDate.Format(DateLayout)
}

// String is used in logs and notification subjects.
func (r Route) String() string {
	return fmt.Sprintf("%s → %s", r.Origin, r.Destination)
}

// Quote is a single price observation returned by a provider.
type Quote struct {
	RouteID       string
	Price         decimal.Decimal
	Currency      string
	Airline       string
	DepartureTime string
	BookingLink   string
	ObservedAt    time.Time
}

// PriceString renders the observed price together with its currency, e.g. "180.5 USD".
func (q Quote) PriceString() string {
	return q.Price.String() + " " + q.Currency
}

// RouteSet holds the monitored routes. Thresholds may change between cycles.
type RouteSet struct {
	mu     sync.RWMutex
	order  []string
	routes map[string]Route
}

// NewRouteSet builds a route set; IDs must be unique.
func NewRouteSet(routes []Route) (*RouteSet, error) {
	set := &RouteSet{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if r.ID == "" {
			return nil, errors.New("route id must not be empty")
		}
		if _, dup := set.routes[r.ID]; dup {
			return nil, fmt.Errorf("duplicate route id %q", r.ID)
		}
		set.routes[r.ID] = r
		set.order = append(set.order, r.ID)
	}
	return set, nil
}

// Snapshot returns the routes in configuration order.
func (s *RouteSet) Snapshot() []Route {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Route, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.routes[id])
	}
	return out
}

// Get returns a single route.
func (s *RouteSet) Get(id string) (Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[id]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	return r, nil
}

// SetThreshold replaces the threshold of one route.
func (s *RouteSet) SetThreshold(id string, threshold decimal.Decimal) error {
	if !threshold.IsPositive() {
		return ErrInvalidThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.routes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRoute, id)
	}
	r.Threshold = threshold
	s.routes[id] = r
	return nil
}

// IDs lists route IDs sorted alphabetically.
func (s *RouteSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.routes))
	for id := range s.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
