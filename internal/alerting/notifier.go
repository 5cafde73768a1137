package alerting

import (
	"context"
	"errors"
	"time"
)

// ErrNotify wraps every delivery failure. A failed send must never be recorded.
var ErrNotify = errors.New("notification delivery failed")

// Alert is the structured payload of a price alert.
type Alert struct {
	Key           string    `json:"key"`
	RouteID       string    `json:"route_id"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Date          string    `json:"date"`
	Price         string    `json:"price"`
	Currency      string    `json:"currency"`
	Threshold     string    `json:"threshold"`
	Airline       string    `json:"airline,omitempty"`
	DepartureTime string    `json:"departure_time,omitempty"`
	BookingLink   string    `json:"booking_link,omitempty"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Message is what a notifier delivers.
type Message struct {
	Recipient string
	Subject   string
	HTML      string
	Text      string
	Alert     Alert
}

// Notifier delivers alerts to one channel. Send returns an error wrapping ErrNotify
// when the message was not delivered.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
