package alerting

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"flight-price-alerts/internal/model"
)

var alertHTML = template.Must(template.New("alert").Parse(`<p>Good news! We found a cheap flight:</p>
<ul>
<li><strong>Route:</strong> {{.Route}}</li>
<li><strong>Date:</strong> {{.Date}}</li>
<li><strong>Airline:</strong> {{.Airline}}</li>
<li><strong>Price:</strong> {{.Price}}</li>
<li><strong>Your threshold:</strong> {{.Threshold}}</li>
<li><strong>Departure Time:</strong> {{.DepartureTime}}</li>
<li><strong>Booking Link:</strong> <a href="{{.BookingLink}}" target="_blank">Go to Google Flights</a></li>
</ul>
<p>Note: This link opens a Google Flights search for the route. You may need to select the exact flight manually.</p>
`))

type alertView struct {
	Route         string
	Date          string
	Airline       string
	Price         string
	Threshold     string
	DepartureTime string
	BookingLink   string
}

// Compose renders the alert message for a route and the quote that triggered it.
func Compose(route model.Route, quote model.Quote, key string) (Message, error) {
	alert := Alert{
		Key:           key,
		RouteID:       route.ID,
		Origin:        route.Origin,
		Destination:   route.Destination,
		Date:          route.Date(),
		Price:         quote.Price.String(),
		Currency:      quote.Currency,
		Threshold:     route.Threshold.String(),
		Airline:       quote.Airline,
		DepartureTime: quote.DepartureTime,
		BookingLink:   quote.BookingLink,
		ObservedAt:    quote.ObservedAt,
	}

	view := alertView{
		Route:         route.String(),
		Date:          alert.Date,
		Airline:       orUnknown(alert.Airline),
		Price:         quote.PriceString(),
		Threshold:     alert.Threshold + " " + route.Currency,
		DepartureTime: orUnknown(alert.DepartureTime),
		BookingLink:   alert.BookingLink,
	}

	var html bytes.Buffer
	if err := alertHTML.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render alert: %w", err)
	}

	return Message{
		Recipient: route.Recipient,
		Subject:   fmt.Sprintf("✈️ Flight Alert: %s at %s", view.Route, view.Price),
		HTML:      html.String(),
		Text:      renderText(view),
		Alert:     alert,
	}, nil
}

func renderText(v alertView) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("Route: %s\n", v.Route))
	b.WriteString(fmt.Sprintf("Date: %s\n", v.Date))
	b.WriteString(fmt.Sprintf("Airline: %s\n", v.Airline))
	b.WriteString(fmt.Sprintf("Price: %s (threshold %s)\n", v.Price, v.Threshold))
	b.WriteString(fmt.Sprintf("Departure: %s\n", v.DepartureTime))
	if v.BookingLink != "" {
		b.WriteString(fmt.Sprintf("Search: %s\n", v.BookingLink))
	}
	return b.String()
}

func orUnknown(v string) string {
	if v == "" {
		return "n/a"
	}
	return v
}
