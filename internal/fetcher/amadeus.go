package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/model"
)

const (
	amadeusTokenPath  = "/v1/security/oauth2/token"
	amadeusOffersPath = "/v2/shopping/flight-offers"

	// refresh a little before the advertised expiry
	tokenExpirySlack = 30 * time.Second
)

// AmadeusOptions parameterise the Amadeus flight offers client.
type AmadeusOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	MaxOffers    int
	Timeout      time.Duration
}

// Amadeus queries the Amadeus Self-Service flight offers search.
type Amadeus struct {
	opts    AmadeusOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time

	tokenMux    sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewAmadeus constructs a provider.
func NewAmadeus(opts AmadeusOptions, logger zerolog.Logger) *Amadeus {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if opts.MaxOffers <= 0 {
		opts.MaxOffers = 10
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://test.api.amadeus.com"
	}

	return &Amadeus{
		opts:    opts,
		logger:  logger.With().Str("component", "amadeus").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Quote returns the cheapest offer, or nil when the search has no results.
func (a *Amadeus) Quote(ctx context.Context, req QuoteRequest) (*model.Quote, error) {
	if a.opts.ClientID == "" || a.opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: amadeus credentials not configured", ErrProvider)
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	offers, err := a.searchOffers(ctx, token, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	if len(offers) == 0 {
		return nil, nil
	}

	quote, err := cheapest(offers, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	quote.ObservedAt = a.now().UTC()

	a.logger.Debug().Str("route", req.RouteID).
		Int("offers", len(offers)).
		Str("price", quote.PriceString()).
		Msg("cheapest offer selected")
	return quote, nil
}

func (a *Amadeus) accessToken(ctx context.Context) (string, error) {
	a.tokenMux.Lock()
	defer a.tokenMux.Unlock()

	if a.token != "" && a.now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.opts.ClientID)
	form.Set("client_secret", a.opts.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+amadeusTokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	payload, status, err := a.do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if status != http.StatusOK {
		return "", parseHTTPError(status, payload)
	}

	var tok tokenResponse
	if err := json.Unmarshal(payload, &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	a.token = tok.AccessToken
	a.tokenExpiry = a.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenExpirySlack)
	return a.token, nil
}

func (a *Amadeus) invalidateToken() {
	a.tokenMux.Lock()
	a.token = ""
	a.tokenMux.Unlock()
}

func (a *Amadeus) searchOffers(ctx context.Context, token string, q QuoteRequest) ([]flightOffer, error) {
	params := url.Values{}
	params.Set("originLocationCode", q.Origin)
	params.Set("destinationLocationCode", q.Destination)
	params.Set("departureDate", q.DepartureDate.Format(model.DateLayout))
	params.Set("adults", "1")
	params.Set("currencyCode", q.Currency)
	params.Set("max", strconv.Itoa(a.opts.MaxOffers))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+amadeusOffersPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create offers request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.amadeus+json, application/json")

	payload, status, err := a.do(req)
	if err != nil {
		return nil, fmt.Errorf("search offers: %w", err)
	}
	if status == http.StatusUnauthorized {
		a.invalidateToken()
	}
	if status != http.StatusOK {
		return nil, parseHTTPError(status, payload)
	}

	var res offersResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode offers response: %w", err)
	}
	return res.Data, nil
}

func (a *Amadeus) do(req *http.Request) ([]byte, int, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return payload, resp.StatusCode, nil
}

func cheapest(offers []flightOffer, req QuoteRequest) (*model.Quote, error) {
	var (
		best      *flightOffer
		bestPrice decimal.Decimal
	)
	for i := range offers {
		price, err := decimal.NewFromString(offers[i].Price.Total)
		if err != nil {
			return nil, fmt.Errorf("parse offer price %q: %w", offers[i].Price.Total, err)
		}
		if best == nil || price.LessThan(bestPrice) {
			best = &offers[i]
			bestPrice = price
		}
	}

	currency := strings.ToUpper(best.Price.Currency)
	if currency == "" {
		return nil, errors.New("offer price has no currency")
	}

	quote := &model.Quote{
		RouteID:     req.RouteID,
		Price:       bestPrice,
		Currency:    currency,
		BookingLink: BookingLink(req.Origin, req.Destination, req.DepartureDate),
	}
	if len(best.ValidatingAirlineCodes) > 0 {
		quote.Airline = best.ValidatingAirlineCodes[0]
	}
	if len(best.Itineraries) > 0 && len(best.Itineraries[0].Segments) > 0 {
		quote.DepartureTime = best.Itineraries[0].Segments[0].Departure.At
	}
	return quote, nil
}

// BookingLink points at a Google Flights search; Amadeus offers carry no booking URL.
func BookingLink(origin, destination string, date time.Time) string {
	return fmt.Sprintf("https://www.google.com/flights?hl=en#flt=%s.%s.%s", origin, destination, date.Format(model.DateLayout))
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

type offersResponse struct {
	Data []flightOffer `json:"data"`
}

type flightOffer struct {
	ID    string `json:"id"`
	Price struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"price"`
	ValidatingAirlineCodes []string `json:"validatingAirlineCodes"`
	Itineraries            []struct {
		Segments []struct {
			Departure struct {
				IATACode string `json:"iataCode"`
				At       string `json:"at"`
			} `json:"departure"`
		} `json:"segments"`
	} `json:"itineraries"`
}

type errorResponse struct {
	Errors []struct {
		Status int    `json:"status"`
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if len(apiErr.Errors) > 0 {
			e := apiErr.Errors[0]
			if e.Detail != "" {
				return fmt.Errorf("amadeus api error (%d): %s: %s", status, e.Title, e.Detail)
			}
			if e.Title != "" {
				return fmt.Errorf("amadeus api error (%d): %s", status, e.Title)
			}
		}
		if apiErr.ErrorDescription != "" {
			return fmt.Errorf("amadeus api error (%d): %s", status, apiErr.ErrorDescription)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("amadeus api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("amadeus api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("amadeus api error (%d)", status)
}

var _ Provider = (*Amadeus)(nil)
