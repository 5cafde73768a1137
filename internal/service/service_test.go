package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/ledger"
	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/scheduler"
	"flight-price-alerts/internal/storage"
)

type fakeProvider struct {
	mu     sync.Mutex
	prices map[string]string
	errs   map[string]error
	cur    string
	calls  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{prices: map[string]string{}, errs: map[string]error{}, cur: "USD"}
}

func (p *fakeProvider) set(routeID, price string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[routeID] = price
}

func (p *fakeProvider) Quote(ctx context.Context, req fetcher.QuoteRequest) (*model.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[req.RouteID]; err != nil {
		return nil, err
	}
	price, ok := p.prices[req.RouteID]
	if !ok {
		return nil, nil
	}
	return &model.Quote{
		RouteID:  req.RouteID,
		Price:    decimal.RequireFromString(price),
		Currency: p.cur,
		Airline:  "B6",
	}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []alerting.Message
	err  error
}

func (n *fakeNotifier) Name() string { return "fake" }

func (n *fakeNotifier) Send(ctx context.Context, msg alerting.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return fmt.Errorf("%w: %w", alerting.ErrNotify, n.err)
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type brokenBackend struct{}

func (brokenBackend) Load(ctx context.Context) (ledger.Snapshot, error) {
	return nil, errors.New("disk unplugged")
}
func (brokenBackend) Save(ctx context.Context, snap ledger.Snapshot) error { return nil }
func (brokenBackend) Close() error { return nil }

type fakeLocker struct {
	acquired bool
	calls    int
}

func (l *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	l.calls++
	return func() {}, l.acquired, nil
}

func jfkSFO(id string) model.Route {
	return model.Route{
		ID:            id,
		Origin:        "JFK",
		Destination:   "SFO",
		DepartureDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Currency:      "USD",
		Threshold:     decimal.NewFromInt(200),
		Recipient:     "alice@example.com",
	}
}

type fixture struct {
	svc      *Service
	provider *fakeProvider
	notifier *fakeNotifier
	ledger   *ledger.Ledger
}

func newFixture(t *testing.T, opts Options, routes ...model.Route) *fixture {
	t.Helper()
	if len(routes) == 0 {
		routes = []model.Route{jfkSFO("JFK-SFO")}
	}
	set, err := model.NewRouteSet(routes)
	require.NoError(t, err)

	led := ledger.New(storage.NewMemory(), zerolog.Nop())
	require.NoError(t, led.Open(context.Background()))

	f := &fixture{provider: newFakeProvider(), notifier: &fakeNotifier{}, ledger: led}
	f.svc = New(set, f.provider, led, f.notifier, opts, zerolog.Nop())
	return f
}

func (f *fixture) process(t *testing.T, routeID string) (Result, error) {
	t.Helper()
	route, err := f.svc.routes.Get(routeID)
	require.NoError(t, err)
	return f.svc.ProcessRoute(context.Background(), route)
}

func (f *fixture) entries(t *testing.T) []ledger.Key {
	t.Helper()
	keys, err := f.ledger.Entries(context.Background())
	require.NoError(t, err)
	return keys
}

func TestEvaluate(t *testing.T) {
	route := jfkSFO("r")
	quote := func(price, cur string) *model.Quote {
		return &model.Quote{Price: decimal.RequireFromString(price), Currency: cur}
	}

	tests := []struct {
		name  string
		quote *model.Quote
		sent  bool
		want  Outcome
	}{
		{"no offers", nil, false, NoOffers},
		{"no offers ignores ledger", nil, true, NoOffers},
		{"above threshold", quote("200.01", "USD"), false, ThresholdNotMet},
		{"above threshold even if recorded", quote("250", "USD"), true, ThresholdNotMet},
		{"equal to threshold notifies", quote("200", "USD"), false, Notify},
		{"below threshold", quote("180", "USD"), false, Notify},
		{"below threshold already sent", quote("180", "USD"), true, AlreadyNotified},
		{"currency case insensitive", quote("180", "usd"), false, Notify},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(tc.quote, route, tc.sent)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Evaluate(quote("150", "EUR"), route, false)
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "NO_OFFERS", NoOffers.String())
	assert.Equal(t, "BELOW_THRESHOLD_NOT_MET", ThresholdNotMet.String())
	assert.Equal(t, "ALREADY_NOTIFIED", AlreadyNotified.String())
	assert.Equal(t, "NOTIFY", Notify.String())
}

func TestProcessRoute_WorkedExample(t *testing.T) {
	f := newFixture(t, Options{})

	f.provider.set("JFK-SFO", "180")
	first, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, Notify, first.Outcome)
	assert.Equal(t, ledger.Key("alice@example.com|JFK|SFO|2025-06-01|180 USD"), first.Key)
	assert.Equal(t, 1, f.notifier.count())

	again, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, AlreadyNotified, again.Outcome)
	assert.Equal(t, first.Key, again.Key)
	assert.Equal(t, 1, f.notifier.count())

	f.provider.set("JFK-SFO", "150")
	cheaper, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, Notify, cheaper.Outcome)
	assert.NotEqual(t, first.Key, cheaper.Key)
	assert.Equal(t, 2, f.notifier.count())

	f.provider.set("JFK-SFO", "250")
	above, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, ThresholdNotMet, above.Outcome)
	assert.Equal(t, 2, f.notifier.count())

	assert.Len(t, f.entries(t), 2)

	msg := f.notifier.sent[0]
	assert.Equal(t, "alice@example.com", msg.Recipient)
	assert.Equal(t, "✈️ Flight Alert: JFK → SFO at 180 USD", msg.Subject)
	assert.Equal(t, string(first.Key), msg.Alert.Key)
}

func TestProcessRoute_TrailingZerosShareKey(t *testing.T) {
	f := newFixture(t, Options{})

	f.provider.set("JFK-SFO", "180.00")
	first, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	require.Equal(t, Notify, first.Outcome)

	f.provider.set("JFK-SFO", "180")
	second, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, AlreadyNotified, second.Outcome)
}

func TestProcessRoute_NotifierFailureLeavesNoKey(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.set("JFK-SFO", "180")
	f.notifier.err = errors.New("smtp 421")

	res, err := f.process(t, "JFK-SFO")
	require.ErrorIs(t, err, alerting.ErrNotify)
	assert.Equal(t, Outcome(0), res.Outcome)
	assert.Empty(t, f.entries(t))

	f.notifier.err = nil
	res, err = f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, Notify, res.Outcome)
	assert.Len(t, f.entries(t), 1)
}

func TestProcessRoute_NoOffersNeverMutatesLedger(t *testing.T) {
	f := newFixture(t, Options{})

	for i := 0; i < 3; i++ {
		res, err := f.process(t, "JFK-SFO")
		require.NoError(t, err)
		assert.Equal(t, NoOffers, res.Outcome)
		assert.Nil(t, res.Quote)
	}
	assert.Empty(t, f.entries(t))
	assert.Zero(t, f.notifier.count())
}

func TestProcessRoute_CurrencyMismatch(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.set("JFK-SFO", "100")
	f.provider.cur = "EUR"

	_, err := f.process(t, "JFK-SFO")
	require.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Zero(t, f.notifier.count())
	assert.Empty(t, f.entries(t))
}

func TestProcessRoute_ThresholdLoweredAfterAlert(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.set("JFK-SFO", "180")

	res, err := f.process(t, "JFK-SFO")
	require.NoError(t, err)
	require.Equal(t, Notify, res.Outcome)

	require.NoError(t, f.svc.SetThreshold("JFK-SFO", decimal.NewFromInt(170)))
	res, err = f.process(t, "JFK-SFO")
	require.NoError(t, err)
	assert.Equal(t, ThresholdNotMet, res.Outcome)

	assert.ErrorIs(t, f.svc.SetThreshold("JFK-SFO", decimal.Zero), model.ErrInvalidThreshold)
	assert.ErrorIs(t, f.svc.SetThreshold("LHR-CDG", decimal.NewFromInt(1)), model.ErrUnknownRoute)
}

func TestProcessRoute_LedgerUnavailable(t *testing.T) {
	set, err := model.NewRouteSet([]model.Route{jfkSFO("JFK-SFO")})
	require.NoError(t, err)
	provider := newFakeProvider()
	provider.set("JFK-SFO", "180")
	notifier := &fakeNotifier{}

	svc := New(set, provider, ledger.New(brokenBackend{}, zerolog.Nop()), notifier, Options{}, zerolog.Nop())
	_, err = svc.ProcessRoute(context.Background(), jfkSFO("JFK-SFO"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.Zero(t, notifier.count())
}

func TestRunCycle_RouteErrorsDoNotStopOthers(t *testing.T) {
	other := jfkSFO("JFK-LAX")
	other.Destination = "LAX"
	f := newFixture(t, Options{}, jfkSFO("JFK-SFO"), other)

	f.provider.errs["JFK-SFO"] = fmt.Errorf("%w: HTTP 500", fetcher.ErrProvider)
	f.provider.set("JFK-LAX", "99.5")

	results, err := f.svc.CheckOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fetcher.ErrProvider)
	assert.Contains(t, err.Error(), "route JFK-SFO")

	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Equal(t, Notify, results[1].Outcome)
	assert.Equal(t, 1, f.notifier.count())
}

func TestRunCycle_ConcurrentRoutesShareKey(t *testing.T) {
	routes := make([]model.Route, 0, 8)
	for i := 0; i < 8; i++ {
		routes = append(routes, jfkSFO(fmt.Sprintf("dup-%d", i)))
	}
	f := newFixture(t, Options{Concurrency: 4}, routes...)
	for _, r := range routes {
		f.provider.set(r.ID, "180")
	}

	err := f.svc.RunCycle(context.Background(), scheduler.Cycle{ID: "c1", Number: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.count(), "identical keys must produce a single notification")
	assert.Len(t, f.entries(t), 1)
}

func TestRunCycle_CancelledBeforeRoutes(t *testing.T) {
	f := newFixture(t, Options{})
	f.provider.set("JFK-SFO", "180")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.RunCycle(ctx, scheduler.Cycle{ID: "c1", Number: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.provider.calls)
	assert.Zero(t, f.notifier.count())
}

func TestRunCycle_AdvisoryLock(t *testing.T) {
	locker := &fakeLocker{}
	f := newFixture(t, Options{Locker: locker, LockKey: 42})
	f.provider.set("JFK-SFO", "180")

	results, err := f.svc.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, f.provider.calls, "cycle must be skipped while another process holds the lock")

	locker.acquired = true
	results, err = f.svc.CheckOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Notify, results[0].Outcome)
	assert.Equal(t, 2, locker.calls)
}

type readOnlyBackend struct {
	*storage.Memory
}

func (readOnlyBackend) Save(ctx context.Context, snap ledger.Snapshot) error {
	return errors.New("read-only filesystem")
}

func TestProcessRoute_SentButNotRecorded(t *testing.T) {
	set, err := model.NewRouteSet([]model.Route{jfkSFO("JFK-SFO")})
	require.NoError(t, err)
	provider := newFakeProvider()
	provider.set("JFK-SFO", "180")
	notifier := &fakeNotifier{}

	led := ledger.New(readOnlyBackend{storage.NewMemory()}, zerolog.Nop())
	require.NoError(t, led.Open(context.Background()))
	svc := New(set, provider, led, notifier, Options{}, zerolog.Nop())

	res, err := svc.ProcessRoute(context.Background(), jfkSFO("JFK-SFO"))
	require.ErrorIs(t, err, ledger.ErrUnavailable)
	assert.ErrorIs(t, res.Err, ledger.ErrUnavailable)
	assert.Equal(t, 1, notifier.count())

	keys, err := led.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRunCycle_ProcessesShareLedger(t *testing.T) {
	store := storage.NewMemory()
	locker := &fakeLocker{acquired: true}

	newProcess := func() *fixture {
		set, err := model.NewRouteSet([]model.Route{jfkSFO("JFK-SFO")})
		require.NoError(t, err)
		led := ledger.New(store, zerolog.Nop())
		require.NoError(t, led.Open(context.Background()))
		f := &fixture{provider: newFakeProvider(), notifier: &fakeNotifier{}, ledger: led}
		f.provider.set("JFK-SFO", "180")
		f.svc = New(set, f.provider, led, f.notifier, Options{Locker: locker, LockKey: 7}, zerolog.Nop())
		return f
	}
	a, b := newProcess(), newProcess()

	require.NoError(t, a.svc.RunCycle(context.Background(), scheduler.Cycle{ID: "a1", Number: 1}))
	require.NoError(t, b.svc.RunCycle(context.Background(), scheduler.Cycle{ID: "b1", Number: 1}))

	assert.Equal(t, 1, a.notifier.count())
	assert.Zero(t, b.notifier.count(), "a key recorded by another process must not notify again")

	snap, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}
