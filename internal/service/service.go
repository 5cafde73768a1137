package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/ledger"
	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/scheduler"
	"flight-price-alerts/internal/storage"
)

// Options tune cycle execution.
type Options struct {
	// Concurrency bounds how many routes are processed in parallel; <=1 is sequential.
	Concurrency int
	// Locker and LockKey serialise cycles across processes sharing one ledger.
	Locker  storage.AdvisoryLocker
	LockKey int64
}

// Service evaluates monitored routes and sends alerts.
type Service struct {
	routes   *model.RouteSet
	provider fetcher.Provider
	ledger   *ledger.Ledger
	notifier alerting.Notifier
	logger   zerolog.Logger

	concurrency int
	locker      storage.AdvisoryLocker
	lockKey     int64
}

// Result is the outcome of processing one route.
type Result struct {
	RouteID string
	Outcome Outcome
	Key     ledger.Key
	Quote   *model.Quote
	Err     error
}

// New constructs the monitoring service.
func New(routes *model.RouteSet, provider fetcher.Provider, led *ledger.Ledger, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Service {
	return &Service{
		routes:      routes,
		provider:    provider,
		ledger:      led,
		notifier:    notifier,
		logger:      logger.With().Str("component", "service").Logger(),
		concurrency: opts.Concurrency,
		locker:      opts.Locker,
		lockKey:     opts.LockKey,
	}
}

// Routes returns the monitored routes with their current thresholds.
func (s *Service) Routes() []model.Route {
	return s.routes.Snapshot()
}

// SetThreshold changes a route threshold for subsequent cycles.
func (s *Service) SetThreshold(routeID string, threshold decimal.Decimal) error {
	return s.routes.SetThreshold(routeID, threshold)
}

// RunCycle processes every route once. Route failures are joined into the returned
// error; they do not stop the remaining routes.
func (s *Service) RunCycle(ctx context.Context, cycle scheduler.Cycle) error {
	_, err := s.runCycle(ctx, cycle)
	return err
}

// CheckOnce runs a single cycle outside the scheduler and reports each route.
func (s *Service) CheckOnce(ctx context.Context) ([]Result, error) {
	return s.runCycle(ctx, scheduler.Cycle{ID: uuid.NewString(), Number: 1, Started: time.Now().UTC()})
}

func (s *Service) runCycle(ctx context.Context, cycle scheduler.Cycle) ([]Result, error) {
	log := s.logger.With().Str("cycle_id", cycle.ID).Logger()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		log.Info().Msg("skip cycle because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	// Other processes may have recorded alerts since the last cycle.
	if err := s.ledger.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("ledger refresh failed")
	}

	routes := s.routes.Snapshot()
	results := make([]Result, len(routes))

	if s.concurrency <= 1 {
		for i, route := range routes {
			if err := ctx.Err(); err != nil {
				results[i] = Result{RouteID: route.ID, Err: err}
				continue
			}
			results[i] = s.processRoute(ctx, route, cycle.MarkNotifying, log)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for i, route := range routes {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					results[i] = Result{RouteID: route.ID, Err: err}
					return nil
				}
				results[i] = s.processRoute(ctx, route, cycle.MarkNotifying, log)
				return nil
			})
		}
		_ = g.Wait()
	}

	counts := make(map[Outcome]int)
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", r.RouteID, r.Err))
			continue
		}
		counts[r.Outcome]++
	}
	log.Info().
		Int("routes", len(routes)).
		Int("notified", counts[Notify]).
		Int("already_notified", counts[AlreadyNotified]).
		Int("above_threshold", counts[ThresholdNotMet]).
		Int("no_offers", counts[NoOffers]).
		Int("failed", len(errs)).
		Msg("cycle summary")

	return results, errors.Join(errs...)
}

// ProcessRoute prices one route and notifies when the price qualifies.
func (s *Service) ProcessRoute(ctx context.Context, route model.Route) (Result, error) {
	res := s.processRoute(ctx, route, nil, s.logger)
	return res, res.Err
}

func (s *Service) processRoute(ctx context.Context, route model.Route, onNotify func(), logger zerolog.Logger) Result {
	log := logger.With().Str("route", route.ID).Logger()
	res := Result{RouteID: route.ID}

	quote, err := s.provider.Quote(ctx, fetcher.RequestFor(route))
	if err != nil {
		log.Error().Err(err).Msg("price lookup failed")
		res.Err = err
		return res
	}
	res.Quote = quote
	if quote == nil {
		res.Outcome = NoOffers
		log.Info().Str("date", route.Date()).Msg("no offers found")
		return res
	}

	res.Key = ledger.DeriveKey(route.Recipient, route.Origin, route.Destination, route.Date(), quote.PriceString())
	log = log.With().Str("price", quote.PriceString()).Str("threshold", route.Threshold.String()).Logger()

	// Once a message is handed to the notifier the outcome must be recorded, so the
	// critical section ignores cancellation of the cycle.
	delivered := false
	err = s.ledger.Guard(context.WithoutCancel(ctx), res.Key, func(sent bool) (bool, error) {
		outcome, err := Evaluate(quote, route, sent)
		if err != nil {
			return false, err
		}
		res.Outcome = outcome
		if outcome != Notify {
			return false, nil
		}

		if onNotify != nil {
			onNotify()
		}
		msg, err := alerting.Compose(route, *quote, string(res.Key))
		if err != nil {
			return false, fmt.Errorf("%w: %w", alerting.ErrNotify, err)
		}
		if err := s.notifier.Send(context.WithoutCancel(ctx), msg); err != nil {
			return false, err
		}
		delivered = true
		return true, nil
	})
	if err != nil {
		switch {
		case delivered:
			log.Error().Err(err).Str("key", string(res.Key)).Msg("alert sent but could not be recorded")
		case errors.Is(err, alerting.ErrNotify):
			log.Error().Err(err).Msg("failed to dispatch alert, will retry next cycle")
		default:
			log.Error().Err(err).Msg("route evaluation failed")
		}
		res.Outcome = 0
		res.Err = err
		return res
	}

	switch res.Outcome {
	case Notify:
		log.Info().Str("recipient", route.Recipient).Msg("alert sent")
	case AlreadyNotified:
		log.Info().Msg("already notified for this price")
	case ThresholdNotMet:
		log.Info().Msg("price above threshold")
	}
	return res
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

var _ scheduler.Handler = (*Service)(nil)
