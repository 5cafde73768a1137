package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/control"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/ledger"
	"flight-price-alerts/internal/model"
	"flight-price-alerts/internal/scheduler"
	"flight-price-alerts/internal/service"
	"flight-price-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	Stdin  io.Reader
	Stdout io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	}
}

func (a *App) newProvider() (fetcher.Provider, error) {
	if err := a.Config.ValidateProvider(); err != nil {
		return nil, err
	}
	cfg := a.Config.Amadeus
	return fetcher.NewAmadeus(fetcher.AmadeusOptions{
		BaseURL:      cfg.BaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		MaxOffers:    cfg.MaxOffers,
		Timeout:      cfg.RequestTimeout,
	}, a.Logger), nil
}

// newNotifier builds the configured channels; the first one decides delivery.
func (a *App) newNotifier() (alerting.Notifier, error) {
	var notifiers []alerting.Notifier
	for _, ch := range a.Config.Alerting.Channels {
		switch ch {
		case config.ChannelEmail:
			cfg := a.Config.Alerting.Email
			notifiers = append(notifiers, alerting.NewEmail(alerting.EmailOptions{
				Host:      cfg.Host,
				Port:      cfg.Port,
				Username:  cfg.Username,
				Password:  cfg.Password,
				From:      cfg.SenderAddress(),
				TLSPolicy: cfg.TLSPolicy,
				Timeout:   cfg.Timeout,
			}, a.Logger))
		case config.ChannelTelegram:
			cfg := a.Config.Alerting.Telegram
			notifiers = append(notifiers, alerting.NewTelegram(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
		case config.ChannelKafka:
			cfg := a.Config.Alerting.Kafka
			notifiers = append(notifiers, alerting.NewKafka(cfg.Brokers, cfg.Topic, cfg.WriteTimeout, a.Logger))
		default:
			return nil, fmt.Errorf("alerting channel %q is not supported", ch)
		}
	}
	if len(notifiers) == 0 {
		return nil, errors.New("no alerting channel configured")
	}
	return alerting.NewFanout(notifiers[0], notifiers[1:], a.Logger), nil
}

// openLedger selects the ledger backend. The locker is non-nil only for PostgreSQL.
func (a *App) openLedger(ctx context.Context) (*ledger.Ledger, storage.AdvisoryLocker, error) {
	var (
		backend ledger.Backend
		locker  storage.AdvisoryLocker
	)

	switch a.Config.Ledger.Backend {
	case config.LedgerFile:
		backend = storage.NewFile(a.Config.Ledger.Path)
	case config.LedgerSQLite:
		s, err := storage.NewSQLite(ctx, a.Config.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		backend = s
	case config.LedgerPostgres:
		pool, err := storage.NewPool(ctx, a.Config.Database)
		if err != nil {
			return nil, nil, err
		}
		pg, err := storage.NewPostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		backend = pg
		locker = pg
	case config.LedgerRedis:
		r, err := storage.NewRedis(ctx, a.Config.Redis)
		if err != nil {
			return nil, nil, err
		}
		backend = r
	default:
		return nil, nil, fmt.Errorf("ledger.backend %q is not supported", a.Config.Ledger.Backend)
	}

	a.Logger.Debug().Str("backend", a.Config.Ledger.Backend).Msg("alert ledger backend ready")
	return ledger.New(backend, a.Logger), locker, nil
}

// monitor bundles what a polling run needs.
type monitor struct {
	svc    *service.Service
	ledger *ledger.Ledger
	close  func()
}

func (a *App) newMonitor(provider fetcher.Provider, led *ledger.Ledger, locker storage.AdvisoryLocker) (*monitor, error) {
	routes, err := a.Config.MonitoredRoutes()
	if err != nil {
		return nil, err
	}
	set, err := model.NewRouteSet(routes)
	if err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}

	svc := service.New(set, provider, led, notifier, service.Options{
		Concurrency: a.Config.Scheduler.Concurrency,
		Locker:      locker,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	return &monitor{
		svc:    svc,
		ledger: led,
		close: func() {
			if c, ok := notifier.(io.Closer); ok {
				if err := c.Close(); err != nil {
					a.Logger.Warn().Err(err).Msg("close notifier")
				}
			}
			if err := led.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close alert ledger")
			}
		},
	}, nil
}

func (a *App) openMonitor(ctx context.Context) (*monitor, error) {
	provider, err := a.newProvider()
	if err != nil {
		return nil, err
	}
	led, locker, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	m, err := a.newMonitor(provider, led, locker)
	if err != nil {
		_ = led.Close()
		return nil, err
	}
	return m, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := a.openMonitor(ctx)
	if err != nil {
		return err
	}
	defer m.close()

	if err := m.ledger.Open(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("alert ledger not loaded; affected routes will fail until it is reachable")
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToInterval,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		MaxRuntime:     a.Config.Scheduler.MaxRuntime,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	a.startControl(ctx, sched, m.svc)

	a.Logger.Info().
		Int("routes", len(m.svc.Routes())).
		Dur("interval", a.Config.Scheduler.Interval).
		Str("ledger", a.Config.Ledger.Backend).
		Msg("starting monitoring service")

	err = sched.Run(ctx, m.svc)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) startControl(ctx context.Context, sched *scheduler.Scheduler, svc *service.Service) {
	if a.Config.Control.Stdin {
		go func() {
			if err := control.NewStdin(a.Stdin, a.Stdout, sched, a.Logger).Run(ctx); err != nil {
				a.Logger.Warn().Err(err).Msg("stdin command source ended")
			}
		}()
	}
	if addr := a.Config.Control.Listen; addr != "" {
		srv := control.NewServer(sched, svc, a.Logger)
		go func() {
			if err := srv.ListenAndServe(ctx, addr); err != nil {
				a.Logger.Error().Err(err).Str("addr", addr).Msg("control api stopped")
			}
		}()
	}
}
