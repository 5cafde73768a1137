package alerting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Fanout delivers through a primary channel and mirrors the alert to the rest.
// Only the primary decides whether the alert counts as sent; mirrors are attempted
// after the primary succeeded and their failures are logged.
type Fanout struct {
	primary Notifier
	mirrors []Notifier
	logger  zerolog.Logger
}

// NewFanout returns primary unchanged when there are no mirrors.
func NewFanout(primary Notifier, mirrors []Notifier, logger zerolog.Logger) Notifier {
	if len(mirrors) == 0 {
		return primary
	}
	return &Fanout{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.With().Str("component", "alert_fanout").Logger(),
	}
}

func (f *Fanout) Name() string { return f.primary.Name() }

func (f *Fanout) Send(ctx context.Context, msg Message) error {
	if err := f.primary.Send(ctx, msg); err != nil {
		return err
	}
	for _, m := range f.mirrors {
		if err := m.Send(ctx, msg); err != nil {
			f.logger.Warn().Err(err).Str("channel", m.Name()).Str("key", msg.Alert.Key).Msg("mirror delivery failed")
		}
	}
	return nil
}

// Close closes every channel that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, n := range append([]Notifier{f.primary}, f.mirrors...) {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Fanout)(nil)
