package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flight-price-alerts/internal/scheduler"
)

// ErrUnknownCommand is returned by ParseCommand for unrecognised input.
var ErrUnknownCommand = errors.New("unknown command")

const stdinHelp = "commands: stop | recheck | threshold <route-id> <price>"

// ParseCommand turns one operator line into a scheduler command.
// The short forms s, r and c are accepted as well.
func ParseCommand(line string) (scheduler.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return scheduler.Command{}, fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}

	switch strings.ToLower(fields[0]) {
	case "stop", "s", "quit", "exit":
		if len(fields) != 1 {
			return scheduler.Command{}, fmt.Errorf("stop takes no arguments")
		}
		return scheduler.Stop(), nil
	case "recheck", "r":
		if len(fields) != 1 {
			return scheduler.Command{}, fmt.Errorf("recheck takes no arguments")
		}
		return scheduler.Recheck(), nil
	case "threshold", "c":
		if len(fields) != 3 {
			return scheduler.Command{}, fmt.Errorf("usage: threshold <route-id> <price>")
		}
		value, err := decimal.NewFromString(fields[2])
		if err != nil {
			return scheduler.Command{}, fmt.Errorf("invalid threshold %q: %w", fields[2], err)
		}
		return scheduler.SetThreshold(fields[1], value), nil
	default:
		return scheduler.Command{}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
}

// Stdin reads operator commands line by line.
type Stdin struct {
	in     io.Reader
	out    io.Writer
	sched  Scheduler
	logger zerolog.Logger
}

// NewStdin constructs a line-oriented command source.
func NewStdin(in io.Reader, out io.Writer, sched Scheduler, logger zerolog.Logger) *Stdin {
	return &Stdin{
		in:     in,
		out:    out,
		sched:  sched,
		logger: logger.With().Str("component", "control_stdin").Logger(),
	}
}

// Run returns after a successful stop, when the scheduler has exited, or at end of input.
// End of input does not stop the scheduler.
func (s *Stdin) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, stdinHelp)

	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "help") {
			fmt.Fprintln(s.out, stdinHelp)
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			continue
		}

		err = s.sched.Submit(ctx, cmd)
		switch {
		case errors.Is(err, scheduler.ErrStopped), errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			s.logger.Warn().Err(err).Stringer("command", cmd.Kind).Msg("command rejected")
			fmt.Fprintf(s.out, "error: %v\n", err)
		default:
			fmt.Fprintf(s.out, "ok: %s\n", cmd.Kind)
			if cmd.Kind == scheduler.CommandStop {
				return nil
			}
		}
	}
	return scanner.Err()
}
