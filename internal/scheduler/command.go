package scheduler

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CommandKind enumerates the operator commands the loop understands.
type CommandKind int

const (
	CommandStop CommandKind = iota + 1
	CommandRecheck
	CommandSetThreshold
)

func (k CommandKind) String() string {
	switch k {
	case CommandStop:
		return "stop"
	case CommandRecheck:
		return "recheck"
	case CommandSetThreshold:
		return "threshold"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is delivered through Scheduler.Submit.
type Command struct {
	Kind      CommandKind
	RouteID   string
	Threshold decimal.Decimal

	reply chan<- error
}

// Stop ends the loop after the current wait.
func Stop() Command { return Command{Kind: CommandStop} }

// Recheck runs a cycle immediately and restarts the interval.
func Recheck() Command { return Command{Kind: CommandRecheck} }

// SetThreshold changes the threshold of one route for subsequent cycles.
func SetThreshold(routeID string, threshold decimal.Decimal) Command {
	return Command{Kind: CommandSetThreshold, RouteID: routeID, Threshold: threshold}
}

func (c Command) respond(err error) {
	if c.reply != nil {
		c.reply <- err
	}
}
