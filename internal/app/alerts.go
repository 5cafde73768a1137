package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"flight-price-alerts/internal/ledger"
)

// Output formats for ListAlerts.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// AlertsOptions configure the alerts list command.
type AlertsOptions struct {
	Format    string
	Recipient string
}

// PruneOptions configure the alerts prune command.
type PruneOptions struct {
	Before time.Time
	DryRun bool
}

// AlertEntry is one ledger key in its decoded form.
type AlertEntry struct {
	Key         string `json:"key" yaml:"key"`
	Recipient   string `json:"recipient,omitempty" yaml:"recipient,omitempty"`
	Origin      string `json:"origin,omitempty" yaml:"origin,omitempty"`
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
	Date        string `json:"date,omitempty" yaml:"date,omitempty"`
	Price       string `json:"price,omitempty" yaml:"price,omitempty"`
}

func entryFor(k ledger.Key) AlertEntry {
	e := AlertEntry{Key: string(k)}
	parts, err := ledger.ParseKey(k)
	if err != nil {
		return e
	}
	e.Recipient = parts.Recipient
	e.Origin = parts.Origin
	e.Destination = parts.Destination
	e.Date = parts.Date
	e.Price = parts.Price
	return e
}

func (a *App) loadLedger(ctx context.Context) (*ledger.Ledger, error) {
	led, _, err := a.openLedger(ctx)
	if err != nil {
		return nil, err
	}
	if err := led.Open(ctx); err != nil {
		_ = led.Close()
		return nil, err
	}
	return led, nil
}

// ListAlerts prints the alerts already sent.
func (a *App) ListAlerts(ctx context.Context, opts AlertsOptions) error {
	led, err := a.loadLedger(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	keys, err := led.Entries(ctx)
	if err != nil {
		return err
	}

	entries := make([]AlertEntry, 0, len(keys))
	recipient := strings.ToLower(strings.TrimSpace(opts.Recipient))
	for _, k := range keys {
		e := entryFor(k)
		if recipient != "" && e.Recipient != recipient {
			continue
		}
		entries = append(entries, e)
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(a.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(a.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable, "":
	default:
		return fmt.Errorf("unsupported format %q (want table, json or yaml)", opts.Format)
	}

	if len(entries) == 0 {
		fmt.Fprintln(a.Stdout, "no alerts recorded")
		return nil
	}

	writer := tabwriter.NewWriter(a.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Recipient\tRoute\tDate\tPrice")
	for _, e := range entries {
		if e.Origin == "" {
			fmt.Fprintf(writer, "%s\t\t\t\n", sanitizeInline(e.Key))
			continue
		}
		fmt.Fprintf(writer, "%s\t%s → %s\t%s\t%s\n", e.Recipient, e.Origin, e.Destination, e.Date, e.Price)
	}
	writer.Flush()
	return nil
}

// PruneAlerts removes ledger entries for departures before opts.Before.
func (a *App) PruneAlerts(ctx context.Context, opts PruneOptions) error {
	led, err := a.loadLedger(ctx)
	if err != nil {
		return err
	}
	defer led.Close()

	cutoff := opts.Before.UTC()
	if opts.DryRun {
		keys, err := led.Entries(ctx)
		if err != nil {
			return err
		}
		n := 0
		for _, k := range keys {
			parts, err := ledger.ParseKey(k)
			if err != nil {
				continue
			}
			if day, err := parts.DepartureDate(); err == nil && day.Before(cutoff) {
				n++
			}
		}
		a.Logger.Warn().Msg("prune dry-run：不会写入账本")
		fmt.Fprintf(a.Stdout, "%d of %d alerts would be pruned\n", n, len(keys))
		return nil
	}

	removed, err := led.Prune(ctx, cutoff)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Stdout, "pruned %d alerts\n", removed)
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
