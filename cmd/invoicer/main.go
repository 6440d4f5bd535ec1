// Command invoicer creates the draft invoices of one billing month and
// optionally reconciles that month's drafts. It is meant for a monthly cron.
//
//	invoicer -previous -reconcile
//	invoicer -month 2024-03
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telecom-billing/internal/app"
	"telecom-billing/internal/config"
	"telecom-billing/internal/invoicing"
	"telecom-billing/internal/period"
	"telecom-billing/internal/usage"
	"telecom-billing/pkg/logger"
)

type options struct {
	month     string
	previous  bool
	reconcile bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("invoicer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&o.month, "month", "", "billing month YYYY-MM (default: current month)")
	fs.BoolVar(&o.previous, "previous", false, "bill the month before -month (or before the current month)")
	fs.BoolVar(&o.reconcile, "reconcile", false, "recompute the month's draft invoices after generation")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

// targetPeriod resolves the month to bill from the flags.
func targetPeriod(o options, r period.Resolver, now time.Time) (period.Period, error) {
	p := r.For(now)
	if o.month != "" {
		var err error
		if p, err = r.ParseMonth(o.month); err != nil {
			return period.Period{}, err
		}
	}
	if o.previous {
		p = p.Previous()
	}
	return p, nil
}

type output struct {
	Generation     invoicing.Report       `json:"generation"`
	Reconciliation *usage.ReconcileReport `json:"reconciliation,omitempty"`
}

// failed reports whether the run must exit non-zero.
func (o output) failed() bool {
	if len(o.Generation.Failures) > 0 {
		return true
	}
	return o.Reconciliation != nil && len(o.Reconciliation.Failures) > 0
}

type generator interface {
	GenerateForPeriod(ctx context.Context, ref time.Time) (invoicing.Report, error)
}

type reconciler interface {
	ReconcileDrafts(ctx context.Context, p period.Period) (usage.ReconcileReport, error)
}

func run(ctx context.Context, o options, p period.Period, gen generator, rec reconciler, w io.Writer) (output, error) {
	var out output
	report, err := gen.GenerateForPeriod(ctx, p.Start)
	if err != nil {
		return out, fmt.Errorf("generate %s: %w", p.Key(), err)
	}
	out.Generation = report

	if o.reconcile {
		rr, err := rec.ReconcileDrafts(ctx, p)
		if err != nil {
			return out, fmt.Errorf("reconcile %s: %w", p.Key(), err)
		}
		out.Reconciliation = &rr
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return out, enc.Encode(out)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "usage: invoicer [-month YYYY-MM] [-previous] [-reconcile]")
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(cfg.App.Env, os.Stderr).With("component", "invoicer")
	slog.SetDefault(log)
	ctx = logger.With(ctx, log)

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("app init failed", "err", err)
		os.Exit(1)
	}

	p, err := targetPeriod(opts, a.Periods, time.Now())
	if err != nil {
		log.Error("invalid month", "err", err)
		_ = a.Close()
		os.Exit(2)
	}

	out, err := run(ctx, opts, p, a.Generator, a.Usage, os.Stdout)
	_ = a.Close()
	if err != nil {
		log.Error("invoicer failed", "period", p.Key(), "err", err)
		os.Exit(1)
	}
	if out.failed() {
		log.Error("invoicer finished with failures", "period", p.Key(),
			"generation_failures", len(out.Generation.Failures))
		os.Exit(1)
	}
	log.Info("invoicer finished", "period", p.Key(),
		"invoices_created", len(out.Generation.Invoices), "lines_created", len(out.Generation.Lines))
}
