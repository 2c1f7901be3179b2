package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/meridian-erp/meridian/internal/reconcile"
)

// ReconcileEngine is the slice of the reconciliation engine the CLI drives.
type ReconcileEngine interface {
	DuplicateSales(ctx context.Context, mode reconcile.Mode) (reconcile.DuplicateSalesSummary, error)
	NullLocations(ctx context.Context, mode reconcile.Mode) (reconcile.NullLocationSummary, error)
	CancelledOrders(ctx context.Context, mode reconcile.Mode) (reconcile.CancelledOrdersSummary, error)
	DuplicateRestorations(ctx context.Context, mode reconcile.Mode) (reconcile.DuplicateRestorationsSummary, error)
	RecalculateHistory(ctx context.Context, mode reconcile.Mode) (reconcile.RecalculateSummary, error)
}

// ReconcileCLI wraps the reconciliation routines for operator use.
type ReconcileCLI struct {
	engine ReconcileEngine
}

// NewReconcileCLI constructs the helper around a prepared engine.
func NewReconcileCLI(engine ReconcileEngine) (*ReconcileCLI, error) {
	if engine == nil {
		return nil, errors.New("reconcile cli: engine is required")
	}
	return &ReconcileCLI{engine: engine}, nil
}

// ReconcileOptions configures a single reconcile command execution.
type ReconcileOptions struct {
	DryRun     bool
	Yes        bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	Confirm    func(io.Reader, io.Writer) (bool, error)
}

func (o *ReconcileOptions) normalize() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Confirm == nil {
		o.Confirm = defaultReconcileConfirm
	}
}

func (o *ReconcileOptions) mode() reconcile.Mode {
	if o.DryRun {
		return reconcile.ModeDryRun
	}
	return reconcile.ModeApply
}

// confirmApply prompts unless --yes or dry-run. Returns false when the
// operator declined.
func (o *ReconcileOptions) confirmApply(name string) (bool, error) {
	if o.DryRun || o.Yes {
		return true, nil
	}
	fmt.Fprintf(o.Stdout, "%s will modify the movement ledger.\n", name)
	return o.Confirm(o.Stdin, o.Stdout)
}

func defaultReconcileConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}

// DuplicateSalesCommand removes duplicate sale movements per (order, variant).
func (c *ReconcileCLI) DuplicateSalesCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.normalize()
	ok, err := opts.confirmApply("reconcile-duplicate-sales")
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile-duplicate-sales: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "reconcile-duplicate-sales: cancelled by user")
		return 1
	}
	summary, err := c.engine.DuplicateSales(ctx, opts.mode())
	return c.report(opts, "reconcile-duplicate-sales", summary, err, func(out io.Writer) {
		fmt.Fprintf(out, "Duplicate sales (%s)\n", summary.Mode)
		fmt.Fprintf(out, "%d group(s), %d duplicate movement(s), %d affected variant(s)\n",
			summary.GroupCount, summary.DuplicateCount, summary.AffectedVariants)
		for _, entry := range summary.Entries {
			fmt.Fprintf(out, " - order %d variant %d keep %d delete %v\n",
				entry.OrderID, entry.ProductVariantID, entry.KeepID, entry.DeleteIDs)
		}
		if summary.Mode == reconcile.ModeApply {
			fmt.Fprintf(out, "Deleted %d movement(s), recomputed %d variant(s)\n",
				summary.Deleted, summary.RecomputedVariants)
		}
		reportStale(out, summary.StaleVariants)
	}, len(summary.StaleVariants) > 0)
}

// NullLocationsCommand assigns the default location to legacy movements.
func (c *ReconcileCLI) NullLocationsCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.normalize()
	ok, err := opts.confirmApply("reconcile-null-locations")
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile-null-locations: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "reconcile-null-locations: cancelled by user")
		return 1
	}
	summary, err := c.engine.NullLocations(ctx, opts.mode())
	return c.report(opts, "reconcile-null-locations", summary, err, func(out io.Writer) {
		fmt.Fprintf(out, "Null-location migration (%s)\n", summary.Mode)
		fmt.Fprintf(out, "%d movement(s) without location, %d fixed, %d failed\n",
			summary.Found, summary.Fixed, summary.Failed)
		if summary.DefaultLocationID != 0 {
			fmt.Fprintf(out, "Target location: %d\n", summary.DefaultLocationID)
		}
		reportFailures(out, summary.Failures, summary.FailureTotal)
	}, summary.Failed > 0)
}

// CancelledOrdersCommand deletes movement trails of cancelled orders.
func (c *ReconcileCLI) CancelledOrdersCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.normalize()
	ok, err := opts.confirmApply("reconcile-cancelled-orders")
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile-cancelled-orders: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "reconcile-cancelled-orders: cancelled by user")
		return 1
	}
	summary, err := c.engine.CancelledOrders(ctx, opts.mode())
	return c.report(opts, "reconcile-cancelled-orders", summary, err, func(out io.Writer) {
		fmt.Fprintf(out, "Cancelled-order cleanup (%s)\n", summary.Mode)
		fmt.Fprintf(out, "%d order(s) with residual movements\n", summary.OrderCount)
		if summary.Mode == reconcile.ModeApply {
			fmt.Fprintf(out, "Deleted %d movement(s) across %d variant(s), recomputed %d\n",
				summary.DeletedMovements, summary.AffectedVariants, summary.RecomputedVariants)
		}
		reportFailures(out, summary.Failures, summary.FailureTotal)
		reportStale(out, summary.StaleVariants)
	}, summary.FailureTotal > 0 || len(summary.StaleVariants) > 0)
}

// DuplicateRestorationsCommand removes doubled cancellation/return pairs.
func (c *ReconcileCLI) DuplicateRestorationsCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.normalize()
	ok, err := opts.confirmApply("reconcile-duplicate-restorations")
	if err != nil {
		fmt.Fprintf(opts.Stderr, "reconcile-duplicate-restorations: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "reconcile-duplicate-restorations: cancelled by user")
		return 1
	}
	summary, err := c.engine.DuplicateRestorations(ctx, opts.mode())
	return c.report(opts, "reconcile-duplicate-restorations", summary, err, func(out io.Writer) {
		fmt.Fprintf(out, "Duplicate restorations (%s, policy %s)\n", summary.Mode, summary.Policy)
		fmt.Fprintf(out, "%d pair(s) found\n", summary.PairCount)
		for _, entry := range summary.Entries {
			fmt.Fprintf(out, " - order %d variant %d keep %d delete %d\n",
				entry.OrderID, entry.ProductVariantID, entry.KeepID, entry.DeleteID)
		}
		if summary.Mode == reconcile.ModeApply {
			fmt.Fprintf(out, "Deleted %d movement(s), recomputed %d variant(s)\n",
				summary.Deleted, summary.RecomputedVariants)
		}
		reportFailures(out, summary.Failures, summary.FailureTotal)
		reportStale(out, summary.StaleVariants)
	}, summary.FailureTotal > 0 || len(summary.StaleVariants) > 0)
}

// RecalculateCommand replays every stock scope and repairs drifted snapshots.
func (c *ReconcileCLI) RecalculateCommand(ctx context.Context, opts ReconcileOptions) int {
	opts.normalize()
	ok, err := opts.confirmApply("recalculate-history")
	if err != nil {
		fmt.Fprintf(opts.Stderr, "recalculate-history: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "recalculate-history: cancelled by user")
		return 1
	}
	summary, err := c.engine.RecalculateHistory(ctx, opts.mode())
	return c.report(opts, "recalculate-history", summary, err, func(out io.Writer) {
		fmt.Fprintf(out, "History recalculation (%s)\n", summary.Mode)
		fmt.Fprintf(out, "%d scope(s) replayed, %d corrected, %d movement snapshot(s) fixed, %d already correct\n",
			summary.Scopes, summary.ScopesCorrected, summary.Corrected, summary.AlreadyCorrect)
		reportFailures(out, summary.Failures, summary.FailureTotal)
	}, summary.FailureTotal > 0)
}

// report renders the summary and maps the outcome to an exit code. Partial
// failures exit 10 so wrappers can distinguish them from hard errors.
func (c *ReconcileCLI) report(opts ReconcileOptions, name string, summary any, err error, human func(io.Writer), partial bool) int {
	if err != nil && !errors.Is(err, reconcile.ErrProjectionStale) {
		fmt.Fprintf(opts.Stderr, "%s: %v\n", name, err)
		return 1
	}
	if opts.JSONOutput {
		if encodeErr := json.NewEncoder(opts.Stdout).Encode(summary); encodeErr != nil {
			fmt.Fprintf(opts.Stderr, "%s: %v\n", name, encodeErr)
			return 1
		}
	} else {
		human(opts.Stdout)
	}
	if err != nil || partial {
		return 10
	}
	return 0
}

func reportFailures(out io.Writer, failures []reconcile.ItemFailure, total int) {
	if total == 0 {
		return
	}
	fmt.Fprintf(out, "%d item(s) failed:\n", total)
	for _, failure := range failures {
		switch {
		case failure.MovementID != 0:
			fmt.Fprintf(out, " - movement %d: %s\n", failure.MovementID, failure.Cause)
		case failure.OrderID != 0:
			fmt.Fprintf(out, " - order %d: %s\n", failure.OrderID, failure.Cause)
		default:
			fmt.Fprintf(out, " - variant %d: %s\n", failure.VariantID, failure.Cause)
		}
	}
	if total > len(failures) {
		fmt.Fprintf(out, "   (%d more not shown)\n", total-len(failures))
	}
}

func reportStale(out io.Writer, variants []int64) {
	if len(variants) == 0 {
		return
	}
	fmt.Fprintf(out, "Projections stale for variant(s) %v, run recalculate-history\n", variants)
}
