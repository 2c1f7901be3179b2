package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/reconcile"
	"github.com/meridian-erp/meridian/internal/shared"
)

const usage = `Usage: meridian <command> [flags]

Commands:
  reconcile-duplicate-sales         remove duplicate sale movements
  reconcile-null-locations          assign the default location to legacy movements
  reconcile-cancelled-orders        delete movement trails of cancelled orders
  reconcile-duplicate-restorations  remove doubled cancellation/return pairs
  recalculate-history               replay all scopes and repair snapshots
  sweep                             enqueue an integrity sweep job

Flags:
  --dry-run   preview without modifying the ledger
  --yes       skip the confirmation prompt
  --json      machine-readable summary on stdout
`

// IsCommand reports whether name is a CLI subcommand.
func IsCommand(name string) bool {
	switch name {
	case "reconcile-duplicate-sales", "reconcile-null-locations",
		"reconcile-cancelled-orders", "reconcile-duplicate-restorations",
		"recalculate-history", "sweep":
		return true
	}
	return false
}

// Run parses args and executes the matching subcommand. It returns the
// process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	name := args[0]
	if !IsCommand(name) {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		fmt.Fprint(stderr, usage)
		return 1
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	dryRun := fs.Bool("dry-run", false, "preview without modifying the ledger")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	jsonOut := fs.Bool("json", false, "machine-readable summary on stdout")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "%s: load config: %v\n", name, err)
		return 1
	}
	logger := app.NewLogger(cfg)

	if name == "sweep" {
		jobsCLI, err := NewJobsCLI(cfg.RedisAddr)
		if err != nil {
			fmt.Fprintf(stderr, "sweep: %v\n", err)
			return 1
		}
		defer func() { _ = jobsCLI.Close() }()
		info, err := jobsCLI.TriggerIntegritySweep(ctx, *dryRun)
		if err != nil {
			fmt.Fprintf(stderr, "sweep: enqueue failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued integrity sweep task %s\n", info.ID)
		return 0
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		fmt.Fprintf(stderr, "%s: connect postgres: %v\n", name, err)
		return 1
	}
	defer pool.Close()

	policy, err := cfg.ParseRestorationPolicy()
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}

	engine := reconcile.NewEngine(
		reconcile.NewRepository(pool),
		shared.NewAuditLogger(pool),
		observability.NewMetrics(),
		logger,
		reconcile.EngineConfig{Policy: policy},
	)
	cli, err := NewReconcileCLI(engine)
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}

	opts := ReconcileOptions{
		DryRun:     *dryRun,
		Yes:        *yes,
		JSONOutput: *jsonOut,
		Stdout:     stdout,
		Stderr:     stderr,
		Stdin:      os.Stdin,
	}
	switch name {
	case "reconcile-duplicate-sales":
		return cli.DuplicateSalesCommand(ctx, opts)
	case "reconcile-null-locations":
		return cli.NullLocationsCommand(ctx, opts)
	case "reconcile-cancelled-orders":
		return cli.CancelledOrdersCommand(ctx, opts)
	case "reconcile-duplicate-restorations":
		return cli.DuplicateRestorationsCommand(ctx, opts)
	case "recalculate-history":
		return cli.RecalculateCommand(ctx, opts)
	}
	return 1
}
