package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/cmd/meridian/cli"
	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/posting"
	"github.com/meridian-erp/meridian-erp/internal/sequence"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

const usageText = `meridian — ledger core admin

Usage:
  meridian vouchers  post|reverse [flags]
  meridian stock     plan|availability|movements [flags]
  meridian sequences configure|list [flags]
  meridian periods   create|close|reopen|list [flags]
  meridian company   lock|unlock|status [flags]
  meridian outbox    stats|requeue [flags]
  meridian jobs      trigger|stats|scheduled [args]

Run 'meridian <group> <command> -h' for command flags.
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	group, command, rest := args[0], args[1], args[2:]
	switch group {
	case "vouchers":
		return runVouchers(ctx, cfg, logger, command, rest)
	case "stock":
		return runStock(ctx, cfg, command, rest)
	case "sequences":
		return runSequences(ctx, cfg, logger, command, rest)
	case "periods":
		return runPeriods(ctx, cfg, logger, command, rest)
	case "company":
		return runCompany(ctx, cfg, command, rest)
	case "outbox":
		return runOutbox(ctx, cfg, command, rest)
	case "jobs":
		return runJobs(ctx, cfg, command, rest)
	default:
		fmt.Fprint(os.Stderr, usageText)
		return 2
	}
}

func openPool(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, db.Config{
		DSN:             cfg.PGDSN,
		MaxConns:        cfg.PGMaxConns,
		MinConns:        cfg.PGMinConns,
		ConnMaxLifetime: cfg.PGConnMaxLifetime,
	})
}

func runVouchers(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer func() { _ = jobsClient.Close() }()

	engine := posting.NewService(posting.NewRepository(pool), logger).
		WithNotifier(jobs.NewNotifier(jobsClient, logger))
	vcli := cli.NewVouchersCLI(engine)

	switch command {
	case "post":
		fs := flag.NewFlagSet("vouchers post", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		voucher := fs.Int64("voucher", 0, "draft voucher id")
		actor := fs.Int64("actor", 0, "acting user id")
		key := fs.String("key", "", "idempotency key (empty = none)")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return vcli.PostCommand(ctx, cli.VouchersPostOptions{
			CompanyID:      *company,
			VoucherID:      *voucher,
			ActorID:        *actor,
			IdempotencyKey: *key,
			JSONOutput:     *jsonOut,
		})
	case "reverse":
		fs := flag.NewFlagSet("vouchers reverse", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		voucher := fs.Int64("voucher", 0, "posted voucher id")
		actor := fs.Int64("actor", 0, "acting user id")
		reason := fs.String("reason", "", "reversal reason")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return vcli.ReverseCommand(ctx, cli.VouchersReverseOptions{
			CompanyID:  *company,
			VoucherID:  *voucher,
			ActorID:    *actor,
			Reason:     *reason,
			JSONOutput: *jsonOut,
		})
	default:
		fmt.Fprintf(os.Stderr, "meridian vouchers: unknown command %q\n", command)
		return 2
	}
}

func runStock(ctx context.Context, cfg *app.Config, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	stcli := cli.NewStockCLI(inventory.NewService(inventory.NewRepository(pool)))

	switch command {
	case "plan":
		fs := flag.NewFlagSet("stock plan", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		item := fs.Int64("item", 0, "item id")
		warehouse := fs.Int64("warehouse", 0, "warehouse id")
		qty := fs.String("qty", "", "quantity to allocate")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return stcli.PlanCommand(ctx, cli.StockPlanOptions{
			CompanyID:   *company,
			ItemID:      *item,
			WarehouseID: *warehouse,
			Qty:         *qty,
			JSONOutput:  *jsonOut,
		})
	case "availability":
		fs := flag.NewFlagSet("stock availability", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		item := fs.Int64("item", 0, "item id")
		warehouse := fs.Int64("warehouse", 0, "warehouse id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return stcli.AvailabilityCommand(ctx, cli.StockAvailabilityOptions{
			CompanyID:   *company,
			ItemID:      *item,
			WarehouseID: *warehouse,
			JSONOutput:  *jsonOut,
		})
	case "movements":
		fs := flag.NewFlagSet("stock movements", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		voucher := fs.Int64("voucher", 0, "voucher id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return stcli.MovementsCommand(ctx, cli.StockMovementsOptions{
			CompanyID:  *company,
			VoucherID:  *voucher,
			JSONOutput: *jsonOut,
		})
	default:
		fmt.Fprintf(os.Stderr, "meridian stock: unknown command %q\n", command)
		return 2
	}
}

func runSequences(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	scli := cli.NewSequencesCLI(sequence.NewService(sequence.NewRepository(pool), logger))

	switch command {
	case "configure":
		fs := flag.NewFlagSet("sequences configure", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		doctype := fs.Int64("doctype", 0, "document type id")
		period := fs.Int64("period", 0, "fiscal period id")
		prefix := fs.String("prefix", "", "document number prefix, e.g. JV-2025-")
		pad := fs.Int("pad", 6, "zero padding width")
		start := fs.Int64("start", 0, "last issued value; first number is start+1")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return scli.ConfigureCommand(ctx, cli.SequencesConfigureOptions{
			CompanyID:  *company,
			DocTypeID:  *doctype,
			PeriodID:   *period,
			Prefix:     *prefix,
			Pad:        *pad,
			Start:      *start,
			JSONOutput: *jsonOut,
		})
	case "list":
		fs := flag.NewFlagSet("sequences list", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return scli.ListCommand(ctx, cli.SequencesListOptions{CompanyID: *company, JSONOutput: *jsonOut})
	default:
		fmt.Fprintf(os.Stderr, "meridian sequences: unknown command %q\n", command)
		return 2
	}
}

func runPeriods(ctx context.Context, cfg *app.Config, logger *slog.Logger, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := periods.NewService(periods.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	pcli := cli.NewPeriodsCLI(svc)

	switch command {
	case "create":
		fs := flag.NewFlagSet("periods create", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		code := fs.String("code", "", "period code, e.g. 2025-06")
		start := fs.String("start", "", "start date (YYYY-MM-DD)")
		end := fs.String("end", "", "end date (YYYY-MM-DD)")
		actor := fs.Int64("actor", 0, "acting user id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return pcli.CreateCommand(ctx, cli.PeriodsCreateOptions{
			CompanyID:  *company,
			Code:       *code,
			Start:      *start,
			End:        *end,
			ActorID:    *actor,
			JSONOutput: *jsonOut,
		})
	case "close", "reopen":
		fs := flag.NewFlagSet("periods "+command, flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		period := fs.Int64("period", 0, "period id")
		actor := fs.Int64("actor", 0, "acting user id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		opts := cli.PeriodsTransitionOptions{
			CompanyID:  *company,
			PeriodID:   *period,
			ActorID:    *actor,
			JSONOutput: *jsonOut,
		}
		if command == "close" {
			return pcli.CloseCommand(ctx, opts)
		}
		return pcli.ReopenCommand(ctx, opts)
	case "list":
		fs := flag.NewFlagSet("periods list", flag.ExitOnError)
		company := fs.Int64("company", 0, "company id")
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return pcli.ListCommand(ctx, cli.PeriodsListOptions{CompanyID: *company, JSONOutput: *jsonOut})
	default:
		fmt.Fprintf(os.Stderr, "meridian periods: unknown command %q\n", command)
		return 2
	}
}

func runCompany(ctx context.Context, cfg *app.Config, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	ccli := cli.NewCompanyCLI(shared.NewCompanyLockAdmin(pool, shared.NewAuditLogger(pool)))

	fs := flag.NewFlagSet("company "+command, flag.ExitOnError)
	company := fs.Int64("company", 0, "company id")
	actor := fs.Int64("actor", 0, "acting user id")
	reason := fs.String("reason", "", "lock reason (required for lock)")
	jsonOut := fs.Bool("json", false, "JSON output")
	_ = fs.Parse(args)
	opts := cli.CompanyLockOptions{
		CompanyID:  *company,
		ActorID:    *actor,
		Reason:     *reason,
		JSONOutput: *jsonOut,
	}

	switch command {
	case "lock":
		return ccli.LockCommand(ctx, opts)
	case "unlock":
		return ccli.UnlockCommand(ctx, opts)
	case "status":
		return ccli.StatusCommand(ctx, opts)
	default:
		fmt.Fprintf(os.Stderr, "meridian company: unknown command %q\n", command)
		return 2
	}
}

func runOutbox(ctx context.Context, cfg *app.Config, command string, args []string) int {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian: %v\n", err)
		return 1
	}
	defer pool.Close()

	ocli := cli.NewOutboxCLI(outbox.NewStore(pool))

	switch command {
	case "stats":
		fs := flag.NewFlagSet("outbox stats", flag.ExitOnError)
		jsonOut := fs.Bool("json", false, "JSON output")
		_ = fs.Parse(args)
		return ocli.StatsCommand(ctx, cli.OutboxStatsOptions{JSONOutput: *jsonOut})
	case "requeue":
		fs := flag.NewFlagSet("outbox requeue", flag.ExitOnError)
		company := fs.Int64("company", 0, "restrict to one company (0 = all)")
		dead := fs.Bool("dead", false, "also requeue DEAD events")
		_ = fs.Parse(args)
		return ocli.RequeueCommand(ctx, cli.OutboxRequeueOptions{CompanyID: *company, IncludeDead: *dead})
	default:
		fmt.Fprintf(os.Stderr, "meridian outbox: unknown command %q\n", command)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, command string, args []string) int {
	jcli, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meridian jobs: %v\n", err)
		return 1
	}
	defer func() { _ = jcli.Close() }()

	switch command {
	case "trigger":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "meridian jobs trigger: job name required (outbox:dispatch, idempotency:cleanup)")
			return 2
		}
		info, err := jcli.Trigger(ctx, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "meridian jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", args[0], info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jcli.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meridian jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return 0
	case "scheduled":
		tasks, err := jcli.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "meridian jobs scheduled: %v\n", err)
			return 1
		}
		if len(tasks) == 0 {
			fmt.Println("no scheduled tasks")
			return 0
		}
		for _, t := range tasks {
			fmt.Printf("%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04:05"))
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "meridian jobs: unknown command %q\n", command)
		return 2
	}
}
