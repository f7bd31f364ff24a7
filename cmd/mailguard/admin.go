package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Strob0t/MailGuard/internal/adapter/postgres"
	"github.com/Strob0t/MailGuard/internal/config"
	"github.com/Strob0t/MailGuard/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "rollback":
		return runAdminRollback(args[1:])
	case "pending":
		return runAdminPending(args[1:])
	case "sweep":
		return runAdminSweep(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: mailguard admin <command> [options]

Commands:
  migrate    Apply pending database migrations and print the version
  rollback   Roll back database migrations
  pending    List approvals waiting for a reviewer
  sweep      Expire approvals whose deadline has passed
  help       Show this help message

Examples:
  mailguard admin migrate
  mailguard admin rollback --steps 2
  mailguard admin pending
  mailguard admin sweep
`)
}

func loadAdminConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("admin commands need a postgres dsn")
	}
	return cfg, nil
}

// loadAdminGate opens the store and returns an approval gate over it. The
// returned cleanup flushes audit records and closes the pool.
func loadAdminGate(ctx context.Context) (*service.ApprovalGate, func(), error) {
	cfg, err := loadAdminConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	store := postgres.NewStore(pool)
	auditor := service.NewAuditRecorder(store, nil, nil, cfg.Audit.QueueSize, 1)
	gate := service.NewApprovalGate(store, nil, nil, auditor)

	cleanup := func() {
		auditor.Close()
		pool.Close()
	}
	return gate, cleanup, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Migrations applied, schema version %d\n", v)
	return nil
}

func runAdminRollback(args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return fmt.Errorf("--steps must be at least 1")
	}
	cfg, err := loadAdminConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s), schema version %d\n", *steps, v)
	return nil
}

func runAdminPending(args []string) error {
	fs := flag.NewFlagSet("pending", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	gate, cleanup, err := loadAdminGate(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	pending, err := gate.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(pending) == 0 {
		fmt.Println("No pending approvals.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ACTION\tVERDICT\tTYPE\tEXPIRES_IN\tREASONING")
	now := time.Now()
	for i := range pending {
		p := &pending[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ActionID, p.VerdictID, p.ActionType, p.ExpiresAt.Sub(now).Round(time.Minute), p.Reasoning)
	}
	return w.Flush()
}

func runAdminSweep(args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	gate, cleanup, err := loadAdminGate(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := gate.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Expired %d approval(s)\n", n)
	return nil
}
