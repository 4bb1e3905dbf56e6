// Command outbox-cleanup removes sent outbox rows and processed inbox rows older than a retention window.
//
// It wraps postgres.CleanupMaintainer and mysql.CleanupMaintainer for use in cron jobs when the
// application itself should not run DELETE statements.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/logging"
	"github.com/velmie/messaging/mysql"
	"github.com/velmie/messaging/postgres"
)

const exitUsage = 2

type options struct {
	driver     string
	dsn        string
	tables     string
	inboxTable string
	retention  time.Duration
	checkEvery time.Duration
	limit      int
	lockName   string
	once       bool
	verbose    bool
}

// maintainer hides the driver-specific result types.
type maintainer interface {
	Run(ctx context.Context) error
	ensure(ctx context.Context) (outbox, inbox int64, err error)
}

type pgMaintainer struct{ *postgres.CleanupMaintainer }

func (m pgMaintainer) ensure(ctx context.Context) (int64, int64, error) {
	res, err := m.Ensure(ctx)

	return res.Outbox, res.Inbox, err
}

type mysqlMaintainer struct{ *mysql.CleanupMaintainer }

func (m mysqlMaintainer) ensure(ctx context.Context) (int64, int64, error) {
	res, err := m.Ensure(ctx)

	return res.Outbox, res.Inbox, err
}

func main() {
	var opts options

	flag.StringVar(&opts.driver, "driver", "postgres", "Database driver: postgres or mysql")
	flag.StringVar(&opts.dsn, "dsn", "", "Database DSN (MySQL DSNs need parseTime=true&loc=UTC)")
	flag.StringVar(&opts.tables, "tables", "event_outbox,webhook_outbox", "Comma separated outbox tables")
	flag.StringVar(&opts.inboxTable, "inbox-table", "", "Inbox table to prune (empty skips the inbox)")
	flag.DurationVar(&opts.retention, "retention", 0, "Delete rows older than this duration")
	flag.DurationVar(&opts.checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flag.IntVar(&opts.limit, "limit", 0, "Max rows deleted per table and run (0 uses default)")
	flag.StringVar(&opts.lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&opts.once, "once", false, "Run once and exit")
	flag.BoolVar(&opts.verbose, "verbose", false, "Enable development logging")
	flag.Parse()

	if opts.dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}
	if opts.driver != "postgres" && opts.driver != "mysql" {
		fmt.Fprintf(os.Stderr, "unsupported driver %q\n", opts.driver)
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(opts); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(opts options) error {
	mode := logging.ProductionMode
	if opts.verbose {
		mode = logging.DevelopmentMode
	}
	zl, err := logging.NewZap(mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := logging.Zap(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, closeDB, err := open(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if opts.once {
		outbox, inbox, err := m.ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup done", "outbox", outbox, "inbox", inbox)

		return nil
	}

	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}

func open(ctx context.Context, opts options, logger messaging.Logger) (maintainer, func(), error) {
	tables := splitList(opts.tables)

	switch opts.driver {
	case "mysql":
		db, err := sql.Open("mysql", opts.dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open db: %w", err)
		}
		m, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
			OutboxTables: tables,
			InboxTable:   opts.inboxTable,
			Retention:    opts.retention,
			CheckEvery:   opts.checkEvery,
			Limit:        opts.limit,
			LockName:     opts.lockName,
			Logger:       logger,
		})
		if err != nil {
			_ = db.Close()

			return nil, nil, fmt.Errorf("init maintainer: %w", err)
		}

		return mysqlMaintainer{m}, func() { _ = db.Close() }, nil
	default:
		pool, err := postgres.Connect(ctx, opts.dsn)
		if err != nil {
			return nil, nil, err
		}
		m, err := postgres.NewCleanupMaintainer(pool, postgres.CleanupMaintainerConfig{
			OutboxTables: tables,
			InboxTable:   opts.inboxTable,
			Retention:    opts.retention,
			CheckEvery:   opts.checkEvery,
			Limit:        opts.limit,
			LockName:     opts.lockName,
			Logger:       logger,
		})
		if err != nil {
			pool.Close()

			return nil, nil, fmt.Errorf("init maintainer: %w", err)
		}

		return pgMaintainer{m}, pool.Close, nil
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
