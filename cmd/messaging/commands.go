package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/config"
	"github.com/velmie/messaging/eventlog"
	"github.com/velmie/messaging/httpapi"
	"github.com/velmie/messaging/logging"
	"github.com/velmie/messaging/memory"
	"github.com/velmie/messaging/mysql"
	"github.com/velmie/messaging/postgres"
)

const defaultTail = 10

// boot builds a Manager over the configured backends with the developer event log attached.
func boot(ctx context.Context, env *environment) (*messaging.Manager, func(), error) {
	cfg, err := config.MessagingFromEnv(env.lookup)
	if err != nil {
		return nil, nil, err
	}
	events, err := eventlog.Open(cfg.StorageDir, messaging.SystemClock{})
	if err != nil {
		return nil, nil, err
	}
	comps, err := config.Build(ctx, cfg, nil)
	if err != nil {
		return nil, nil, err
	}
	manager, err := messaging.NewManager(comps.Transport, comps.Scheduler, messaging.WithEventLog(events))
	if err != nil {
		comps.Close()

		return nil, nil, err
	}

	return manager, comps.Close, nil
}

func runPublish(ctx context.Context, env *environment, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: messaging publish <topic> [json-payload]")
	}
	payload, err := parseObject(argOr(args, 1, "{}"))
	if err != nil {
		return err
	}

	manager, closeAll, err := boot(ctx, env)
	if err != nil {
		return err
	}
	defer closeAll()

	return manager.Publish(ctx, args[0], payload, nil)
}

func runSchedule(ctx context.Context, env *environment, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: messaging schedule <task> [run-at] [json-payload]")
	}
	runAt, err := parseRunAt(argOr(args, 1, "+1m"), time.Now())
	if err != nil {
		return err
	}
	payload, err := parseObject(argOr(args, 2, "{}"))
	if err != nil {
		return err
	}

	manager, closeAll, err := boot(ctx, env)
	if err != nil {
		return err
	}
	defer closeAll()

	if err := manager.Schedule(ctx, args[0], runAt, payload); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "scheduled %s at %s\n", args[0], runAt.UTC().Format(time.RFC3339))

	return nil
}

func runTail(_ context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	n := fs.Int("n", defaultTail, "Number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.MessagingFromEnv(env.lookup)
	if err != nil {
		return err
	}
	events, err := eventlog.Open(cfg.StorageDir, messaging.SystemClock{})
	if err != nil {
		return err
	}
	recent, err := events.Tail(*n)
	if err != nil {
		return err
	}

	return printJSON(env, recent)
}

func runDue(ctx context.Context, env *environment, _ []string) error {
	manager, closeAll, err := boot(ctx, env)
	if err != nil {
		return err
	}
	defer closeAll()

	jobs, err := manager.Due(ctx)
	if err != nil {
		return err
	}

	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, map[string]any{
			"id":      job.ID,
			"task":    job.Task,
			"run_at":  job.RunAt.UTC().Format(time.RFC3339),
			"payload": job.Payload,
		})
	}

	return printJSON(env, out)
}

func runServe(ctx context.Context, env *environment, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	addr := fs.String("addr", ":8080", "Listen address")
	driver := fs.String("inbox-driver", "memory", "Inbox store: memory, postgres or mysql")
	dsn := fs.String("inbox-dsn", "", "Inbox database DSN")
	verbose := fs.Bool("verbose", false, "Enable development logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	mode := logging.ProductionMode
	if *verbose {
		mode = logging.DevelopmentMode
	}
	zl, err := logging.NewZap(mode)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()
	logger := logging.Zap(zl)

	cfg, err := config.MessagingFromEnv(env.lookup)
	if err != nil {
		return err
	}
	comps, err := config.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	store, closeStore, err := openInbox(ctx, *driver, *dsn)
	if err != nil {
		return err
	}
	defer closeStore()

	srv, err := httpapi.New(store, comps.Transport, logger)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(ctx, *addr)
}

func openInbox(ctx context.Context, driver, dsn string) (messaging.InboxStore, func(), error) {
	switch driver {
	case "memory":
		return memory.NewInboxTable(messaging.SystemClock{}), func() {}, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		store, err := postgres.NewInbox(pool)
		if err != nil {
			pool.Close()

			return nil, nil, err
		}

		return store, pool.Close, nil
	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, err
		}
		store, err := mysql.NewInbox(db)
		if err != nil {
			_ = db.Close()

			return nil, nil, err
		}

		return store, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported inbox driver %q", driver)
	}
}

// parseRunAt accepts RFC3339 timestamps and offsets from now such as "+90s", "15m" or "2h".
func parseRunAt(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if at, err := time.Parse(time.RFC3339, value); err == nil {
		return at.UTC(), nil
	}
	d, err := time.ParseDuration(strings.TrimPrefix(value, "+"))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid run-at %q: use RFC3339 or a duration like +5m", value)
	}

	return now.Add(d).UTC(), nil
}

func parseObject(raw string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return nil, errors.New("payload must be a JSON object")
	}

	return out, nil
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}

	return fallback
}

func printJSON(env *environment, v any) error {
	enc := json.NewEncoder(env.stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
