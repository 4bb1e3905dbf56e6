// Command outbox-worker delivers event and webhook outbox rows.
//
// Worker tuning comes from MESSAGING_EVENT_OUTBOX_* and MESSAGING_WEBHOOK_OUTBOX_*. Process settings
// (database, seal key, pool size) come from MESSAGING_*; an optional .env file is loaded first.
// Event rows are published on the transport selected by the messaging config (see config.LoadMessaging).
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
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/config"
	"github.com/velmie/messaging/logging"
	"github.com/velmie/messaging/mysql"
	"github.com/velmie/messaging/otelmetrics"
	"github.com/velmie/messaging/postgres"
	"github.com/velmie/messaging/seal"
	"github.com/velmie/messaging/webhook"
)

const exitUsage = 2

type processConfig struct {
	Driver       string        `envconfig:"DB_DRIVER" default:"postgres"`
	DSN          string        `envconfig:"DB_DSN"`
	SealKey      string        `envconfig:"SEAL_KEY"`
	Workers      int           `envconfig:"WORKERS" default:"1"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	LogMode      string        `envconfig:"LOG_MODE" default:"production"`
}

type job struct {
	worker *messaging.Worker
	opts   []messaging.Option
}

type stores struct {
	event   messaging.OutboxStore
	webhook messaging.OutboxStore
	close   func()
}

func main() {
	var (
		kind    string
		envFile string
		once    bool
	)
	flag.StringVar(&kind, "kind", "all", "Which outbox to drain: event, webhook or all")
	flag.StringVar(&envFile, "env-file", ".env", "Optional .env file")
	flag.BoolVar(&once, "once", false, "Run a single pass and exit")
	flag.Parse()

	if kind != "event" && kind != "webhook" && kind != "all" {
		fmt.Fprintf(os.Stderr, "unsupported kind %q\n", kind)
		flag.Usage()
		os.Exit(exitUsage)
	}

	if _, err := config.LoadDotEnv(envFile); err != nil {
		log.Print(err)
		os.Exit(1)
	}

	if err := run(kind, once); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(kind string, once bool) error {
	var pc processConfig
	if err := envconfig.Process("MESSAGING", &pc); err != nil {
		return fmt.Errorf("process config: %w", err)
	}
	if pc.DSN == "" {
		return errors.New("MESSAGING_DB_DSN is required")
	}

	zl, err := logging.NewZap(pc.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := logging.Zap(zl)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, pc)
	if err != nil {
		return err
	}
	defer st.close()

	shared := []messaging.Option{
		messaging.WithLogger(logger),
		messaging.WithWorkers(pc.Workers),
		messaging.WithPollInterval(pc.PollInterval),
	}
	if pc.SealKey != "" {
		box, err := seal.NewFromBase64(pc.SealKey)
		if err != nil {
			return err
		}
		shared = append(shared, messaging.WithDecrypter(box))
	}

	var jobs []job
	if kind == "event" || kind == "all" {
		j, closeTransport, err := eventWorker(ctx, st.event, logger, shared)
		if err != nil {
			return err
		}
		defer closeTransport()
		jobs = append(jobs, j)
	}
	if kind == "webhook" || kind == "all" {
		j, err := webhookWorker(st.webhook, shared)
		if err != nil {
			return err
		}
		jobs = append(jobs, j)
	}

	if once {
		for _, j := range jobs {
			w := j.worker
			res, err := w.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", w.Name(), err)
			}
			logger.Info("pass done", "worker", w.Name(),
				"processed", res.Processed, "sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped)
		}

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range jobs {
		runner := messaging.NewRunner(j.worker, j.opts...)
		name := j.worker.Name()
		g.Go(func() error {
			logger.Info("worker started", "worker", name)

			return runner.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func eventWorker(ctx context.Context, store messaging.OutboxStore, logger messaging.Logger, shared []messaging.Option) (job, func(), error) {
	cfg, err := config.LoadEventOutbox()
	if err != nil {
		return job{}, nil, err
	}
	mcfg, err := config.LoadMessaging()
	if err != nil {
		return job{}, nil, err
	}
	comps, err := config.Build(ctx, mcfg, logger)
	if err != nil {
		return job{}, nil, err
	}

	opts, err := withMetrics(cfg.WorkerName, shared)
	if err != nil {
		comps.Close()

		return job{}, nil, err
	}
	w, err := messaging.NewEventOutboxWorker(store, comps.Transport, cfg, opts...)
	if err != nil {
		comps.Close()

		return job{}, nil, err
	}

	return job{worker: w, opts: opts}, comps.Close, nil
}

func webhookWorker(store messaging.OutboxStore, shared []messaging.Option) (job, error) {
	cfg, err := config.LoadWebhookOutbox()
	if err != nil {
		return job{}, err
	}
	opts, err := withMetrics(cfg.WorkerName, shared)
	if err != nil {
		return job{}, err
	}

	dispatcher := webhook.NewHTTPDispatcher(webhook.WithTimeout(cfg.HTTPTimeout()))
	w, err := messaging.NewWebhookOutboxWorker(store, dispatcher, cfg, opts...)
	if err != nil {
		return job{}, err
	}

	return job{worker: w, opts: opts}, nil
}

// withMetrics records through the global OpenTelemetry meter provider.
func withMetrics(worker string, shared []messaging.Option) ([]messaging.Option, error) {
	metrics, err := otelmetrics.New(nil, worker)
	if err != nil {
		return nil, err
	}

	return append([]messaging.Option{messaging.WithMetrics(metrics)}, shared...), nil
}

func openStores(ctx context.Context, pc processConfig) (stores, error) {
	switch pc.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, pc.DSN)
		if err != nil {
			return stores{}, err
		}
		event, err := postgres.NewEventOutbox(pool)
		if err != nil {
			pool.Close()

			return stores{}, err
		}
		hooks, err := postgres.NewWebhookOutbox(pool)
		if err != nil {
			pool.Close()

			return stores{}, err
		}

		return stores{event: event, webhook: hooks, close: pool.Close}, nil
	case "mysql":
		db, err := sql.Open("mysql", pc.DSN)
		if err != nil {
			return stores{}, fmt.Errorf("open db: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()

			return stores{}, fmt.Errorf("ping db: %w", err)
		}
		event, err := mysql.NewEventOutbox(db)
		if err != nil {
			_ = db.Close()

			return stores{}, err
		}
		hooks, err := mysql.NewWebhookOutbox(db)
		if err != nil {
			_ = db.Close()

			return stores{}, err
		}

		return stores{event: event, webhook: hooks, close: func() { _ = db.Close() }}, nil
	default:
		return stores{}, fmt.Errorf("unsupported driver %q", pc.Driver)
	}
}
