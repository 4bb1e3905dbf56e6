package config

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/messaging"
	"github.com/velmie/messaging/memory"
	"github.com/velmie/messaging/postgres"
	"github.com/velmie/messaging/transport"
)

// Components holds the backends built from a Messaging config.
type Components struct {
	Transport messaging.Transport
	Scheduler messaging.Scheduler

	closers []func()
}

// Close releases connections opened by Build.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Build connects the configured transport and scheduler. Postgres backends sharing a DSN share one pool.
func Build(ctx context.Context, cfg Messaging, logger messaging.Logger) (*Components, error) {
	if logger == nil {
		logger = messaging.NopLogger{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{logger: logger, pools: make(map[string]*pgxpool.Pool), out: &Components{}}

	tr, err := b.transport(ctx, cfg.Transport)
	if err != nil {
		b.out.Close()

		return nil, err
	}
	b.out.Transport = tr

	sched, err := b.scheduler(ctx, cfg.Scheduler)
	if err != nil {
		b.out.Close()

		return nil, err
	}
	b.out.Scheduler = sched

	return b.out, nil
}

type builder struct {
	logger messaging.Logger
	pools  map[string]*pgxpool.Pool
	out    *Components
}

func (b *builder) transport(ctx context.Context, def Driver) (messaging.Transport, error) {
	switch def.Name() {
	case DriverInMemory:
		return memory.NewTransport(), nil
	case DriverPostgres:
		pool, err := b.pool(ctx, def)
		if err != nil {
			return nil, err
		}
		opts := []postgres.Option{postgres.WithLogger(b.logger)}
		if def.Channel != "" {
			opts = append(opts, postgres.WithChannel(def.Channel))
		}
		if def.Table != "" {
			opts = append(opts, postgres.WithTable(def.Table))
		}

		return postgres.NewTransport(pool, opts...)
	case DriverRedis:
		client, err := transport.DialRedis(ctx, def.Addr, def.Password)
		if err != nil {
			return nil, err
		}
		b.out.closers = append(b.out.closers, func() { _ = client.Close() })

		return transport.NewRedis(client, transport.WithPrefix(def.Prefix), transport.WithLogger(b.logger))
	case DriverPubSub:
		client, err := transport.NewPubSubClient(ctx, def.Project, def.EmulatorHost)
		if err != nil {
			return nil, err
		}
		pub, err := transport.NewPubSub(client, transport.WithTopic(def.Topic), transport.WithLogger(b.logger))
		if err != nil {
			_ = client.Close()

			return nil, err
		}
		b.out.closers = append(b.out.closers, func() {
			pub.Close()
			_ = client.Close()
		})

		return pub, nil
	default:
		return nil, fmt.Errorf("%w: transport %q", ErrUnsupportedDriver, def.Driver)
	}
}

func (b *builder) scheduler(ctx context.Context, def Driver) (messaging.Scheduler, error) {
	switch def.Name() {
	case DriverInMemory:
		return memory.NewScheduler(messaging.SystemClock{}), nil
	case DriverPostgres:
		pool, err := b.pool(ctx, def)
		if err != nil {
			return nil, err
		}
		var opts []postgres.Option
		if def.Table != "" {
			opts = append(opts, postgres.WithTable(def.Table))
		}

		return postgres.NewScheduler(pool, opts...)
	default:
		return nil, fmt.Errorf("%w: scheduler %q", ErrUnsupportedDriver, def.Driver)
	}
}

func (b *builder) pool(ctx context.Context, def Driver) (*pgxpool.Pool, error) {
	key := def.DSN + "|" + def.User
	if pool, ok := b.pools[key]; ok {
		return pool, nil
	}

	pcfg, err := pgxpool.ParseConfig(def.DSN)
	if err != nil {
		return nil, fmt.Errorf("config: parse postgres dsn: %w", err)
	}
	if def.User != "" {
		pcfg.ConnConfig.User = def.User
	}
	if def.Password != "" {
		pcfg.ConnConfig.Password = def.Password
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("config: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()

		return nil, fmt.Errorf("config: ping postgres: %w", err)
	}
	b.pools[key] = pool
	b.out.closers = append(b.out.closers, pool.Close)

	return pool, nil
}
