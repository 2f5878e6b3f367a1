// Package app assembles the checkout service from configuration. It is the
// composition root shared by the HTTP server and the Lambda entry point.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ariefcatur/go-checkout-fulfillment/internal/awsx"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/checkout"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/config"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/dynamo"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/httpx"
	kafkax "github.com/ariefcatur/go-checkout-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/metrics"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/notify"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/orders"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/payment"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/pricing"
	"github.com/ariefcatur/go-checkout-fulfillment/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DemoCatalog seeds the memory backend.
var DemoCatalog = []orders.Product{
	{ID: "tent-2p", Name: "Two-person tent", PriceCents: 24900, Stock: 20},
	{ID: "stove-gas", Name: "Gas stove", PriceCents: 6495, Stock: 35},
	{ID: "headlamp", Name: "Headlamp", PriceCents: 3999, Stock: 100},
}

type App struct {
	Handler http.Handler
	Service *checkout.Service
	Path    string

	log     zerolog.Logger
	closers []func(context.Context) error
}

type stores struct {
	inv     orders.Inventory
	ledger  orders.Ledger
	catalog orders.Catalog
	tx      orders.Transactor
}

// Build connects every backend named by cfg. On error whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (a *App, err error) {
	a = &App{log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		a.onClose(func(context.Context) error { return rdb.Close() })
	}

	var aws *awsx.Clients
	awsClients := func() (*awsx.Clients, error) {
		if aws != nil {
			return aws, nil
		}
		c, err := awsx.NewClients(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		aws = c
		return aws, nil
	}

	st, err := a.openStores(ctx, cfg, rdb, awsClients)
	if err != nil {
		return nil, err
	}

	var proc payment.Processor
	switch cfg.PaymentProcessor {
	case config.ProcessorStripe:
		proc = payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripeAPIBase)
	default:
		proc = payment.NewMemoryProcessor()
	}

	dispatcher, err := a.openNotifier(ctx, cfg, awsClients)
	if err != nil {
		return nil, err
	}
	async := notify.NewAsync(dispatcher, cfg.NotifyWorkers, cfg.NotifyBuffer, cfg.RequestTimeout, log, m)
	a.onClose(func(context.Context) error { async.Close(); return nil })

	engine := pricing.NewEngine(st.inv, cfg.Currency)
	copts := []fulfillment.Option{fulfillment.WithLogger(log), fulfillment.WithMetrics(m)}
	if st.tx != nil {
		copts = append(copts, fulfillment.WithTransactor(st.tx))
	}
	coord := fulfillment.NewCoordinator(ctx, st.inv, st.ledger, copts...)
	a.Path = coord.Path()

	gopts := []payment.GateOption{payment.WithLogger(log), payment.WithMetrics(m)}
	deps := checkout.Deps{
		Pricing:   engine,
		Fulfiller: coord,
		Ledger:    st.ledger,
		Catalog:   st.catalog,
		Notifier:  async,
		Log:       log,
	}
	if rdb != nil {
		gopts = append(gopts, payment.WithClaims(redisx.NewIntentClaims(rdb)))
		deps.Cache = redisx.NewStatusCache(rdb)
	}
	deps.Gate = payment.NewGate(engine, proc, coord, gopts...)
	a.Service = checkout.New(deps)

	router := httpx.NewRouter(log, m.Handler())
	httpx.NewOrdersHandler(a.Service, cfg.RequestTimeout).Register(router)
	a.Handler = router

	log.Info().
		Str("store", cfg.StoreBackend).
		Str("notify", cfg.NotifyBackend).
		Str("processor", proc.Name()).
		Str("fulfillment_path", a.Path).
		Bool("intent_claims", rdb != nil).
		Msg("checkout assembled")
	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg config.Config, rdb *redis.Client, awsClients func() (*awsx.Clients, error)) (stores, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err := a.openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, err
		}
		return stores{inv: pg, ledger: pg, catalog: pg, tx: pg}, nil

	case config.StoreRedis:
		// Stock in Redis, orders in Postgres: there is no shared transaction,
		// so fulfilment always takes the compensating path.
		if rdb == nil {
			return stores{}, errors.New("redis store needs REDIS_ADDR")
		}
		pg, err := a.openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return stores{}, err
		}
		inv := redisx.NewInventory(rdb)
		return stores{inv: inv, ledger: pg, catalog: inv}, nil

	case config.StoreDynamo:
		c, err := awsClients()
		if err != nil {
			return stores{}, err
		}
		d := dynamo.NewStore(c.DynamoDB, cfg.DynamoProductsTable, cfg.DynamoOrdersTable)
		return stores{inv: d, ledger: d, catalog: d, tx: d}, nil

	case config.StoreMemory:
		mem := memstore.New(memstore.WithTransactions(cfg.MemoryTransactions))
		mem.Seed(DemoCatalog...)
		return stores{inv: mem, ledger: mem, catalog: mem, tx: mem}, nil
	}
	return stores{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func (a *App) openPostgres(ctx context.Context, dsn string) (*postgres.Store, error) {
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.onClose(func(context.Context) error { pool.Close(); return nil })
	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return postgres.NewStore(pool), nil
}

func (a *App) openNotifier(ctx context.Context, cfg config.Config, awsClients func() (*awsx.Clients, error)) (notify.Dispatcher, error) {
	switch cfg.NotifyBackend {
	case config.NotifyKafka:
		prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.NotifyBuffer, a.log)
		pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		prod.Start(pctx)
		a.onClose(func(context.Context) error {
			prod.Close()
			prod.WaitClosed()
			cancel()
			return nil
		})
		return notify.KafkaDispatcher{Producer: prod, Service: cfg.ServiceName}, nil

	case config.NotifySQS:
		c, err := awsClients()
		if err != nil {
			return nil, err
		}
		return notify.SQSDispatcher{Sender: awsx.NewPublisher(c.SQS, cfg.SQSQueueURL), Service: cfg.ServiceName}, nil

	case config.NotifyLog:
		return notify.LogDispatcher{Log: a.log}, nil
	}
	return nil, fmt.Errorf("unknown notify backend %q", cfg.NotifyBackend)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources newest first, so pending notifications drain
// before their transport goes away.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
