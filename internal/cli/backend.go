package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"chronolog/internal/config"
	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/internal/domain/history"
	"chronolog/internal/infrastructure/metrics"
	"chronolog/internal/infrastructure/storage/deltacodec"
	"chronolog/internal/infrastructure/storage/postgres"
	"chronolog/internal/infrastructure/storage/sqlite"
	"chronolog/pkg/logger"
)

// backend is an opened host database with a tracker over it.
type backend struct {
	driver  string
	tracker *history.Tracker
	metrics *prometheus.Registry
	closers []func()
}

// hostStores are the driver-specific pieces a tracker is built from.
type hostStores struct {
	txm        tx.Manager
	correlator tx.Correlator
	rows       history.RowStore
	store      history.Store
}

// openBackend connects to the configured driver and hydrates the registry
// from the partitions catalog.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	codec, err := deltacodec.New(cfg.History.CompressThreshold)
	if err != nil {
		return nil, err
	}
	layout, err := id.ParseLayout(cfg.Generator.Layout)
	if err != nil {
		return nil, err
	}

	b := &backend{driver: cfg.Store.Driver, metrics: prometheus.NewRegistry()}

	var host hostStores
	switch cfg.Store.Driver {
	case config.DriverMemory:
		// Each command is its own process, so nothing registered or captured would survive it.
		return nil, NewExitError(ExitCommandError, "memory driver keeps no state between commands; use sqlite or postgres")
	case config.DriverSQLite:
		host, err = b.openSQLite(ctx, cfg, codec)
	case config.DriverPostgres:
		host, err = b.openPostgres(ctx, cfg, codec)
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		b.close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	b.tracker = history.NewTracker(history.TrackerConfig{
		TxManager:  host.txm,
		Rows:       host.rows,
		Store:      host.store,
		Correlator: host.correlator,
		Generator:  id.NewGenerator(layout),
		Recorder:   metrics.NewRecorder(b.metrics),
	})
	if err := b.tracker.Registry().Load(ctx); err != nil {
		b.close(ctx)
		return nil, err
	}

	logger.Debug(ctx, "store opened", "driver", cfg.Store.Driver, "tables", len(b.tracker.Registry().List()))
	return b, nil
}

func (b *backend) openSQLite(ctx context.Context, cfg config.Config, codec *deltacodec.Codec) (hostStores, error) {
	db, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return hostStores{}, err
	}
	b.closers = append(b.closers, func() { db.Close() })

	txm := sqlite.NewTxManager(db)
	return hostStores{
		txm:        txm,
		correlator: txm,
		rows:       sqlite.NewRowStore(txm),
		store:      sqlite.NewHistoryStore(txm, codec),
	}, nil
}

func (b *backend) openPostgres(ctx context.Context, cfg config.Config, codec *deltacodec.Codec) (hostStores, error) {
	strategy, err := tx.ParseStrategy(cfg.Correlation.Strategy)
	if err != nil {
		return hostStores{}, err
	}
	timeout, err := cfg.StatementTimeout()
	if err != nil {
		return hostStores{}, err
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Store.DSN)
	if cfg.Store.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.MaxConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return hostStores{}, err
	}
	b.closers = append(b.closers, func() { pool.Release(ctx) })

	txm := postgres.NewTxManager(pool, timeout)

	if err := postgres.EnsureSchema(ctx, txm); err != nil {
		return hostStores{}, err
	}

	return hostStores{
		txm:        txm,
		correlator: postgres.NewCorrelator(txm, strategy),
		rows:       postgres.NewRowStore(txm),
		store:      postgres.NewHistoryStore(txm, codec),
	}, nil
}

// close releases connections and logs the capture counters at debug level.
func (b *backend) close(ctx context.Context) {
	if families, err := b.metrics.Gather(); err == nil {
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				kv := []any{"metric", mf.GetName(), "value", m.GetCounter().GetValue()}
				for _, lp := range m.GetLabel() {
					kv = append(kv, lp.GetName(), lp.GetValue())
				}
				logger.Debug(ctx, "history counter", kv...)
			}
		}
	}

	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}

	tables := 0
	if b.tracker != nil {
		tables = len(b.tracker.Registry().List())
	}
	logger.Debug(ctx, "store closed", "driver", b.driver, "tables", tables)
}
