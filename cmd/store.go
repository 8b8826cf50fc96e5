package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qrels-cli/internal/pipeline"
	"github.com/sells-group/qrels-cli/internal/resilience"
	"github.com/sells-group/qrels-cli/internal/store"
	"github.com/sells-group/qrels-cli/internal/textnorm"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "qrels.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver (QRELS_STORE_DATABASE_URL)")
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store, retrying transient
// failures. Callers close it.
func openStore(ctx context.Context) (store.Store, error) {
	return resilience.DoVal(ctx, resilience.StoreRetryConfig(cfg.Store.OpenAttempts), func(ctx context.Context) (store.Store, error) {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		return st, nil
	})
}

// newDocumentCache returns the per-invocation cache over the documents dir.
func newDocumentCache() *textnorm.Cache {
	return textnorm.NewCache(textnorm.DirLoader{Dir: cfg.Paths.DocumentsDir})
}

// initPipeline opens the store and builds a Pipeline over a fresh document
// cache. Callers close the returned store.
func initPipeline(ctx context.Context) (*pipeline.Pipeline, store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pipeline.New(cfg, st, newDocumentCache()), st, nil
}
