package main

import (
	"context"
	"log"

	"github.com/dunamismax/swapflow/internal/store"
)

// openJobStore picks postgres when dsn is set. Without it, async jobs are
// tracked in this process only, so status written by the worker never
// reaches GET /v1/swap-jobs/{id}.
func openJobStore(ctx context.Context, dsn string, logger *log.Logger) (store.JobStore, store.UsageStore, func(), error) {
	if dsn == "" {
		logger.Printf("POSTGRES_DSN is empty; async job status is kept in memory and is not shared with the worker")
		mem := store.NewMemoryJobStore()
		return mem, mem, func() {}, nil
	}

	pg, err := store.NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	closeStore := func() {
		if err := pg.Close(); err != nil {
			logger.Printf("postgres close error: %v", err)
		}
	}
	return pg, pg, closeStore, nil
}
