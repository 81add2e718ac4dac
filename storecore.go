// Package storecore wires the page file, buffer pool, task runtime,
// schema catalogue, admin surface, and checkpoint scheduler into a single
// Engine, the programmatic API spec.md §6 describes.
package storecore

import (
	"fmt"
	"log"

	"github.com/vantadb/storecore/internal/adminserver"
	"github.com/vantadb/storecore/internal/bufferpool"
	"github.com/vantadb/storecore/internal/checkpointsched"
	"github.com/vantadb/storecore/internal/config"
	"github.com/vantadb/storecore/internal/pagefile"
	"github.com/vantadb/storecore/internal/schema"
	"github.com/vantadb/storecore/internal/task"
)

// Engine is a running storecore instance: one page file, one buffer pool
// in front of it, one task runtime driving prefetch and the checkpoint
// scheduler, one schema catalogue, and (optionally) one admin RPC server.
type Engine struct {
	settings config.RunSettings
	logger   *log.Logger

	pool    *bufferpool.Pool
	runtime *task.Runtime
	catalog *schema.Catalogue
	sched   *checkpointsched.Scheduler
	admin   *adminserver.Server
}

// Open attaches an Engine to an existing page file named by
// settings.Storage.Path. A nil logger defaults to log.Default().
func Open(settings config.RunSettings, logger *log.Logger) (*Engine, error) {
	return newEngine(settings, logger, false)
}

// Create initializes a fresh page file named by settings.Storage.Path and
// attaches an Engine to it. overwrite controls whether an existing file at
// that path is replaced.
func Create(settings config.RunSettings, overwrite bool, logger *log.Logger) (*Engine, error) {
	return newEngineCreate(settings, logger, overwrite)
}

func newEngine(settings config.RunSettings, logger *log.Logger, _ bool) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	rt := task.StartThreadPool(settings.Runtime.NumThreads)

	poolCfg := bufferpool.Config{
		PoolSizeKB:         settings.Pool.PoolSizeKB,
		PrefetchingDegree:  settings.Pool.PrefetchingDegree,
		NumberOfPartitions: settings.Pool.NumberOfPartitions,
	}
	pool, err := bufferpool.Open(poolCfg, settings.Storage.Path, rt)
	if err != nil {
		rt.StopThreadPool()
		return nil, err
	}

	return finishOpen(settings, logger, rt, pool, false)
}

func newEngineCreate(settings config.RunSettings, logger *log.Logger, overwrite bool) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	rt := task.StartThreadPool(settings.Runtime.NumThreads)

	poolCfg := bufferpool.Config{
		PoolSizeKB:         settings.Pool.PoolSizeKB,
		PrefetchingDegree:  settings.Pool.PrefetchingDegree,
		NumberOfPartitions: settings.Pool.NumberOfPartitions,
	}
	fsCfg := pagefile.FileStorageConfig{PageSizeKB: settings.Storage.PageSizeKB}
	pool, err := bufferpool.Create(poolCfg, settings.Storage.Path, fsCfg, overwrite, rt)
	if err != nil {
		rt.StopThreadPool()
		return nil, err
	}

	return finishOpen(settings, logger, rt, pool, true)
}

func finishOpen(settings config.RunSettings, logger *log.Logger, rt *task.Runtime, pool *bufferpool.Pool, fresh bool) (*Engine, error) {
	var cat *schema.Catalogue
	var err error
	if fresh {
		cat, err = schema.New(pool)
	} else {
		cat, err = schema.Load(pool, firstCatalogueRoot(pool))
	}
	if err != nil {
		pool.Close()
		rt.StopThreadPool()
		return nil, err
	}

	sched, err := checkpointsched.New(pool, rt, settings.Checkpoint.CronSpec, logger)
	if err != nil {
		pool.Close()
		rt.StopThreadPool()
		return nil, fmt.Errorf("storecore: checkpoint scheduler: %w", err)
	}
	sched.Start()

	e := &Engine{
		settings: settings,
		logger:   logger,
		pool:     pool,
		runtime:  rt,
		catalog:  cat,
		sched:    sched,
	}
	return e, nil
}

// firstCatalogueRoot is the well-known page id reserved for the schema
// catalogue's head page on a freshly created page file (the first page
// ever allocated, immediately after the protected page 0).
func firstCatalogueRoot(pool *bufferpool.Pool) pagefile.PageID {
	return 1
}

// Pool returns the underlying buffer pool, for callers that need the raw
// pin/unpin verbs directly.
func (e *Engine) Pool() *bufferpool.Pool { return e.pool }

// Runtime returns the underlying task runtime.
func (e *Engine) Runtime() *task.Runtime { return e.runtime }

// Catalogue returns the schema catalogue.
func (e *Engine) Catalogue() *schema.Catalogue { return e.catalog }

// ServeAdmin starts the gRPC admin surface on settings.Admin.GRPCAddr and
// blocks until it stops or fails. Run it in its own goroutine.
func (e *Engine) ServeAdmin() error {
	e.admin = adminserver.NewServer(adminserver.NewPoolServer(e.pool))
	e.logger.Printf("admin surface listening on %s", e.settings.Admin.GRPCAddr)
	return e.admin.Serve(e.settings.Admin.GRPCAddr)
}

// Close stops the checkpoint scheduler and task runtime, persists the
// schema catalogue, and closes the buffer pool (which itself checkpoints
// and closes the page file). Close fails with errkind.PoolBusy if any
// page remains pinned.
func (e *Engine) Close() error {
	if e.admin != nil {
		e.admin.GracefulStop()
	}
	e.sched.Stop()
	if err := e.catalog.Persist(); err != nil {
		return fmt.Errorf("storecore: persist catalogue: %w", err)
	}
	if err := e.pool.Close(); err != nil {
		return err
	}
	e.runtime.StopThreadPool()
	return nil
}
