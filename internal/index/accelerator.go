package index

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// accelerator describes the parallel execution backend. It is probed once per
// Manager; an unavailable accelerator carries the reason in reason.
type accelerator struct {
	workers int
	reason  string
}

func probeAccelerator(enabled bool, workers int) accelerator {
	if !enabled {
		return accelerator{reason: "disabled by configuration"}
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 2 {
		return accelerator{workers: workers, reason: "fewer than two workers available"}
	}
	return accelerator{workers: workers}
}

func (a accelerator) available() bool { return a.reason == "" }

// offload wraps f in a worker-pool backend. The flat index is shared, not copied.
func (a accelerator) offload(f *flatIndex, log logrus.FieldLogger) (backend, error) {
	if !a.available() {
		return nil, fmt.Errorf("accelerator unavailable: %s", a.reason)
	}
	pool, err := ants.NewPool(a.workers, ants.WithPanicHandler(func(p any) {
		log.WithField("panic", p).Error("index shard scan panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	return &poolBackend{flat: f, pool: pool, shards: a.workers, log: log}, nil
}

// poolBackend scans disjoint row ranges of a flat index concurrently on an
// ants pool and merges the per-shard top-k lists.
type poolBackend struct {
	flat   *flatIndex
	pool   *ants.Pool
	shards int
	log    logrus.FieldLogger
}

func (p *poolBackend) name() string { return "pool" }
func (p *poolBackend) dimension() int { return p.flat.dimension() }
func (p *poolBackend) count() int { return p.flat.count() }
func (p *poolBackend) portable() *flatIndex { return p.flat }
func (p *poolBackend) close() { p.pool.Release() }

func (p *poolBackend) search(query []float32, k int) []hit {
	n := p.flat.count()
	if n == 0 {
		return pad(nil, k)
	}
	size := (n + p.shards - 1) / p.shards
	partial := make([][]hit, (n+size-1)/size)

	var wg sync.WaitGroup
	for s := range partial {
		lo, hi := s*size, min((s+1)*size, n)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			partial[s] = p.flat.scan(query, lo, hi, k)
		}
		if err := p.pool.Submit(task); err != nil {
			p.log.WithError(err).Warn("worker pool rejected shard scan, scanning inline")
			task()
		}
	}
	wg.Wait()

	merged := make([]hit, 0, len(partial)*k)
	for _, hits := range partial {
		merged = append(merged, hits...)
	}
	return pad(selectTop(merged, k), k)
}
