// Package flowcache keeps compiled flow graphs in memory.
//
// Entries live for a TTL. A miss loads synchronously and concurrent misses
// for the same key share one load. An expired entry is still served while a
// single background refresh replaces it. Entries are replaced wholesale, so a
// caller holding a graph keeps a consistent snapshot.
package flowcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/aretw0/parley/internal/compiler"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// DefaultTTL is the freshness window of a cached flow.
const DefaultTTL = 5 * time.Minute

// loadTimeout bounds a repository load that no single caller owns.
const loadTimeout = 30 * time.Second

const (
	kindGraph = "graph"
	kindList  = "list"
)

type entry[T any] struct {
	value  T
	loaded time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	repo   ports.FlowRepository
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu         sync.RWMutex
	graphs     map[string]entry[*domain.FlowGraph]
	lists      map[string]entry[[]domain.Flow]
	versions   map[string]uint64
	refreshing map[string]bool

	metrics *cacheMetrics
	wg      sync.WaitGroup
}

// Option configures the Cache.
type Option func(*Cache) error

// WithTTL sets the freshness window. Zero or negative keeps the default.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) error {
		if ttl > 0 {
			c.ttl = ttl
		}
		return nil
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) error {
		c.logger = l
		return nil
	}
}

// WithClock overrides time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) error {
		c.now = now
		return nil
	}
}

// WithMetrics registers the cache counters on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Cache) error {
		m, err := newCacheMetrics(reg)
		if err != nil {
			return fmt.Errorf("register flowcache metrics: %w", err)
		}
		c.metrics = m
		return nil
	}
}

// New creates a cache in front of repo.
func New(repo ports.FlowRepository, opts ...Option) (*Cache, error) {
	c := &Cache{
		repo:       repo,
		ttl:        DefaultTTL,
		now:        time.Now,
		logger:     logging.NewNop(),
		graphs:     make(map[string]entry[*domain.FlowGraph]),
		lists:      make(map[string]entry[[]domain.Flow]),
		versions:   make(map[string]uint64),
		refreshing: make(map[string]bool),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Get returns the compiled graph of a flow.
func (c *Cache) Get(ctx context.Context, flowID string) (*domain.FlowGraph, error) {
	key := kindGraph + ":" + flowID

	c.mu.RLock()
	e, ok := c.graphs[flowID]
	c.mu.RUnlock()

	if ok {
		if c.fresh(e.loaded) {
			c.metrics.inc(hits, kindGraph)
			return e.value, nil
		}
		c.metrics.inc(staleHits, kindGraph)
		c.refresh(key, func(ctx context.Context) (any, error) {
			return c.loadGraph(ctx, flowID, key)
		})
		return e.value, nil
	}

	c.metrics.inc(misses, kindGraph)
	v, err := c.load(ctx, key, func(ctx context.Context) (any, error) {
		return c.loadGraph(ctx, flowID, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.FlowGraph), nil
}

// Flows returns the trigger headers of a connection's flows.
// The returned slice must not be modified.
func (c *Cache) Flows(ctx context.Context, connectionID string) ([]domain.Flow, error) {
	key := kindList + ":" + connectionID

	c.mu.RLock()
	e, ok := c.lists[connectionID]
	c.mu.RUnlock()

	if ok {
		if c.fresh(e.loaded) {
			c.metrics.inc(hits, kindList)
			return e.value, nil
		}
		c.metrics.inc(staleHits, kindList)
		c.refresh(key, func(ctx context.Context) (any, error) {
			return c.loadList(ctx, connectionID, key)
		})
		return e.value, nil
	}

	c.metrics.inc(misses, kindList)
	v, err := c.load(ctx, key, func(ctx context.Context) (any, error) {
		return c.loadList(ctx, connectionID, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Flow), nil
}

// load runs a coalesced miss. The shared load is detached from the caller's
// cancellation so one abandoned request cannot fail the others waiting on it;
// the caller itself still stops waiting when ctx ends.
func (c *Cache) load(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return fn(lctx)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops one flow and every cached header list.
func (c *Cache) Invalidate(flowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.graphs, flowID)
	c.versions[kindGraph+":"+flowID]++
	for conn := range c.lists {
		delete(c.lists, conn)
		c.versions[kindList+":"+conn]++
	}
	c.metrics.setSize(len(c.graphs))
	c.logger.Debug("Flow invalidated", "flow_id", flowID)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.graphs {
		c.versions[kindGraph+":"+id]++
	}
	for conn := range c.lists {
		c.versions[kindList+":"+conn]++
	}
	c.graphs = make(map[string]entry[*domain.FlowGraph])
	c.lists = make(map[string]entry[[]domain.Flow])
	c.metrics.setSize(0)
}

// Watch invalidates flows as the repository reports changes, until ctx ends.
func (c *Cache) Watch(ctx context.Context, w ports.Watchable) error {
	events, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch flows: %w", err)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-events:
				if !ok {
					return
				}
				if id == "" {
					c.InvalidateAll()
					continue
				}
				c.Invalidate(id)
			}
		}
	}()
	return nil
}

// Close waits for background refreshes and watchers to finish.
// Watchers stop when the context given to Watch ends.
func (c *Cache) Close() {
	c.wg.Wait()
}

func (c *Cache) fresh(loaded time.Time) bool {
	return c.now().Sub(loaded) < c.ttl
}

func (c *Cache) version(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.versions[key]
}

func (c *Cache) loadGraph(ctx context.Context, flowID, key string) (*domain.FlowGraph, error) {
	v := c.version(key)
	c.metrics.inc(loads, kindGraph)

	flow, err := c.repo.LoadFlow(ctx, flowID)
	if err != nil {
		c.metrics.inc(loadErrors, kindGraph)
		return nil, fmt.Errorf("load flow %s: %w", flowID, err)
	}
	graph, warnings, err := compiler.Compile(*flow)
	for _, w := range warnings {
		c.logger.Warn("Flow warning", "flow_id", flowID, "node_id", w.NodeID, "warning", w.Message)
	}
	if err != nil {
		c.metrics.inc(loadErrors, kindGraph)
		return nil, fmt.Errorf("compile flow %s: %w", flowID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// An invalidation during the load wins; the caller still gets the fresh result.
	if c.versions[key] == v {
		c.graphs[flowID] = entry[*domain.FlowGraph]{value: graph, loaded: c.now()}
		c.metrics.setSize(len(c.graphs))
	}
	return graph, nil
}

func (c *Cache) loadList(ctx context.Context, connectionID, key string) ([]domain.Flow, error) {
	v := c.version(key)
	c.metrics.inc(loads, kindList)

	flows, err := c.repo.ListFlows(ctx, connectionID)
	if err != nil {
		c.metrics.inc(loadErrors, kindList)
		return nil, fmt.Errorf("list flows for %q: %w", connectionID, err)
	}
	headers := make([]domain.Flow, len(flows))
	for i, f := range flows {
		f.Nodes = nil
		f.Triggers = append([]string(nil), f.Triggers...)
		headers[i] = f
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[key] == v {
		c.lists[connectionID] = entry[[]domain.Flow]{value: headers, loaded: c.now()}
	}
	return headers, nil
}

// refresh starts at most one background reload per key.
func (c *Cache) refresh(key string, load func(context.Context) (any, error)) {
	c.mu.Lock()
	if c.refreshing[key] {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		_, err, _ := c.group.Do(key, func() (any, error) {
			return load(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("Background flow refresh failed, serving stale copy", "key", key, "err", err)
		}
	}()
}
