/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dashcache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"
	"github.com/vogo/vogo/vsync/vrun"

	"github.com/edgeplane/dashcache/internal/caller"
	"github.com/edgeplane/dashcache/internal/engines"
	"github.com/edgeplane/dashcache/internal/uid"
)

// Loader fetches one value from the database on a cache miss.
// The cache treats it as opaque; its error is the caller's error.
type Loader func(ctx context.Context) (any, error)

// Engine is a process-local, multi-tenant cache engine: one lazily
// created entry store per module, stale-while-revalidate reads,
// coalesced loads and write-path invalidation. Route handlers share
// one engine instance; tests construct their own.
type Engine struct {
	name string

	mu      sync.Mutex
	modules map[Module]*store

	overrides map[Module]ModuleConfig
	listeners []ChangeListener

	flight flightGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithName sets an explicit engine name (overrides the call-site name).
func WithName(name string) EngineOption {
	return func(e *Engine) {
		e.name = name
	}
}

// WithModuleConfig overrides the static settings of one module.
func WithModuleConfig(module Module, cfg ModuleConfig) EngineOption {
	return func(e *Engine) {
		e.overrides[module] = cfg
	}
}

// WithChangeListener registers a listener for applied invalidations.
func WithChangeListener(l ChangeListener) EngineOption {
	return func(e *Engine) {
		e.listeners = append(e.listeners, l)
	}
}

// New creates a cache engine and registers it for process-wide admin
// operations. The engine name is auto-generated from the call site
// (file:function:line) unless WithName is given.
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		name:      caller.Name(1),
		modules:   make(map[Module]*store),
		overrides: make(map[Module]ModuleConfig),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.flight.init()

	engines.Register(e)

	return e
}

// Name returns the engine's unique name.
func (e *Engine) Name() string {
	return e.name
}

// Close unregisters the engine from the admin registry.
func (e *Engine) Close() error {
	engines.Unregister(e)
	return nil
}

// getOrCreate returns the module's store, creating it on first use.
// Stores live for the engine lifetime; two calls with the same module
// always observe the same store, so concurrent handlers share state.
func (e *Engine) getOrCreate(module Module) *store {
	if !module.Valid() {
		// Programming error: module names are a closed set.
		panic(fmt.Sprintf("dashcache: unknown module %q", module))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.modules[module]
	if !ok {
		cfg := configFor(module)
		if override, has := e.overrides[module]; has {
			cfg = override
		}
		st = newStore(module, cfg)
		e.modules[module] = st
	}
	return st
}

// GetOrFetch returns the cached value for key, loading it when
// needed. Fresh entries are returned directly. Stale entries are
// returned immediately while a coalesced refresh runs in the
// background; a refresh failure keeps the stale value in place. On a
// hard miss the call blocks on a coalesced load and propagates the
// loader's error.
func (e *Engine) GetOrFetch(ctx context.Context, module Module, key string, loader Loader, tags ...string) (any, error) {
	st := e.getOrCreate(module)

	data, stale, ok := st.get(key)
	if ok && !stale {
		return data, nil
	}

	if ok {
		e.flight.refresh(st, key, loader, tags)
		return data, nil
	}

	data, err := e.flight.load(ctx, st, key, loader, tags)
	if err != nil {
		return nil, errors.Wrapf(err, "dashcache: load %s/%s", module, key)
	}
	return data, nil
}

// Get returns the cached value for key without loading, reporting
// whether the value is stale and whether it was present at all.
func (e *Engine) Get(module Module, key string) (data any, stale bool, ok bool) {
	return e.getOrCreate(module).get(key)
}

// Set writes a value directly, for write-through call sites that
// already hold the fresh row. ttl <= 0 uses the module default.
func (e *Engine) Set(module Module, key string, data any, ttl time.Duration, tags ...string) {
	e.getOrCreate(module).set(key, data, ttl, tags)
}

// Delete removes a single key, reporting whether it existed.
func (e *Engine) Delete(module Module, key string) bool {
	return e.getOrCreate(module).delete(key)
}

// EvictByTag removes every entry in the module carrying tag,
// returning the count. Entries without the tag are untouched. Use the
// tag builders (OrgTag, ClusterTag, EndpointTag) to keep write and
// read paths in agreement.
func (e *Engine) EvictByTag(module Module, tag string) int {
	return e.getOrCreate(module).evictByTag(tag)
}

// ChangeOption attaches scope to an emitted change.
type ChangeOption func(*ChangeEvent)

// WithResource records the mutated resource id on the event.
func WithResource(id string) ChangeOption {
	return func(ev *ChangeEvent) {
		ev.ResourceID = id
	}
}

// WithOrg narrows the invalidation to one organization's entries.
func WithOrg(orgID string) ChangeOption {
	return func(ev *ChangeEvent) {
		ev.OrgID = orgID
	}
}

// EmitChange invalidates a module after a committed write. With an
// organization scope it evicts that organization's tagged entries;
// without one it bumps the module version and drops everything. The
// effect is applied before EmitChange returns, so any read issued
// afterwards cannot observe pre-write data. Write paths must call
// this before returning their HTTP response.
func (e *Engine) EmitChange(module Module, change ChangeType, opts ...ChangeOption) {
	ev := ChangeEvent{
		Engine:    e.name,
		Instance:  uid.Instance,
		Module:    module,
		Change:    change,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}

	st := e.getOrCreate(module)

	if ev.OrgID != "" {
		ev.Evicted = st.evictByTag(OrgTag(ev.OrgID))
		ev.Version = st.stats().Version
	} else {
		ev.Version, ev.Evicted = st.bumpVersion()
	}

	vlog.Infof("dashcache change | engine: %s | module: %s | change: %s | org: %s | evicted: %d | version: %d",
		e.name, module, change, ev.OrgID, ev.Evicted, ev.Version)

	for _, l := range e.listeners {
		l(ev)
	}
}

// EmitRelatedChanges applies one change to several modules, for writes
// whose cached projections span modules (creating a backend also
// stales the cluster and load balancer listings).
func (e *Engine) EmitRelatedChanges(modules []Module, change ChangeType, opts ...ChangeOption) {
	for _, m := range modules {
		e.EmitChange(m, change, opts...)
	}
}

// InvalidateOrgCache evicts one organization's entries from the given
// modules, leaving other organizations' entries untouched.
func (e *Engine) InvalidateOrgCache(orgID string, modules ...Module) {
	for _, m := range modules {
		e.EmitChange(m, ChangeUpdated, WithOrg(orgID))
	}
}

// Stats returns a snapshot of one module's counters.
func (e *Engine) Stats(module Module) ModuleStats {
	return e.getOrCreate(module).stats()
}

// AllStats returns snapshots of every instantiated module, sorted by
// module name.
func (e *Engine) AllStats() []ModuleStats {
	e.mu.Lock()
	stores := make([]*store, 0, len(e.modules))
	for _, st := range e.modules {
		stores = append(stores, st)
	}
	e.mu.Unlock()

	stats := make([]ModuleStats, 0, len(stores))
	for _, st := range stores {
		stats = append(stats, st.stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Module < stats[j].Module
	})
	return stats
}

// ClearModule wipes one module's entries and counters without
// advancing its version.
func (e *Engine) ClearModule(module Module) {
	e.getOrCreate(module).clear()
	vlog.Infof("dashcache cleared module | engine: %s | module: %s", e.name, module)
}

// ClearAll wipes every instantiated module cache and its counters.
// Intended for admin and debug tooling only.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	stores := make([]*store, 0, len(e.modules))
	for _, st := range e.modules {
		stores = append(stores, st)
	}
	e.mu.Unlock()

	for _, st := range stores {
		st.clear()
	}

	vlog.Infof("dashcache cleared all modules | engine: %s | modules: %d", e.name, len(stores))
}

// StartSweep runs a periodic sweep that drops hard-expired entries.
// Not correctness-critical (reads filter them lazily); it just frees
// memory between accesses. Stops when the runner stops.
func (e *Engine) StartSweep(runner *vrun.Runner, interval time.Duration) {
	ticker := time.NewTicker(interval)
	runner.Defer(ticker.Stop)

	runner.Loop(func() {
		select {
		case now := <-ticker.C:
			e.mu.Lock()
			stores := make([]*store, 0, len(e.modules))
			for _, st := range e.modules {
				stores = append(stores, st)
			}
			e.mu.Unlock()

			removed := 0
			for _, st := range stores {
				removed += st.sweep(now)
			}
			if removed > 0 {
				vlog.Debugf("dashcache sweep | engine: %s | removed: %d", e.name, removed)
			}
		case <-runner.C:
			return
		}
	})
}
