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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vogo/vogo/vsync/vrun"
)

func testEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()

	e := New(append([]EngineOption{WithName(t.Name())}, opts...)...)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func staticLoader(value any) Loader {
	return func(context.Context) (any, error) {
		return value, nil
	}
}

func TestEngineFreshHit(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleClusters, "org:1:clusters", "clusters-of-1", 30*time.Second)

	data, stale, ok := e.Get(ModuleClusters, "org:1:clusters")
	if !ok || stale {
		t.Fatalf("Expected fresh hit, got ok=%v stale=%v", ok, stale)
	}
	if data != "clusters-of-1" {
		t.Errorf("Expected cached value, got %v", data)
	}
}

func TestEngineGetOrFetchLoadsOnMiss(t *testing.T) {
	e := testEngine(t)

	var calls atomic.Int32
	data, err := e.GetOrFetch(context.Background(), ModuleBackends, "id:7", func(context.Context) (any, error) {
		calls.Add(1)
		return "backend-7", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if data != "backend-7" {
		t.Errorf("Expected loaded value, got %v", data)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 loader call, got %d", calls.Load())
	}

	// Second read must be served from memory.
	if _, err := e.GetOrFetch(context.Background(), ModuleBackends, "id:7", staticLoader("unused")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected loader not called again, got %d calls", calls.Load())
	}
}

func TestEngineLoaderErrorPropagatesOnHardMiss(t *testing.T) {
	e := testEngine(t)

	dbErr := errors.New("connection refused")
	_, err := e.GetOrFetch(context.Background(), ModuleReplica, "id:1", func(context.Context) (any, error) {
		return nil, dbErr
	})
	if !errors.Is(err, dbErr) {
		t.Fatalf("Expected loader error to propagate, got %v", err)
	}

	// The failure must not be cached as an empty result.
	if _, _, ok := e.Get(ModuleReplica, "id:1"); ok {
		t.Error("Expected no entry cached after loader failure")
	}
}

func TestEngineStaleServeWithBackgroundRefresh(t *testing.T) {
	e := testEngine(t, WithModuleConfig(ModuleClusters, ModuleConfig{
		Capacity:    10,
		TTL:         10 * time.Millisecond,
		StaleWindow: time.Minute,
	}))

	e.Set(ModuleClusters, "org:1:clusters", "old", 0)
	time.Sleep(20 * time.Millisecond)

	loaded := make(chan struct{})
	data, err := e.GetOrFetch(context.Background(), ModuleClusters, "org:1:clusters", func(context.Context) (any, error) {
		defer close(loaded)
		return "new", nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if data != "old" {
		t.Errorf("Expected stale value served synchronously, got %v", data)
	}

	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("Expected background refresh to run")
	}

	// Give the refresh goroutine time to write back.
	deadline := time.Now().Add(time.Second)
	for {
		data, stale, ok := e.Get(ModuleClusters, "org:1:clusters")
		if ok && !stale && data == "new" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected refreshed value, got %v (stale=%v ok=%v)", data, stale, ok)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineFailedRefreshKeepsStaleValue(t *testing.T) {
	e := testEngine(t, WithModuleConfig(ModuleClusters, ModuleConfig{
		Capacity:    10,
		TTL:         5 * time.Millisecond,
		StaleWindow: time.Minute,
	}))

	e.Set(ModuleClusters, "key", "last-known-good", 0)
	time.Sleep(10 * time.Millisecond)

	failed := make(chan struct{})
	data, err := e.GetOrFetch(context.Background(), ModuleClusters, "key", func(context.Context) (any, error) {
		defer close(failed)
		return nil, errors.New("db down")
	})
	if err != nil {
		t.Fatalf("Expected stale serve to mask refresh failure, got %v", err)
	}
	if data != "last-known-good" {
		t.Errorf("Expected stale value, got %v", data)
	}

	<-failed
	time.Sleep(10 * time.Millisecond)

	data, stale, ok := e.Get(ModuleClusters, "key")
	if !ok || !stale || data != "last-known-good" {
		t.Errorf("Expected stale value kept after failed refresh, got %v (stale=%v ok=%v)", data, stale, ok)
	}
}

func TestEngineHardMissAfterStaleWindow(t *testing.T) {
	e := testEngine(t, WithModuleConfig(ModuleClusters, ModuleConfig{
		Capacity:    10,
		TTL:         time.Millisecond,
		StaleWindow: time.Millisecond,
	}))

	e.Set(ModuleClusters, "key", "expired", 0)
	time.Sleep(5 * time.Millisecond)

	data, err := e.GetOrFetch(context.Background(), ModuleClusters, "key", staticLoader("fetched"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if data != "fetched" {
		t.Errorf("Expected freshly fetched value, got %v", data)
	}
}

func TestEngineCoalescesConcurrentLoads(t *testing.T) {
	e := testEngine(t)

	var calls atomic.Int32
	var startedOnce sync.Once
	release := make(chan struct{})
	started := make(chan struct{})

	loader := func(context.Context) (any, error) {
		calls.Add(1)
		startedOnce.Do(func() { close(started) })
		<-release
		return "shared", nil
	}

	const readers = 20

	var wg sync.WaitGroup
	results := make([]any, readers)
	errs := make([]error, readers)

	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.GetOrFetch(context.Background(), ModuleEndpoints, "slug:api", loader)
		}(i)
	}

	<-started
	// All readers are either blocked on the flight or about to join it.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 loader call, got %d", calls.Load())
	}
	for i := 0; i < readers; i++ {
		if errs[i] != nil {
			t.Fatalf("Reader %d got error: %v", i, errs[i])
		}
		if results[i] != "shared" {
			t.Errorf("Reader %d got %v, want shared", i, results[i])
		}
	}
}

func TestEngineCoalescedFailureSharedByAllReaders(t *testing.T) {
	e := testEngine(t)

	var calls atomic.Int32
	var startedOnce sync.Once
	release := make(chan struct{})
	started := make(chan struct{})
	dbErr := errors.New("timeout")

	loader := func(context.Context) (any, error) {
		calls.Add(1)
		startedOnce.Do(func() { close(started) })
		<-release
		return nil, dbErr
	}

	const readers = 10

	var wg sync.WaitGroup
	errs := make([]error, readers)

	wg.Add(readers)
	for i := 0; i < readers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.GetOrFetch(context.Background(), ModuleEndpoints, "slug:broken", loader)
		}(i)
	}

	<-started
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly 1 loader call, got %d", calls.Load())
	}
	for i := 0; i < readers; i++ {
		if !errors.Is(errs[i], dbErr) {
			t.Errorf("Reader %d: expected shared rejection, got %v", i, errs[i])
		}
	}
}

func TestEngineCallerCancelDoesNotCancelSharedLoad(t *testing.T) {
	e := testEngine(t)

	release := make(chan struct{})
	started := make(chan struct{})

	loader := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return "survived", nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.GetOrFetch(ctx, ModuleBackends, "id:9", loader)
	}()

	<-started
	cancel()
	close(release)
	<-done

	data, _, ok := e.Get(ModuleBackends, "id:9")
	if !ok || data != "survived" {
		t.Errorf("Expected load to finish and cache despite caller cancel, got %v (ok=%v)", data, ok)
	}
}

func TestEngineEmitChangeInvalidatesModule(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleClusters, "key1", 1, 0)
	e.Set(ModuleClusters, "key2", 2, 0)
	e.Set(ModuleBackends, "key1", 3, 0)

	e.EmitChange(ModuleClusters, ChangeUpdated, WithResource("cluster-9"))

	if _, _, ok := e.Get(ModuleClusters, "key1"); ok {
		t.Error("Expected clusters entries gone after change")
	}
	if _, _, ok := e.Get(ModuleClusters, "key2"); ok {
		t.Error("Expected clusters entries gone after change")
	}
	if _, _, ok := e.Get(ModuleBackends, "key1"); !ok {
		t.Error("Expected backends module untouched")
	}

	if v := e.Stats(ModuleClusters).Version; v != 1 {
		t.Errorf("Expected version 1 after change, got %d", v)
	}
}

func TestEngineOrgScopedInvalidation(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleClusters, OrgKey("1", ModuleClusters), "one", 0, OrgTag("1"))
	e.Set(ModuleClusters, OrgKey("2", ModuleClusters), "two", 0, OrgTag("2"))

	e.InvalidateOrgCache("1", ModuleClusters)

	if _, _, ok := e.Get(ModuleClusters, OrgKey("1", ModuleClusters)); ok {
		t.Error("Expected org 1 entries evicted")
	}
	if _, _, ok := e.Get(ModuleClusters, OrgKey("2", ModuleClusters)); !ok {
		t.Error("Expected org 2 entries intact")
	}

	// Org-scoped eviction must not rebuild the whole module.
	if v := e.Stats(ModuleClusters).Version; v != 0 {
		t.Errorf("Expected version unchanged by org-scoped eviction, got %d", v)
	}
}

func TestEngineEvictByClusterTag(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleBackends, "id:1", "b1", 0, OrgTag("1"), ClusterTag("c7"))
	e.Set(ModuleBackends, "id:2", "b2", 0, OrgTag("1"), ClusterTag("c8"))

	if removed := e.EvictByTag(ModuleBackends, ClusterTag("c7")); removed != 1 {
		t.Errorf("Expected 1 entry evicted, got %d", removed)
	}

	if _, _, ok := e.Get(ModuleBackends, "id:1"); ok {
		t.Error("Expected cluster c7 backend evicted")
	}
	if _, _, ok := e.Get(ModuleBackends, "id:2"); !ok {
		t.Error("Expected cluster c8 backend intact")
	}
}

func TestEngineEmitRelatedChanges(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleBackends, "k", 1, 0)
	e.Set(ModuleClusters, "k", 2, 0)
	e.Set(ModuleLoadBalancer, "k", 3, 0)
	e.Set(ModuleUser, "k", 4, 0)

	e.EmitRelatedChanges([]Module{ModuleBackends, ModuleClusters, ModuleLoadBalancer}, ChangeCreated)

	for _, m := range []Module{ModuleBackends, ModuleClusters, ModuleLoadBalancer} {
		if _, _, ok := e.Get(m, "k"); ok {
			t.Errorf("Expected %s invalidated", m)
		}
	}
	if _, _, ok := e.Get(ModuleUser, "k"); !ok {
		t.Error("Expected unrelated module untouched")
	}
}

func TestEngineChangeListenerRunsBeforeReturn(t *testing.T) {
	var events []ChangeEvent
	e := testEngine(t, WithChangeListener(func(ev ChangeEvent) {
		events = append(events, ev)
	}))

	e.Set(ModuleExperiment, "k", 1, 0)
	e.EmitChange(ModuleExperiment, ChangeDeleted, WithResource("exp-3"))

	if len(events) != 1 {
		t.Fatalf("Expected 1 event delivered synchronously, got %d", len(events))
	}
	ev := events[0]
	if ev.Module != ModuleExperiment || ev.Change != ChangeDeleted || ev.ResourceID != "exp-3" {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if ev.Version != 1 || ev.Evicted != 1 {
		t.Errorf("Expected version=1 evicted=1, got version=%d evicted=%d", ev.Version, ev.Evicted)
	}
}

func TestEngineRefreshAfterInvalidationStillWrites(t *testing.T) {
	e := testEngine(t, WithModuleConfig(ModuleClusters, ModuleConfig{
		Capacity:    10,
		TTL:         5 * time.Millisecond,
		StaleWindow: time.Minute,
	}))

	e.Set(ModuleClusters, "key", "old", 0)
	time.Sleep(10 * time.Millisecond)

	release := make(chan struct{})
	written := make(chan struct{})

	data, err := e.GetOrFetch(context.Background(), ModuleClusters, "key", func(context.Context) (any, error) {
		defer close(written)
		<-release
		return "post-invalidation", nil
	})
	if err != nil || data != "old" {
		t.Fatalf("Expected stale serve, got %v, %v", data, err)
	}

	// Invalidate while the refresh is in flight, then let it settle.
	e.EmitChange(ModuleClusters, ChangeUpdated)
	close(release)
	<-written
	time.Sleep(10 * time.Millisecond)

	// The refreshed value was fetched after the invalidation, so it
	// must be cached under the new version.
	data, stale, ok := e.Get(ModuleClusters, "key")
	if !ok || stale || data != "post-invalidation" {
		t.Errorf("Expected refreshed value cached after invalidation, got %v (stale=%v ok=%v)", data, stale, ok)
	}
}

func TestEngineModuleIdentityStable(t *testing.T) {
	e := testEngine(t)

	if e.getOrCreate(ModuleClusters) != e.getOrCreate(ModuleClusters) {
		t.Error("Expected the same store instance for repeated lookups")
	}
}

func TestEngineUnknownModulePanics(t *testing.T) {
	e := testEngine(t)

	defer func() {
		if recover() == nil {
			t.Error("Expected panic for unknown module")
		}
	}()
	e.Get(Module("bogus"), "key")
}

func TestEngineClearModule(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleClusters, "k", 1, 0)
	e.Set(ModuleBackends, "k", 2, 0)

	e.ClearModule(ModuleClusters)

	if _, _, ok := e.Get(ModuleClusters, "k"); ok {
		t.Error("Expected clusters cleared")
	}
	if _, _, ok := e.Get(ModuleBackends, "k"); !ok {
		t.Error("Expected backends untouched")
	}
}

func TestEngineClearAll(t *testing.T) {
	e := testEngine(t)

	e.Set(ModuleClusters, "k", 1, 0)
	e.Set(ModuleBackends, "k", 2, 0)

	e.ClearAll()

	if _, _, ok := e.Get(ModuleClusters, "k"); ok {
		t.Error("Expected clusters cleared")
	}
	if _, _, ok := e.Get(ModuleBackends, "k"); ok {
		t.Error("Expected backends cleared")
	}
}

func TestEngineDBFallbackCounter(t *testing.T) {
	e := testEngine(t)

	_, _ = e.GetOrFetch(context.Background(), ModuleHealthCheck, "id:1", staticLoader("a"))
	_, _ = e.GetOrFetch(context.Background(), ModuleHealthCheck, "id:2", staticLoader("b"))
	_, _ = e.GetOrFetch(context.Background(), ModuleHealthCheck, "id:1", staticLoader("a"))

	if n := e.Stats(ModuleHealthCheck).DBFallbacks; n != 2 {
		t.Errorf("Expected 2 loader invocations recorded, got %d", n)
	}
}

func TestEngineSweepLoop(t *testing.T) {
	e := testEngine(t, WithModuleConfig(ModuleReplica, ModuleConfig{
		Capacity:    10,
		TTL:         time.Millisecond,
		StaleWindow: time.Millisecond,
	}))

	runner := vrun.New()
	defer runner.Stop()
	e.StartSweep(runner, 10*time.Millisecond)

	e.Set(ModuleReplica, "r1", 1, 0)
	e.Set(ModuleReplica, "r2", 2, 0)

	deadline := time.Now().Add(time.Second)
	for e.Stats(ModuleReplica).Entries > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected sweep to drop hard-expired entries, still have %d", e.Stats(ModuleReplica).Entries)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
