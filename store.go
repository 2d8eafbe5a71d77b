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
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vogo/vogo/vlog"
)

// entry is one cached value with its freshness metadata.
// Invariant: createdAt <= expiresAt <= staleAt. Past expiresAt the
// entry is stale but still servable; past staleAt it is unusable.
type entry struct {
	data           any
	createdAt      time.Time
	lastAccessedAt time.Time
	hits           int
	expiresAt      time.Time
	staleAt        time.Time
	tags           []string
	version        uint64
}

func (e *entry) hasTag(tag string) bool {
	return slices.Contains(e.tags, tag)
}

// store holds the cached entries of a single module.
// The mutex guards the entry map, the version counter and the stat
// counters; loaders never run under it.
type store struct {
	module Module
	cfg    ModuleConfig

	mu          sync.Mutex
	entries     map[string]*entry
	version     uint64
	hits        uint64
	misses      uint64
	dbFallbacks uint64
}

func newStore(module Module, cfg ModuleConfig) *store {
	return &store{
		module:  module,
		cfg:     cfg,
		entries: make(map[string]*entry),
	}
}

// get returns the entry data for key, or ok=false when the key is
// missing, hard-expired, or stamped with a superseded module version.
// On a hit it refreshes the access metadata and reports whether the
// value is already stale.
func (s *store) get(key string) (data any, stale bool, ok bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, exists := s.entries[key]
	if !exists {
		s.misses++
		return nil, false, false
	}

	if now.After(ent.staleAt) || ent.version != s.version {
		delete(s.entries, key)
		s.misses++
		return nil, false, false
	}

	ent.lastAccessedAt = now
	ent.hits++
	s.hits++

	return ent.data, now.After(ent.expiresAt), true
}

// set inserts or overwrites the entry for key, evicting a batch of
// low-score entries first when the store is at capacity. The entry is
// stamped with the module's current version.
func (s *store) set(key string, data any, ttl time.Duration, tags []string) {
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	now := time.Now()
	ent := &entry{
		data:           data,
		createdAt:      now,
		lastAccessedAt: now,
		expiresAt:      now.Add(ttl),
		staleAt:        now.Add(ttl + s.cfg.StaleWindow),
		tags:           tags,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ent.version = s.version

	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.cfg.Capacity {
		s.evictBatch(now)
		if len(s.entries) >= s.cfg.Capacity {
			// Eviction failed to make room. Serving without caching is
			// safer than breaking the capacity bound.
			vlog.Errorf("dashcache capacity invariant violation | module: %s | size: %d", s.module, len(s.entries))
			return
		}
	}

	s.entries[key] = ent
}

// delete removes a single key, reporting whether it existed.
func (s *store) delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.entries[key]
	delete(s.entries, key)
	return existed
}

// evictByTag removes every entry carrying tag and returns the count.
func (s *store) evictByTag(tag string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ent := range s.entries {
		if ent.hasTag(tag) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// bumpVersion advances the module version and drops every entry,
// returning the new version and the number of entries dropped.
// Entries stamped with the old version would be filtered by get
// anyway; dropping them eagerly frees the memory.
func (s *store) bumpVersion() (uint64, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := len(s.entries)
	s.version++
	s.entries = make(map[string]*entry)
	return s.version, dropped
}

// clear drops all entries and resets the hit/miss counters.
// The version counter survives so stamped entries stay comparable.
func (s *store) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.hits = 0
	s.misses = 0
	s.dbFallbacks = 0
}

// sweep removes hard-expired entries, returning the number removed.
func (s *store) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, ent := range s.entries {
		if now.After(ent.staleAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *store) recordFallback() {
	s.mu.Lock()
	s.dbFallbacks++
	s.mu.Unlock()
}

// score rates an entry for eviction: higher means more worth keeping.
// Weighted blend of access frequency and recency, so hot keys survive
// a burst of one-off queries and one-time spikes still age out.
func (e *entry) score(now time.Time) float64 {
	frequency := float64(min(e.hits, 100)) / 100

	lifetime := now.Sub(e.createdAt)
	sinceAccess := now.Sub(e.lastAccessedAt)
	recency := 1 - sinceAccess.Seconds()/(lifetime.Seconds()+1)

	return 0.6*frequency + 0.4*recency
}

// evictBatch removes the lowest-scoring tenth of capacity (at least
// one entry) in a single pass. Batching amortizes eviction cost under
// bursty growth. Caller must hold the mutex.
func (s *store) evictBatch(now time.Time) {
	batch := max(1, s.cfg.Capacity/10)

	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(s.entries))
	for key, ent := range s.entries {
		ranked = append(ranked, scored{key: key, score: ent.score(now)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].score < ranked[j].score
	})

	if batch > len(ranked) {
		batch = len(ranked)
	}
	for _, victim := range ranked[:batch] {
		delete(s.entries, victim.key)
	}

	vlog.Debugf("dashcache evicted batch | module: %s | evicted: %d | size: %d", s.module, batch, len(s.entries))
}

// ModuleStats is a read-only snapshot of one module's cache state,
// consumed by the operational dashboard.
type ModuleStats struct {
	Module      Module  `json:"module"`
	Entries     int     `json:"entries"`
	Capacity    int     `json:"capacity"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	DBFallbacks uint64  `json:"dbFallbacks"`
	HitRate     float64 `json:"hitRate"`
	Version     uint64  `json:"version"`
}

func (s *store) stats() ModuleStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := ModuleStats{
		Module:      s.module,
		Entries:     len(s.entries),
		Capacity:    s.cfg.Capacity,
		Hits:        s.hits,
		Misses:      s.misses,
		DBFallbacks: s.dbFallbacks,
		Version:     s.version,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	return st
}
