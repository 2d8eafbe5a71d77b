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
	"sync"

	"github.com/vogo/vogo/vlog"
	"golang.org/x/sync/singleflight"
)

// flightGroup coalesces loader calls so that at most one loader runs
// per (module, key) at any instant, however many concurrent readers
// miss on it. singleflight makes the check-then-register step atomic;
// all awaiters share the single result or the single error.
type flightGroup struct {
	group singleflight.Group

	// refreshing guards against piling up a goroutine per stale read
	// while one background refresh is already running for the key.
	mu         sync.Mutex
	refreshing map[string]bool
}

func (f *flightGroup) init() {
	f.refreshing = make(map[string]bool)
}

// flightKey scopes coalescing to the (module, key) pair. NUL can not
// appear in either part, so the join is unambiguous.
func flightKey(module Module, key string) string {
	return string(module) + "\x00" + key
}

// load runs the loader through singleflight and writes the result
// into the store. Exactly one of N concurrent callers executes the
// loader; every caller gets the same value or the same error.
//
// The loader runs on a context detached from the caller's: the result
// is shared state, and one awaiter disconnecting must not cancel the
// load for the others. The entry is written inside the flight, once.
func (f *flightGroup) load(ctx context.Context, st *store, key string, loader Loader, tags []string) (any, error) {
	loadCtx := context.WithoutCancel(ctx)

	data, err, _ := f.group.Do(flightKey(st.module, key), func() (any, error) {
		st.recordFallback()

		data, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}

		st.set(key, data, 0, tags)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// refresh starts a background reload for a stale key unless one is
// already in flight. A failed refresh is logged and dropped; the
// store keeps serving the last-known-good stale value until it hard
// expires. A refresh that settles after the module was invalidated
// still writes its result: the data was fetched after the
// invalidation, so it is current, not stale.
func (f *flightGroup) refresh(st *store, key string, loader Loader, tags []string) {
	fk := flightKey(st.module, key)

	f.mu.Lock()
	if f.refreshing[fk] {
		f.mu.Unlock()
		return
	}
	f.refreshing[fk] = true
	f.mu.Unlock()

	go func() {
		defer func() {
			f.mu.Lock()
			delete(f.refreshing, fk)
			f.mu.Unlock()
		}()

		_, err, _ := f.group.Do(fk, func() (any, error) {
			st.recordFallback()

			data, err := loader(context.Background())
			if err != nil {
				return nil, err
			}

			st.set(key, data, 0, tags)
			return data, nil
		})
		if err != nil {
			vlog.Errorf("dashcache background refresh failed | module: %s | key: %s | err: %v", st.module, key, err)
		}
	}()
}
