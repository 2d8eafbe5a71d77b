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

// Package engines tracks the live cache engines of the process so that
// admin tooling can reset or inspect all of them at once.
package engines

import "sync"

// Resettable is implemented by cache engines that can be wiped and
// inspected by process-wide admin operations.
type Resettable interface {
	// Name returns the engine's unique name.
	Name() string

	// ClearAll wipes every module cache owned by the engine.
	ClearAll()
}

type tracker struct {
	mu      sync.RWMutex
	engines map[string]Resettable
}

var global = &tracker{
	engines: make(map[string]Resettable),
}

// Register adds an engine under its name. A later registration with
// the same name replaces the earlier one.
func Register(e Resettable) {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.engines[e.Name()] = e
}

// Unregister removes an engine. Removing an unknown engine is a no-op.
func Unregister(e Resettable) {
	global.mu.Lock()
	defer global.mu.Unlock()

	if current, ok := global.engines[e.Name()]; ok && current == e {
		delete(global.engines, e.Name())
	}
}

// ForEach calls fn for every registered engine. The registry lock is
// not held during fn, so fn may call back into the engine.
func ForEach(fn func(Resettable)) {
	global.mu.RLock()
	snapshot := make([]Resettable, 0, len(global.engines))
	for _, e := range global.engines {
		snapshot = append(snapshot, e)
	}
	global.mu.RUnlock()

	for _, e := range snapshot {
		fn(e)
	}
}

// Count returns the number of registered engines.
func Count() int {
	global.mu.RLock()
	defer global.mu.RUnlock()
	return len(global.engines)
}
