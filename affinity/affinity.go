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

// Package affinity maps (endpoint, client) pairs to backends for
// sticky-session routing. The mapping is client-driven state, not
// database-derived, so its lifecycle is pure TTL: no versioning, no
// tag invalidation, no database loader.
package affinity

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Map is a TTL-bounded sticky-session table. Entries expire ttl after
// the last Assign; capacity overflow evicts least-recently-assigned
// pairs first.
type Map struct {
	lru *expirable.LRU[string, string]
}

// New creates an affinity map holding at most size pairs, each valid
// for ttl after assignment.
func New(size int, ttl time.Duration) *Map {
	return &Map{
		lru: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// pairKey joins endpoint and client. NUL can not appear in either
// part, so the join is unambiguous and prefix scans stay exact.
func pairKey(endpointID, clientKey string) string {
	return endpointID + "\x00" + clientKey
}

// Assign pins a client of an endpoint to a backend, resetting the
// pair's TTL.
func (m *Map) Assign(endpointID, clientKey, backendID string) {
	m.lru.Add(pairKey(endpointID, clientKey), backendID)
}

// Lookup returns the pinned backend for a client of an endpoint.
func (m *Map) Lookup(endpointID, clientKey string) (backendID string, ok bool) {
	return m.lru.Get(pairKey(endpointID, clientKey))
}

// Forget drops one pair, reporting whether it existed.
func (m *Map) Forget(endpointID, clientKey string) bool {
	return m.lru.Remove(pairKey(endpointID, clientKey))
}

// ForgetEndpoint drops every client pinned to the endpoint, returning
// the count. Used when an endpoint is deleted or its backend set is
// rebuilt.
func (m *Map) ForgetEndpoint(endpointID string) int {
	prefix := endpointID + "\x00"

	removed := 0
	for _, key := range m.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			if m.lru.Remove(key) {
				removed++
			}
		}
	}
	return removed
}

// Len returns the number of live pairs.
func (m *Map) Len() int {
	return m.lru.Len()
}

// Purge drops every pair.
func (m *Map) Purge() {
	m.lru.Purge()
}
