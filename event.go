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

import "time"

// ChangeEvent describes one write-path invalidation applied to a
// module. Listeners receive it synchronously, after the invalidation
// took effect and before the emitting call returns.
type ChangeEvent struct {
	// Engine is the name of the cache engine the change was applied to.
	Engine string `json:"engine"`

	// Instance identifies the process instance that applied it.
	Instance string `json:"instance"`

	// Module is the invalidated module.
	Module Module `json:"module"`

	// Change classifies the triggering mutation.
	Change ChangeType `json:"change"`

	// ResourceID is the mutated resource, when the caller knows it.
	ResourceID string `json:"resource_id,omitempty"`

	// OrgID scopes the invalidation to one organization's entries.
	// Empty means the whole module was invalidated.
	OrgID string `json:"org_id,omitempty"`

	// Version is the module version after the change was applied.
	Version uint64 `json:"version"`

	// Evicted is the number of entries removed by the change.
	Evicted int `json:"evicted"`

	// Timestamp when the invalidation occurred.
	Timestamp time.Time `json:"timestamp"`
}

// ChangeListener observes applied invalidations, for audit trails or
// dashboard activity feeds. Listeners must not call back into the
// engine's invalidation surface.
type ChangeListener func(ChangeEvent)
