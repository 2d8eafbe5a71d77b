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

	"github.com/pkg/errors"
	"github.com/vogo/vogo/vlog"

	"github.com/edgeplane/dashcache/internal/engines"
)

// The façade is what route handlers call. It fixes the module, the
// key convention and the ownership tags, keeps the engine itself
// type-agnostic, and never bypasses the stale-while-revalidate read
// path.

// GetCached is the typed get-or-fetch: the engine caches any, the
// façade pins the payload type per call site.
func GetCached[T any](ctx context.Context, e *Engine, module Module, key string, loader func(ctx context.Context) (T, error), tags ...string) (T, error) {
	data, err := e.GetOrFetch(ctx, module, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	}, tags...)
	if err != nil {
		var zero T
		return zero, err
	}

	typed, ok := data.(T)
	if !ok {
		// Two call sites cached different types under one key.
		var zero T
		return zero, errors.Errorf("dashcache: wrong cached type for %s/%s: %T", module, key, data)
	}
	return typed, nil
}

// ForOrg caches an organization-scoped listing under the
// "org:<id>:<module>" key, tagged for org-scoped invalidation.
func ForOrg[T any](ctx context.Context, e *Engine, module Module, orgID string, loader func(ctx context.Context) (T, error)) (T, error) {
	return GetCached(ctx, e, module, OrgKey(orgID, module), loader, OrgTag(orgID))
}

// BySlug caches a slug lookup under the "slug:<slug>" key. An orgID
// tag is attached when known so org-scoped invalidation reaches it.
func BySlug[T any](ctx context.Context, e *Engine, module Module, slug, orgID string, loader func(ctx context.Context) (T, error)) (T, error) {
	tags := []string{}
	if orgID != "" {
		tags = append(tags, OrgTag(orgID))
	}
	return GetCached(ctx, e, module, SlugKey(slug), loader, tags...)
}

// ByID caches a primary-key lookup under the "id:<id>" key.
func ByID[T any](ctx context.Context, e *Engine, module Module, id, orgID string, loader func(ctx context.Context) (T, error)) (T, error) {
	tags := []string{}
	if orgID != "" {
		tags = append(tags, OrgTag(orgID))
	}
	return GetCached(ctx, e, module, IDKey(id), loader, tags...)
}

// GetCachedData is the legacy untyped entry point kept for old call
// sites that pass module names as strings. Unknown names fall back to
// the generic module instead of failing. New code should use
// GetCached with a Module constant.
func GetCachedData(ctx context.Context, e *Engine, moduleName, key string, loader Loader, tags ...string) (any, error) {
	module, err := ParseModule(moduleName)
	if err != nil {
		vlog.Infof("dashcache legacy module name %q routed to generic", moduleName)
		module = ModuleGeneric
	}
	return e.GetOrFetch(ctx, module, key, loader, tags...)
}

// ClearAllCaches wipes every cache engine in the process. Admin and
// debug tooling only.
func ClearAllCaches() {
	engines.ForEach(func(r engines.Resettable) {
		r.ClearAll()
	})
}
