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

import "strings"

// Cache keys and tags are plain strings built from shared naming
// conventions, so that write paths and read paths agree on scope
// without seeing each other's code. Keys identify one cached value;
// tags group entries for bulk invalidation.

// OrgKey builds the key for an organization-scoped module listing,
// e.g. "org:42:clusters".
func OrgKey(orgID string, module Module) string {
	return "org:" + orgID + ":" + string(module)
}

// SlugKey builds the key for a slug lookup, e.g. "slug:edge-west".
func SlugKey(slug string) string {
	return "slug:" + slug
}

// IDKey builds the key for a primary-key lookup, e.g. "id:42".
func IDKey(id string) string {
	return "id:" + id
}

// JoinKey concatenates arbitrary key parts with the ":" separator.
func JoinKey(parts ...string) string {
	return strings.Join(parts, ":")
}

// OrgTag labels an entry as belonging to one organization.
func OrgTag(orgID string) string {
	return "org:" + orgID
}

// ClusterTag labels an entry as derived from one cluster.
func ClusterTag(clusterID string) string {
	return "cluster:" + clusterID
}

// EndpointTag labels an entry as derived from one endpoint.
func EndpointTag(endpointID string) string {
	return "endpoint:" + endpointID
}
