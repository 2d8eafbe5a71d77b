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
	"time"

	"github.com/pkg/errors"
)

// Module names a category of cached data sharing one capacity,
// freshness window and invalidation policy.
type Module string

// The closed set of cache modules. Referencing a module outside
// this set is a programming error, not a runtime condition.
const (
	ModuleEndpoints      Module = "endpoints"
	ModuleClusters       Module = "clusters"
	ModuleBackends       Module = "backends"
	ModuleLoadBalancer   Module = "loadBalancer"
	ModuleRoutingPolicy  Module = "routingPolicy"
	ModuleExperiment     Module = "experiment"
	ModuleReplica        Module = "replica"
	ModuleCircuitBreaker Module = "circuitBreaker"
	ModuleHealthCheck    Module = "healthCheck"
	ModuleUser           Module = "user"
	ModuleOrganization   Module = "organization"
	ModuleFederation     Module = "federation"
	ModuleGeneric        Module = "generic"
)

var knownModules = map[Module]bool{
	ModuleEndpoints:      true,
	ModuleClusters:       true,
	ModuleBackends:       true,
	ModuleLoadBalancer:   true,
	ModuleRoutingPolicy:  true,
	ModuleExperiment:     true,
	ModuleReplica:        true,
	ModuleCircuitBreaker: true,
	ModuleHealthCheck:    true,
	ModuleUser:           true,
	ModuleOrganization:   true,
	ModuleFederation:     true,
	ModuleGeneric:        true,
}

// Valid reports whether m is one of the known modules.
func (m Module) Valid() bool {
	return knownModules[m]
}

// ParseModule converts a module name to a Module, failing on names
// outside the known set. Callers that must tolerate legacy names
// should use GetCachedData instead.
func ParseModule(name string) (Module, error) {
	m := Module(name)
	if !m.Valid() {
		return "", errors.Errorf("unknown cache module %q", name)
	}
	return m, nil
}

// ChangeType classifies a write-path mutation for invalidation events.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ModuleConfig holds the static per-module cache settings.
// Capacity is the max entry count before eviction. TTL is the fresh
// window; StaleWindow extends it for stale-while-revalidate serving,
// so the hard expiry of an entry is set TTL+StaleWindow after creation.
type ModuleConfig struct {
	Capacity    int
	TTL         time.Duration
	StaleWindow time.Duration
}

// defaultConfigs are the per-module settings. Hot, frequently
// re-rendered lists (clusters, endpoints) get larger capacity and a
// short fresh window; near-static data (organization, user) keeps a
// longer one. Modules not listed use genericConfig.
var defaultConfigs = map[Module]ModuleConfig{
	ModuleEndpoints:      {Capacity: 500, TTL: 30 * time.Second, StaleWindow: 60 * time.Second},
	ModuleClusters:       {Capacity: 500, TTL: 30 * time.Second, StaleWindow: 60 * time.Second},
	ModuleBackends:       {Capacity: 1000, TTL: 30 * time.Second, StaleWindow: 60 * time.Second},
	ModuleLoadBalancer:   {Capacity: 200, TTL: 60 * time.Second, StaleWindow: 120 * time.Second},
	ModuleRoutingPolicy:  {Capacity: 200, TTL: 60 * time.Second, StaleWindow: 120 * time.Second},
	ModuleExperiment:     {Capacity: 200, TTL: 30 * time.Second, StaleWindow: 60 * time.Second},
	ModuleReplica:        {Capacity: 1000, TTL: 15 * time.Second, StaleWindow: 30 * time.Second},
	ModuleCircuitBreaker: {Capacity: 500, TTL: 15 * time.Second, StaleWindow: 30 * time.Second},
	ModuleHealthCheck:    {Capacity: 1000, TTL: 10 * time.Second, StaleWindow: 20 * time.Second},
	ModuleUser:           {Capacity: 2000, TTL: 5 * time.Minute, StaleWindow: 5 * time.Minute},
	ModuleOrganization:   {Capacity: 500, TTL: 5 * time.Minute, StaleWindow: 5 * time.Minute},
	ModuleFederation:     {Capacity: 100, TTL: 60 * time.Second, StaleWindow: 120 * time.Second},
}

var genericConfig = ModuleConfig{Capacity: 500, TTL: 30 * time.Second, StaleWindow: 60 * time.Second}

// configFor returns the static config for m.
func configFor(m Module) ModuleConfig {
	if cfg, ok := defaultConfigs[m]; ok {
		return cfg
	}
	return genericConfig
}
