// Copyright 2026 Braid Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package kvstore

// Scope partitions the artifact store. Each scope has its own directory,
// index, default TTL and size quota.
type Scope string

const (
	ScopeSystem       Scope = "system"
	ScopeInstructions Scope = "instructions"
	ScopeProject      Scope = "project"
	ScopeTask         Scope = "task"
	ScopeArtifacts    Scope = "artifacts"
)

// AllScopes lists every scope in a stable order.
var AllScopes = []Scope{ScopeSystem, ScopeInstructions, ScopeProject, ScopeTask, ScopeArtifacts}

// ScopeConfig holds the per-scope retention policy.
type ScopeConfig struct {
	DefaultTTLHours int
	MaxSizeMB       int64
}

// Quota returns the scope quota in bytes.
func (c ScopeConfig) Quota() int64 {
	return c.MaxSizeMB * 1024 * 1024
}

// DefaultScopeConfigs returns the required retention policy per scope.
func DefaultScopeConfigs() map[Scope]ScopeConfig {
	return map[Scope]ScopeConfig{
		ScopeSystem:       {DefaultTTLHours: 168, MaxSizeMB: 10},
		ScopeInstructions: {DefaultTTLHours: 168, MaxSizeMB: 5},
		ScopeProject:      {DefaultTTLHours: 72, MaxSizeMB: 20},
		ScopeTask:         {DefaultTTLHours: 24, MaxSizeMB: 100},
		ScopeArtifacts:    {DefaultTTLHours: 48, MaxSizeMB: 200},
	}
}

// ValidScope reports whether s names a known scope.
func ValidScope(s Scope) bool {
	switch s {
	case ScopeSystem, ScopeInstructions, ScopeProject, ScopeTask, ScopeArtifacts:
		return true
	}
	return false
}
