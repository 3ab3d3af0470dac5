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
package llm

import (
	"sync"
	"time"

	"github.com/braid-labs/braid/pkg/types"
)

// usageWindow is the sliding-window span of the tracker.
const usageWindow = 60 * time.Second

type usageSample struct {
	at    time.Time
	usage types.Usage
}

// UsageTracker keeps a rolling 60-second window of token usage. It is
// advisory telemetry only and never feeds back into compression or
// caching decisions. Thread through the orchestrator explicitly rather
// than as a package global.
type UsageTracker struct {
	mu      sync.Mutex
	samples []usageSample
	now     func() time.Time
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{now: time.Now}
}

// Record adds one response's usage to the window.
func (t *UsageTracker) Record(u types.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	t.samples = append(t.samples, usageSample{at: t.now(), usage: u})
}

// WindowTotals returns the summed usage over the trailing window.
func (t *UsageTracker) WindowTotals() types.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())

	var total types.Usage
	for _, s := range t.samples {
		total.InputTokens += s.usage.InputTokens
		total.OutputTokens += s.usage.OutputTokens
		total.CacheReadInputTokens += s.usage.CacheReadInputTokens
		total.CacheCreationInputTokens += s.usage.CacheCreationInputTokens
	}
	return total
}

func (t *UsageTracker) prune(now time.Time) {
	cutoff := now.Add(-usageWindow)
	keep := t.samples[:0]
	for _, s := range t.samples {
		if s.at.After(cutoff) {
			keep = append(keep, s)
		}
	}
	t.samples = keep
}
