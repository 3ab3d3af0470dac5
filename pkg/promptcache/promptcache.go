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

// Package promptcache arranges a turn's messages into provider prompt-cache
// tiers: a PERMANENT-cached system prompt, up to three TTL-cached blocks of
// synthesized historical transcript, and an uncached live tail. Providers
// without explicit caching get a plain [system]+messages pass-through.
package promptcache

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

const (
	// ProviderCacheCap is the provider limit on cache_control blocks.
	ProviderCacheCap = 4

	// systemCacheGateTokens is the minimum system-prompt size worth a
	// PERMANENT cache slot.
	systemCacheGateTokens = 512

	// minLiveMessages is the floor on uncached recent turns.
	minLiveMessages = 4

	// maxHistoryBlocks leaves one provider cache slot for the system
	// prompt.
	maxHistoryBlocks = ProviderCacheCap - 1

	// minContextWindow guards against a misconfigured model registry.
	minContextWindow = 128000
)

// cachingModelPrefixes identifies providers with explicit prompt caching.
var cachingModelPrefixes = []string{
	"claude", "anthropic", "gemini", "google",
}

// SupportsCaching reports whether the model's provider exposes explicit
// prompt caching.
func SupportsCaching(model string) bool {
	lowered := strings.ToLower(model)
	for _, prefix := range cachingModelPrefixes {
		if strings.HasPrefix(lowered, prefix) || strings.Contains(lowered, "/"+prefix) {
			return true
		}
	}
	return false
}

// CacheTTLSeconds selects the TTL tier for historical cache blocks by
// context-window class. Bigger windows hold conversations that live
// longer between turns.
func CacheTTLSeconds(contextWindow int) int {
	switch {
	case contextWindow >= 2000000:
		return 6 * 3600
	case contextWindow >= 1000000:
		return 4 * 3600
	case contextWindow >= 400000:
		return 2 * 3600
	default:
		return 45 * 60
	}
}

// LiveBudget returns the token budget for the uncached live tail.
func LiveBudget(contextWindow int) int {
	budget := (contextWindow*7 + 99) / 100
	if budget < 4096 {
		budget = 4096
	}
	cap := contextWindow * 12 / 100
	if cap < 16384 {
		cap = 16384
	}
	if budget > cap {
		budget = cap
	}
	return budget
}

// Planner assembles the tiered message list.
type Planner struct {
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates a Planner.
func New(counter *tokens.Counter, logger *zap.Logger) *Planner {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{counter: counter, logger: logger}
}

// Plan returns the final ordered message list for the provider call.
// messages must not contain system roles; the system prompt is passed
// separately and leads the output.
func (p *Planner) Plan(systemPrompt string, messages []types.Message, model string) []types.Message {
	if !SupportsCaching(model) {
		return p.passthrough(systemPrompt, messages)
	}

	contextWindow := tokens.ContextWindow(model)
	if contextWindow < minContextWindow {
		contextWindow = minContextWindow
	}

	out := make([]types.Message, 0, len(messages)+ProviderCacheCap)

	system := types.Message{Role: types.RoleSystem, Content: systemPrompt}
	if p.counter.Count(systemPrompt) >= systemCacheGateTokens {
		system.CacheControl = &types.CacheControl{Type: types.CachePermanent}
	}
	out = append(out, system)

	historical, live := p.splitLive(messages, contextWindow)

	ttl := fmt.Sprintf("%ds", CacheTTLSeconds(contextWindow))
	for _, chunk := range p.chunkHistory(historical, contextWindow) {
		out = append(out, types.Message{
			Role:         types.RoleSystem,
			Content:      renderTranscript(chunk),
			CacheControl: &types.CacheControl{Type: types.CacheTTL, MaxTTL: ttl},
		})
	}

	// The live tail is deep-copied but otherwise untouched; the message
	// store must never observe cache annotations.
	out = append(out, types.CloneMessages(live)...)

	return p.enforceCacheCap(out)
}

func (p *Planner) passthrough(systemPrompt string, messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages)+1)
	out = append(out, types.Message{Role: types.RoleSystem, Content: systemPrompt})
	out = append(out, messages...)
	return out
}

// splitLive walks newest to oldest, growing the live tail until adding the
// next message would exceed the live budget and the minimum live count is
// already met.
func (p *Planner) splitLive(messages []types.Message, contextWindow int) (historical, live []types.Message) {
	budget := LiveBudget(contextWindow)

	liveTokens := 0
	split := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost := p.counter.CountMessage(messages[i])
		liveCount := len(messages) - split
		if liveTokens+cost > budget && liveCount >= minLiveMessages {
			break
		}
		liveTokens += cost
		split = i
	}
	return messages[:split], messages[split:]
}

// chunkHistory packs historical messages greedily into at most
// maxHistoryBlocks chunks, rotating the target size after each emission.
// An overflow fourth chunk merges into the third.
func (p *Planner) chunkHistory(historical []types.Message, contextWindow int) [][]types.Message {
	if len(historical) == 0 {
		return nil
	}

	costs := make([]int, len(historical))
	total := 0
	for i, m := range historical {
		costs[i] = p.counter.CountMessage(m)
		total += costs[i]
	}

	maxChunk := contextWindow * 75 / 1000
	if maxChunk < 12000 {
		maxChunk = 12000
	}

	var chunks [][]types.Message
	remaining := total
	start := 0
	for start < len(historical) {
		blocksLeft := maxHistoryBlocks - len(chunks)
		if blocksLeft <= 0 {
			// Merge the tail into the last chunk rather than spend a
			// fourth cache slot.
			last := len(chunks) - 1
			chunks[last] = append(chunks[last], historical[start:]...)
			break
		}

		target := (remaining + blocksLeft - 1) / blocksLeft
		if target > maxChunk {
			target = maxChunk
		}
		if target < 2048 {
			target = 2048
		}

		size := 0
		end := start
		for end < len(historical) {
			if size > 0 && size+costs[end] > target {
				break
			}
			size += costs[end]
			end++
		}
		chunks = append(chunks, historical[start:end])
		remaining -= size
		start = end
	}
	return chunks
}

// renderTranscript serializes a chunk into a deterministic role-labeled
// transcript for a synthetic cache-block message.
func renderTranscript(chunk []types.Message) string {
	var b strings.Builder
	b.WriteString("Prior conversation context (cached block).\n")
	for _, m := range chunk {
		b.WriteString("\n[" + m.Role + "]\n")
		b.WriteString(m.Text())
		b.WriteString("\n")
	}
	return b.String()
}

// enforceCacheCap strips cache_control from the oldest annotated messages
// until at most ProviderCacheCap remain.
func (p *Planner) enforceCacheCap(msgs []types.Message) []types.Message {
	annotated := 0
	for _, m := range msgs {
		if m.CacheControl != nil {
			annotated++
		}
	}
	if annotated <= ProviderCacheCap {
		return msgs
	}

	excess := annotated - ProviderCacheCap
	p.logger.Warn("promptcache: cache blocks over provider cap, stripping oldest",
		zap.Int("annotated", annotated), zap.Int("cap", ProviderCacheCap))
	// Oldest TTL blocks go first; the system prompt's PERMANENT directive
	// is only stripped when TTL blocks alone cannot satisfy the cap.
	for i := range msgs {
		if excess == 0 {
			break
		}
		if msgs[i].CacheControl != nil && msgs[i].CacheControl.Type != types.CachePermanent {
			msgs[i].CacheControl = nil
			excess--
		}
	}
	for i := range msgs {
		if excess == 0 {
			break
		}
		if msgs[i].CacheControl != nil {
			msgs[i].CacheControl = nil
			excess--
		}
	}
	return msgs
}
