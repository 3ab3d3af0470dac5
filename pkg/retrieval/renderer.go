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

// Package retrieval turns a ContextPlan into the AUTO-LOADED CONTEXT block
// appended to the system prompt for one turn. Selected artifacts render as
// stubs or as hydrated excerpts depending on size gates and the planner's
// stated reason.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/planner"
)

// Hydration gates. Artifacts at or under the unconditional gate hydrate
// always; up to the keyword gate they hydrate when the planner's reason
// signals the content is needed verbatim.
const (
	HydrateGateNormal            = 2000
	HydrateKeywordGateNormal     = 5000
	HydrateGateAggressive        = 900
	HydrateKeywordGateAggressive = 3200

	ExcerptCapNormal     = 4000
	ExcerptCapAggressive = 1500

	stubSummaryCapNormal     = 480
	stubSummaryCapAggressive = 280
)

// hydrationKeywords in the planner's reason signal verbatim use of the
// artifact body.
var hydrationKeywords = []string{
	"insert", "include", "verbatim", "quote", "paste", "deliverable",
	"final draft", "document body", "table", "chart data", "appendix",
}

// ArtifactStat is the per-artifact telemetry row.
type ArtifactStat struct {
	Key       string `json:"key"`
	Scope     string `json:"scope"`
	Hydrated  bool   `json:"hydrated"`
	EstTokens int    `json:"est_tokens"`
	SizeChars int    `json:"size_chars"`
	CacheMiss bool   `json:"cache_miss,omitempty"`
}

// Telemetry summarizes one render.
type Telemetry struct {
	AggressiveMode    bool           `json:"aggressive_mode"`
	InstructionCount  int            `json:"instruction_count"`
	ArtifactCount     int            `json:"artifact_count"`
	HydratedCount     int            `json:"hydrated_count"`
	StubCount         int            `json:"stub_count"`
	EstTokensHydrated int            `json:"est_tokens_hydrated"`
	EstTokensStubbed  int            `json:"est_tokens_stubbed"`
	Artifacts         []ArtifactStat `json:"artifacts"`
	InstructionTags   []string       `json:"instruction_tags"`
}

// Renderer renders plans against the artifact store.
type Renderer struct {
	store  *kvstore.Store
	logger *zap.Logger
}

// New creates a Renderer.
func New(store *kvstore.Store, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{store: store, logger: logger}
}

// Render produces the context block and its telemetry. An empty plan
// yields an empty string.
func (r *Renderer) Render(ctx context.Context, plan *planner.ContextPlan, catalog []planner.ArtifactCandidate, projectSummary string, aggressive bool) (string, *Telemetry) {
	tel := &Telemetry{
		AggressiveMode:  aggressive,
		InstructionTags: plan.InstructionTags(),
	}

	byKey := make(map[string]planner.ArtifactCandidate, len(catalog))
	for _, c := range catalog {
		scope := c.Scope
		if scope == "" {
			scope = string(kvstore.ScopeArtifacts)
		}
		byKey[scope+"/"+c.Key] = c
	}

	var body strings.Builder

	if instructions := r.renderInstructions(ctx, plan, tel); instructions != "" {
		body.WriteString(instructions)
	}
	if artifacts := r.renderArtifacts(ctx, plan, byKey, aggressive, tel); artifacts != "" {
		body.WriteString(artifacts)
	}

	if body.Len() == 0 {
		return "", tel
	}

	var out strings.Builder
	out.WriteString("\n\n# AUTO-LOADED CONTEXT\n")
	if plan.Reasoning != "" {
		out.WriteString("Planner rationale: " + plan.Reasoning + "\n")
	}
	if plan.IncludeProjectSummary && strings.TrimSpace(projectSummary) != "" {
		out.WriteString("\n## Project Summary\n")
		out.WriteString(strings.TrimSpace(projectSummary))
		out.WriteString("\n")
	}
	out.WriteString(body.String())
	return out.String(), tel
}

func (r *Renderer) renderInstructions(ctx context.Context, plan *planner.ContextPlan, tel *Telemetry) string {
	var b strings.Builder
	for _, sel := range plan.Instructions {
		content, err := r.store.GetString(ctx, kvstore.ScopeInstructions, "instruction_"+sel.Tag)
		if err != nil {
			r.logger.Debug("retrieval: instruction miss",
				zap.String("tag", sel.Tag), zap.Error(err))
			continue
		}
		if b.Len() == 0 {
			b.WriteString("\n## Auto-loaded Instructions\n")
		}
		b.WriteString("\n### " + sel.Tag + "\n")
		b.WriteString(strings.TrimSpace(content))
		b.WriteString("\n")
		tel.InstructionCount++
	}
	return b.String()
}

func (r *Renderer) renderArtifacts(ctx context.Context, plan *planner.ContextPlan, byKey map[string]planner.ArtifactCandidate, aggressive bool, tel *Telemetry) string {
	var b strings.Builder
	for _, sel := range plan.Artifacts {
		cand := byKey[sel.Scope+"/"+sel.Key]
		stat := ArtifactStat{
			Key:       sel.Key,
			Scope:     sel.Scope,
			EstTokens: cand.SizeTokens,
			SizeChars: cand.SizeChars,
		}

		var value any
		var haveValue bool
		if v, err := r.store.Get(ctx, kvstore.Scope(sel.Scope), sel.Key, kvstore.AsAuto); err == nil {
			value, haveValue = v, true
		} else {
			// Expired or missing entries keep their stub; the agent can
			// re-derive the artifact on demand.
			stat.CacheMiss = true
			r.logger.Debug("retrieval: artifact miss",
				zap.String("scope", sel.Scope), zap.String("key", sel.Key), zap.Error(err))
		}

		hydrate := haveValue && shouldHydrate(cand, sel.Reason, aggressive)

		if b.Len() == 0 {
			b.WriteString("\n## Auto-loaded Artifacts\n")
		}
		b.WriteString(renderStub(sel, cand, aggressive))
		if hydrate {
			b.WriteString(renderExcerpt(value, aggressive))
			stat.Hydrated = true
			tel.HydratedCount++
			tel.EstTokensHydrated += cand.SizeTokens
		} else {
			tel.StubCount++
			tel.EstTokensStubbed += cand.SizeTokens
		}
		tel.ArtifactCount++
		tel.Artifacts = append(tel.Artifacts, stat)
	}
	return b.String()
}

// shouldHydrate applies the forced-tool override and the size gates.
func shouldHydrate(cand planner.ArtifactCandidate, reason string, aggressive bool) bool {
	if forced, ok := cand.Metadata["forced_for_tool"].(string); ok && forced == "create_document" {
		return true
	}

	keywordHit := reasonHasHydrationKeyword(reason)
	if cand.SizeTokens <= 0 {
		// Unknown size: only a keyword hit justifies the gamble, and only
		// outside aggressive mode.
		return keywordHit && !aggressive
	}

	gate, keywordGate := HydrateGateNormal, HydrateKeywordGateNormal
	if aggressive {
		gate, keywordGate = HydrateGateAggressive, HydrateKeywordGateAggressive
	}
	if cand.SizeTokens <= gate {
		return true
	}
	return keywordHit && cand.SizeTokens <= keywordGate
}

func reasonHasHydrationKeyword(reason string) bool {
	lowered := strings.ToLower(reason)
	for _, kw := range hydrationKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

func renderStub(sel planner.ArtifactSelection, cand planner.ArtifactCandidate, aggressive bool) string {
	summaryCap := stubSummaryCapNormal
	if aggressive {
		summaryCap = stubSummaryCapAggressive
	}
	summary := strings.TrimSpace(cand.Summary)
	if len(summary) > summaryCap {
		summary = cutRunes(summary, summaryCap)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("\n### %s (%s)\n", sel.Key, sel.Scope))
	if summary != "" {
		b.WriteString("- Summary: " + summary + "\n")
	}
	if sel.Reason != "" {
		b.WriteString("- Selected because: " + sel.Reason + "\n")
	}
	if cand.SizeTokens > 0 {
		b.WriteString(fmt.Sprintf("- Estimated tokens: %d\n", cand.SizeTokens))
	}
	if cand.SizeChars > 0 {
		b.WriteString(fmt.Sprintf("- Size: %d chars\n", cand.SizeChars))
	}
	if cand.CachedAt != "" {
		b.WriteString("- Cached at: " + cand.CachedAt + "\n")
	}
	if cand.OriginTool != "" {
		b.WriteString("- Origin tool: " + cand.OriginTool + "\n")
	}
	b.WriteString("- Additional slices will be hydrated on demand.\n")
	return b.String()
}

func renderExcerpt(value any, aggressive bool) string {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		encoded, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			encoded, _ = json.Marshal(v)
		}
		text = string(encoded)
	}

	cap := ExcerptCapNormal
	if aggressive {
		cap = ExcerptCapAggressive
	}
	if len(text) > cap {
		text = cutRunes(text, cap) + "...[truncated]"
	}
	return "\nHydrated excerpt:\n```\n" + text + "\n```\n"
}

// cutRunes returns the leading n bytes of s, backed up to a rune boundary.
func cutRunes(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
