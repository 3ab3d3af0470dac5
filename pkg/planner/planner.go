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

// Package planner produces a per-turn ContextPlan: which cached
// instructions and artifacts to load into the system prompt. A small
// low-temperature model proposes the plan; the output is schema-validated
// and sanitized against the catalogs, with a deterministic keyword
// fallback when the model call fails or produces no usable JSON.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/types"
)

// Planner call bounds.
const (
	PlannerTemperature = 0.1
	PlannerMaxTokens   = 250

	// DefaultMaxInstructions and DefaultMaxArtifacts bound the plan size.
	DefaultMaxInstructions = 3
	DefaultMaxArtifacts    = 3

	// DefaultArtifactCatalogCap bounds the recency-sorted artifact catalog
	// offered to the model.
	DefaultArtifactCatalogCap = 8

	// projectSummaryPreviewChars trims the summary preview in the payload.
	projectSummaryPreviewChars = 400

	// FallbackReasoning is the reasoning string attached to keyword plans.
	FallbackReasoning = "Fallback keyword heuristic"
)

// InstructionCandidate is one entry of the instruction catalog.
type InstructionCandidate struct {
	Tag     string `json:"tag"`
	Summary string `json:"summary,omitempty"`
}

// ArtifactCandidate is one entry of the artifact catalog, sorted by
// recency before capping.
type ArtifactCandidate struct {
	Key        string         `json:"key"`
	Scope      string         `json:"scope"`
	Summary    string         `json:"summary,omitempty"`
	SizeTokens int            `json:"size_tokens,omitempty"`
	SizeChars  int            `json:"size_chars,omitempty"`
	CachedAt   string         `json:"cached_at,omitempty"`
	OriginTool string         `json:"origin_tool,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ArtifactSelection is one selected artifact with the planner's reason.
type ArtifactSelection struct {
	Key    string `json:"key"`
	Scope  string `json:"scope"`
	Reason string `json:"reason"`
}

// InstructionSelection is one selected instruction with the planner's
// reason.
type InstructionSelection struct {
	Tag    string `json:"tag"`
	Reason string `json:"reason"`
}

// ContextPlan is the sanitized output of one planning call.
type ContextPlan struct {
	Instructions          []InstructionSelection `json:"instructions"`
	Artifacts             []ArtifactSelection    `json:"artifacts"`
	IncludeProjectSummary bool                   `json:"include_project_summary"`
	Reasoning             string                 `json:"reasoning"`
}

// InstructionTags returns the selected tags in order.
func (p *ContextPlan) InstructionTags() []string {
	tags := make([]string, 0, len(p.Instructions))
	for _, sel := range p.Instructions {
		tags = append(tags, sel.Tag)
	}
	return tags
}

// HasTag reports whether tag was selected.
func (p *ContextPlan) HasTag(tag string) bool {
	for _, sel := range p.Instructions {
		if sel.Tag == tag {
			return true
		}
	}
	return false
}

// Request carries the inputs for one planning call.
type Request struct {
	UserRequest           string
	InstructionCatalog    []InstructionCandidate
	ArtifactCatalog       []ArtifactCandidate // recency-sorted; capped
	ProjectSummaryPreview string
	RecentContextHint     string
	AggressiveMode        bool
	MaxInstructions       int // 0 means DefaultMaxInstructions
	MaxArtifacts          int // 0 means DefaultMaxArtifacts
}

// planSchema validates the raw model output before sanitization.
const planSchema = `{
	"type": "object",
	"properties": {
		"instructions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tag":    {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["tag"]
			}
		},
		"artifacts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"key":    {"type": "string"},
					"scope":  {"type": "string"},
					"reason": {"type": "string"}
				},
				"required": ["key"]
			}
		},
		"include_project_summary": {"type": "boolean"},
		"reasoning":               {"type": "string"}
	}
}`

// keywordRoutes drives the deterministic fallback, checked in declaration
// order against the lowercased user request.
var keywordRoutes = []struct {
	tag      string
	keywords []string
}{
	{"presentation", []string{"presentation", "slide", "slides", "deck", "powerpoint", "pptx"}},
	{"document_creation", []string{"document", "report", "write up", "writeup", "docx", "essay"}},
	{"research", []string{"research", "investigate", "find out", "look up", "sources"}},
	{"visualization", []string{"chart", "graph", "plot", "visualize", "visualization", "diagram"}},
	{"web_development", []string{"website", "web app", "webapp", "web-app", "deploy", "landing page", "html"}},
}

// Planner selects cached context for the current turn.
type Planner struct {
	provider types.LLMProvider
	schema   *gojsonschema.Schema
	logger   *zap.Logger
}

// New creates a Planner backed by a small planner model. The provider may
// be nil, in which case every Plan call takes the fallback path.
func New(provider types.LLMProvider, logger *zap.Logger) (*Planner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(planSchema))
	if err != nil {
		return nil, fmt.Errorf("planner: compile schema: %w", err)
	}
	return &Planner{provider: provider, schema: schema, logger: logger}, nil
}

// Plan produces a sanitized ContextPlan for the request. It never returns
// an error to the caller: any failure degrades to the keyword fallback.
func (p *Planner) Plan(ctx context.Context, req Request) *ContextPlan {
	maxInstructions := req.MaxInstructions
	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}
	maxArtifacts := req.MaxArtifacts
	if maxArtifacts <= 0 {
		maxArtifacts = DefaultMaxArtifacts
	}

	plan, err := p.planWithModel(ctx, req, maxInstructions, maxArtifacts)
	if err != nil {
		p.logger.Debug("planner: model plan failed, using keyword fallback",
			zap.Error(err))
		plan = FallbackPlan(req.UserRequest, maxInstructions)
	}

	// A document plan without visualization produces charts-as-text; the
	// visualization instructions must ride along.
	if plan.HasTag("document_creation") && !plan.HasTag("visualization") {
		plan.Instructions = append(plan.Instructions, InstructionSelection{
			Tag:    "visualization",
			Reason: "required companion for document_creation",
		})
	}
	return plan
}

func (p *Planner) planWithModel(ctx context.Context, req Request, maxInstructions, maxArtifacts int) (*ContextPlan, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("planner: no provider configured")
	}

	payload, err := p.buildPayload(req, maxInstructions, maxArtifacts)
	if err != nil {
		return nil, err
	}

	resp, err := p.provider.Chat(ctx, types.ChatRequest{
		Model: p.provider.Model(),
		Messages: []types.Message{{
			Role:    types.RoleUser,
			Content: payload,
		}},
		Temperature: PlannerTemperature,
		MaxTokens:   PlannerMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: model call: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return nil, fmt.Errorf("planner: empty model output")
	}

	raw, err := ExtractJSONObject(resp.Content)
	if err != nil {
		return nil, err
	}

	result, err := p.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("planner: validate output: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("planner: output failed schema: %v", result.Errors())
	}

	var plan ContextPlan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("planner: decode output: %w", err)
	}
	return p.sanitize(&plan, req, maxInstructions, maxArtifacts), nil
}

func (p *Planner) buildPayload(req Request, maxInstructions, maxArtifacts int) (string, error) {
	catalog := req.ArtifactCatalog
	if len(catalog) > DefaultArtifactCatalogCap {
		catalog = catalog[:DefaultArtifactCatalogCap]
	}
	summary := req.ProjectSummaryPreview
	if len(summary) > projectSummaryPreviewChars {
		n := projectSummaryPreviewChars
		for n > 0 && !utf8.RuneStart(summary[n]) {
			n--
		}
		summary = summary[:n]
	}

	body := map[string]any{
		"user_request":        req.UserRequest,
		"instruction_catalog": req.InstructionCatalog,
		"artifact_catalog":    catalog,
		"aggressive_mode":     req.AggressiveMode,
		"limits": map[string]int{
			"max_instructions": maxInstructions,
			"max_artifacts":    maxArtifacts,
		},
	}
	if summary != "" {
		body["project_summary_preview"] = summary
	}
	if req.RecentContextHint != "" {
		body["recent_context_hint"] = req.RecentContextHint
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("planner: encode payload: %w", err)
	}

	var b strings.Builder
	b.WriteString("You select cached context for an agent's next turn. ")
	b.WriteString("Choose only from the catalogs below. Respond with a single JSON object of the form ")
	b.WriteString(`{"instructions":[{"tag":"...","reason":"..."}],"artifacts":[{"key":"...","scope":"...","reason":"..."}],"include_project_summary":bool,"reasoning":"..."}`)
	b.WriteString(" and nothing else.\n\n")
	b.Write(encoded)
	return b.String(), nil
}

// sanitize drops selections not present in the catalogs, coerces missing
// scopes to artifacts, and truncates to the limits.
func (p *Planner) sanitize(plan *ContextPlan, req Request, maxInstructions, maxArtifacts int) *ContextPlan {
	knownTags := make(map[string]bool, len(req.InstructionCatalog))
	for _, c := range req.InstructionCatalog {
		knownTags[c.Tag] = true
	}
	knownArtifacts := make(map[string]bool, len(req.ArtifactCatalog))
	for _, c := range req.ArtifactCatalog {
		scope := c.Scope
		if scope == "" {
			scope = "artifacts"
		}
		knownArtifacts[scope+"/"+c.Key] = true
	}

	out := &ContextPlan{
		IncludeProjectSummary: plan.IncludeProjectSummary,
		Reasoning:             plan.Reasoning,
	}
	for _, sel := range plan.Instructions {
		if !knownTags[sel.Tag] {
			p.logger.Debug("planner: dropped unknown instruction tag", zap.String("tag", sel.Tag))
			continue
		}
		out.Instructions = append(out.Instructions, sel)
		if len(out.Instructions) >= maxInstructions {
			break
		}
	}
	for _, sel := range plan.Artifacts {
		if sel.Scope == "" {
			sel.Scope = "artifacts"
		}
		if !knownArtifacts[sel.Scope+"/"+sel.Key] {
			p.logger.Debug("planner: dropped unknown artifact",
				zap.String("scope", sel.Scope), zap.String("key", sel.Key))
			continue
		}
		out.Artifacts = append(out.Artifacts, sel)
		if len(out.Artifacts) >= maxArtifacts {
			break
		}
	}
	return out
}

// FallbackPlan synthesizes a plan from keyword heuristics over the
// lowercased user request: first maxInstructions matches in route order,
// no artifacts, no project summary.
func FallbackPlan(userRequest string, maxInstructions int) *ContextPlan {
	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}
	lowered := strings.ToLower(userRequest)

	plan := &ContextPlan{Reasoning: FallbackReasoning}
	for _, route := range keywordRoutes {
		for _, kw := range route.keywords {
			if strings.Contains(lowered, kw) {
				plan.Instructions = append(plan.Instructions, InstructionSelection{
					Tag:    route.tag,
					Reason: "keyword match: " + kw,
				})
				break
			}
		}
		if len(plan.Instructions) >= maxInstructions {
			break
		}
	}
	return plan
}

// ExtractJSONObject returns the first balanced {...} substring of text,
// honoring strings and escapes. Models sometimes wrap the object in prose
// or code fences.
func ExtractJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("planner: no JSON object in output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("planner: unbalanced JSON object in output")
}
