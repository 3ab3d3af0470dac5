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

// Package runner drives one conversation turn end to end: load, prefetch,
// compress, plan, render, cache-tier, govern, dispatch. The authoritative
// message store only ever sees original content; everything the pipeline
// produces is turn-local.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/braid-labs/braid/pkg/compressor"
	"github.com/braid-labs/braid/pkg/convstore"
	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/llm"
	"github.com/braid-labs/braid/pkg/memstore"
	"github.com/braid-labs/braid/pkg/offload"
	"github.com/braid-labs/braid/pkg/planner"
	"github.com/braid-labs/braid/pkg/promptcache"
	"github.com/braid-labs/braid/pkg/retrieval"
	"github.com/braid-labs/braid/pkg/stream"
	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

// Prefetch policy.
const (
	prefetchScanWindow   = 20  // trailing messages scanned for memory refs
	prefetchMaxRefs      = 3   // soft per-turn fetch budget
	prefetchMinTokenLen  = 4   // minimum shared keyword length
	prefetchMaxLines     = 120 // slice cap per prefetched memory
	artifactCatalogLimit = 8
)

// Large outputs move to the memory store; the inline message keeps a
// summary plus a memory_ref.
const (
	memoryOffloadBytes      = 6 * 1024
	memoryOffloadSummaryLen = 800
)

// Config tunes a Runner.
type Config struct {
	Model          string
	FallbackModel  string // optional; used at most once per turn
	SystemPrompt   string
	AggressiveMode bool
	AgentID        string

	// Retry tunes the per-attempt backoff; the zero value uses the
	// default transport budget.
	Retry llm.RetryConfig
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	Response        *types.LLMResponse
	UsedFallback    bool
	CompressionInfo *compressor.Report
	Plan            *planner.ContextPlan
	Retrieval       *retrieval.Telemetry
	AdaptiveInputs  int
	PrefetchedRefs  int
}

// Runner wires the context-management pipeline.
type Runner struct {
	conv        *convstore.Store
	artifacts   *kvstore.Store
	memories    *memstore.Store
	offloader   *offload.Offloader
	counter     *tokens.Counter
	compressor  *compressor.Compressor
	planner     *planner.Planner
	renderer    *retrieval.Renderer
	promptCache *promptcache.Planner
	provider    types.LLMProvider
	fallback    types.LLMProvider
	usage       *llm.UsageTracker
	logger      *zap.Logger
	cfg         Config
}

// Deps carries the Runner's collaborators.
type Deps struct {
	Conv        *convstore.Store
	Artifacts   *kvstore.Store
	Memories    *memstore.Store
	Offloader   *offload.Offloader
	Counter     *tokens.Counter
	Compressor  *compressor.Compressor
	Planner     *planner.Planner
	Renderer    *retrieval.Renderer
	PromptCache *promptcache.Planner
	Provider    types.LLMProvider
	Fallback    types.LLMProvider // optional
	Usage       *llm.UsageTracker
	Logger      *zap.Logger
}

// New creates a Runner.
func New(deps Deps, cfg Config) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := deps.Counter
	if counter == nil {
		counter = tokens.NewCounter()
	}
	usage := deps.Usage
	if usage == nil {
		usage = llm.NewUsageTracker()
	}
	return &Runner{
		conv:        deps.Conv,
		artifacts:   deps.Artifacts,
		memories:    deps.Memories,
		offloader:   deps.Offloader,
		counter:     counter,
		compressor:  deps.Compressor,
		planner:     deps.Planner,
		renderer:    deps.Renderer,
		promptCache: deps.PromptCache,
		provider:    deps.Provider,
		fallback:    deps.Fallback,
		usage:       usage,
		logger:      logger,
		cfg:         cfg,
	}
}

// RunTurn executes one turn for a thread. userMessage is the newest user
// input, already persisted by the caller or passed here for insertion.
func (r *Runner) RunTurn(ctx context.Context, threadID, userMessage string, emitter stream.Emitter) (*TurnResult, error) {
	if emitter == nil {
		emitter = stream.NopEmitter{}
	}
	result := &TurnResult{}

	emitter.Emit(stream.Event{Type: stream.EventStatus, Content: "loading thread"})

	stored, err := r.conv.LoadAllMessages(ctx, threadID, true)
	if err != nil {
		return nil, fmt.Errorf("runner: load messages: %w", err)
	}
	msgs := make([]types.Message, 0, len(stored)+1)
	for _, m := range stored {
		msgs = append(msgs, m.ToMessage())
	}
	if userMessage != "" {
		inserted, err := r.conv.InsertMessage(ctx, convstore.StoredMessage{
			ThreadID:     threadID,
			Type:         types.RoleUser,
			Content:      userMessage,
			IsLLMMessage: true,
			AgentID:      r.cfg.AgentID,
		})
		if err != nil {
			return nil, fmt.Errorf("runner: insert user message: %w", err)
		}
		msgs = append(msgs, inserted.ToMessage())
	}

	result.AdaptiveInputs = countAdaptiveInputs(msgs)

	// Expand recent pointer references back to full content for the turn.
	if r.offloader != nil {
		msgs = r.offloader.ExpandCachedReferences(ctx, msgs, offload.ExpandOptions{
			AutoExpand:         true,
			ExpandRecentOnly:   true,
			RecentMessageCount: 3,
		})
	}

	msgs, prefetched := r.prefetch(ctx, msgs, userMessage)
	result.PrefetchedRefs = prefetched

	compressed, report := r.compressor.Compress(msgs, compressor.Options{
		Model:        r.cfg.Model,
		SystemPrompt: r.cfg.SystemPrompt,
		PointerMode:  true,
	})
	result.CompressionInfo = report
	r.logger.Debug("runner: compression done", zap.String("report", report.Summary()))

	// The context block is appended for this turn only; the authoritative
	// system prompt is never mutated.
	systemPrompt := r.cfg.SystemPrompt
	plan, telemetry, contextBlock := r.planContext(ctx, userMessage)
	result.Plan = plan
	result.Retrieval = telemetry
	systemPrompt += contextBlock

	prepared := r.promptCache.Plan(systemPrompt, compressed, r.cfg.Model)
	prepared = Govern(prepared, r.counter)

	resp, usedFallback, err := r.dispatch(ctx, prepared)
	if err != nil {
		emitter.Emit(stream.Event{Type: stream.EventStatus, Content: fmt.Sprintf("turn failed: %v", err)})
		emitter.Emit(stream.Event{Type: stream.EventThreadRunEnd, Content: "error"})
		return nil, err
	}
	result.Response = resp
	result.UsedFallback = usedFallback
	r.usage.Record(resp.Usage)

	if err := r.recordAssistant(ctx, threadID, resp.Content); err != nil {
		r.logger.Warn("runner: persist assistant message failed", zap.Error(err))
	}

	emitter.Emit(stream.Event{Type: stream.EventAssistant, Content: resp.Content})
	emitter.Emit(stream.Event{Type: stream.EventFinish, Content: resp.FinishReason, Metadata: map[string]any{
		"input_tokens":                resp.Usage.InputTokens,
		"output_tokens":               resp.Usage.OutputTokens,
		"cache_read_input_tokens":     resp.Usage.CacheReadInputTokens,
		"cache_creation_input_tokens": resp.Usage.CacheCreationInputTokens,
	}})
	emitter.Emit(stream.Event{Type: stream.EventThreadRunEnd, Content: "done"})
	return result, nil
}

// countAdaptiveInputs counts user messages that arrived after the latest
// assistant turn; they are reported, never reordered.
func countAdaptiveInputs(msgs []types.Message) int {
	lastAssistant := -1
	for i, m := range msgs {
		if m.Role == types.RoleAssistant {
			lastAssistant = i
		}
	}
	n := 0
	for i := lastAssistant + 1; i < len(msgs); i++ {
		if msgs[i].Role == types.RoleUser {
			n++
		}
	}
	if n > 0 {
		n-- // the newest user message is the turn input, not adaptive
	}
	return n
}

// prefetch scans the trailing window for memory refs whose titles share a
// keyword with the user message and injects slice fetches as system
// messages ahead of the newest user turn. Individual fetch failures are
// swallowed.
func (r *Runner) prefetch(ctx context.Context, msgs []types.Message, userMessage string) ([]types.Message, int) {
	if r.memories == nil || userMessage == "" {
		return msgs, 0
	}

	keywords := keywordSet(userMessage)
	if len(keywords) == 0 {
		return msgs, 0
	}

	start := len(msgs) - prefetchScanWindow
	if start < 0 {
		start = 0
	}

	var hits []types.MemoryRef
	seen := map[string]bool{}
	for _, m := range msgs[start:] {
		if m.Metadata == nil {
			continue
		}
		for _, ref := range m.Metadata.MemoryRefs {
			if seen[ref.ID] || !titleMatches(ref.Title, keywords) {
				continue
			}
			seen[ref.ID] = true
			hits = append(hits, ref)
			if len(hits) == prefetchMaxRefs {
				break
			}
		}
		if len(hits) == prefetchMaxRefs {
			break
		}
	}
	if len(hits) == 0 {
		return msgs, 0
	}

	// Slice fetches fan out concurrently; individual failures are swallowed
	// and the hit order is preserved.
	slices := make([]string, len(hits))
	fetched := make([]bool, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range hits {
		i, ref := i, ref
		g.Go(func() error {
			slice, err := r.memories.GetSlice(gctx, ref.ID, 1, prefetchMaxLines)
			if err != nil {
				r.logger.Debug("runner: prefetch fetch failed",
					zap.String("memory_id", ref.ID), zap.Error(err))
				return nil
			}
			slices[i] = slice
			fetched[i] = true
			return nil
		})
	}
	_ = g.Wait()

	var injected []types.Message
	for i, ref := range hits {
		if !fetched[i] {
			continue
		}
		injected = append(injected, types.Message{
			Role:    types.RoleSystem,
			Content: fmt.Sprintf("Prefetched memory %q (%s), first %d lines:\n%s", ref.Title, ref.ID, prefetchMaxLines, slices[i]),
			Metadata: &types.MessageMetadata{
				Prefetched: true,
				MemoryRefs: []types.MemoryRef{ref},
			},
		})
	}
	if len(injected) == 0 {
		return msgs, 0
	}

	// Injected context precedes the newest user message.
	out := make([]types.Message, 0, len(msgs)+len(injected))
	out = append(out, msgs[:len(msgs)-1]...)
	out = append(out, injected...)
	out = append(out, msgs[len(msgs)-1])
	return out, len(injected)
}

func keywordSet(text string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) >= prefetchMinTokenLen {
			out[tok] = true
		}
	}
	return out
}

func titleMatches(title string, keywords map[string]bool) bool {
	for _, tok := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(tok) >= prefetchMinTokenLen && keywords[tok] {
			return true
		}
	}
	return false
}

// planContext builds the catalogs from the artifact store, runs the
// planner, and renders the auto-loaded block.
func (r *Runner) planContext(ctx context.Context, userMessage string) (*planner.ContextPlan, *retrieval.Telemetry, string) {
	instructionCatalog := r.instructionCatalog(ctx)
	artifactCatalog := r.artifactCatalog(ctx)
	projectSummary, _ := r.artifacts.GetString(ctx, kvstore.ScopeProject, "project_summary")

	preview := projectSummary
	if len(preview) > 400 {
		preview = cutRunes(preview, 400)
	}

	plan := r.planner.Plan(ctx, planner.Request{
		UserRequest:           userMessage,
		InstructionCatalog:    instructionCatalog,
		ArtifactCatalog:       artifactCatalog,
		ProjectSummaryPreview: preview,
		AggressiveMode:        r.cfg.AggressiveMode,
	})

	block, telemetry := r.renderer.Render(ctx, plan, artifactCatalog, projectSummary, r.cfg.AggressiveMode)
	return plan, telemetry, block
}

func (r *Runner) instructionCatalog(ctx context.Context) []planner.InstructionCandidate {
	entries, err := r.artifacts.ListKeys(ctx, kvstore.ScopeInstructions, "", false)
	if err != nil {
		r.logger.Debug("runner: list instructions failed", zap.Error(err))
		return nil
	}
	var out []planner.InstructionCandidate
	for _, e := range entries {
		key := e.Entry.OriginalKey
		if !strings.HasPrefix(key, "instruction_") {
			continue
		}
		cand := planner.InstructionCandidate{Tag: strings.TrimPrefix(key, "instruction_")}
		if summary, ok := e.Entry.Metadata["summary"].(string); ok {
			cand.Summary = summary
		}
		out = append(out, cand)
	}
	return out
}

func (r *Runner) artifactCatalog(ctx context.Context) []planner.ArtifactCandidate {
	entries, err := r.artifacts.ListKeys(ctx, kvstore.ScopeArtifacts, "", false)
	if err != nil {
		r.logger.Debug("runner: list artifacts failed", zap.Error(err))
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Entry.CreatedAt.After(entries[j].Entry.CreatedAt)
	})
	if len(entries) > artifactCatalogLimit {
		entries = entries[:artifactCatalogLimit]
	}

	out := make([]planner.ArtifactCandidate, 0, len(entries))
	for _, e := range entries {
		cand := planner.ArtifactCandidate{
			Key:       e.Entry.OriginalKey,
			Scope:     string(e.Scope),
			SizeChars: int(e.Entry.SizeBytes),
			CachedAt:  e.Entry.CreatedAt.Format(time.RFC3339),
			Metadata:  e.Entry.Metadata,
		}
		if summary, ok := e.Entry.Metadata["summary"].(string); ok {
			cand.Summary = summary
		}
		if tool, ok := e.Entry.Metadata["tool_name"].(string); ok {
			cand.OriginTool = tool
		}
		if st, ok := e.Entry.Metadata["size_tokens"].(float64); ok {
			cand.SizeTokens = int(st)
		} else {
			cand.SizeTokens = int(e.Entry.SizeBytes) / 4
		}
		out = append(out, cand)
	}
	return out
}

// dispatch sends the prepared messages, retrying with backoff and
// escalating once to the fallback model on persistent non-benign failure.
func (r *Runner) dispatch(ctx context.Context, prepared []types.Message) (*types.LLMResponse, bool, error) {
	req := types.ChatRequest{
		Model:    r.cfg.Model,
		Messages: prepared,
	}
	resp, err := llm.ChatWithRetry(ctx, r.provider, req, r.cfg.Retry, r.logger)
	if err == nil {
		return resp, false, nil
	}
	if llm.IsBenign(err) || r.fallback == nil {
		return nil, false, err
	}

	r.logger.Warn("runner: primary model failed, escalating to fallback",
		zap.String("model", r.cfg.Model),
		zap.String("fallback", r.cfg.FallbackModel),
		zap.Error(err))

	req.Model = r.cfg.FallbackModel
	resp, ferr := llm.ChatWithRetry(ctx, r.fallback, req, r.cfg.Retry, r.logger)
	if ferr != nil {
		return nil, true, fmt.Errorf("fallback after %v: %w", err, ferr)
	}
	return resp, true, nil
}

// recordAssistant persists the assistant reply. Replies over the memory
// offload threshold move to the memory store; the stored message keeps a
// summary and the memory_ref.
func (r *Runner) recordAssistant(ctx context.Context, threadID, content string) error {
	msg := convstore.StoredMessage{
		ThreadID:     threadID,
		Type:         types.RoleAssistant,
		Content:      content,
		IsLLMMessage: true,
		AgentID:      r.cfg.AgentID,
	}

	if r.memories != nil && len(content) > memoryOffloadBytes {
		ref, err := r.memories.PutText(ctx, content, memstore.TypeToolOutput, memstore.PutOptions{
			Subtype: "assistant_message",
			Title:   firstLine(content),
		})
		if err != nil {
			r.logger.Warn("runner: memory offload failed, storing inline", zap.Error(err))
		} else {
			summary := content
			if len(summary) > memoryOffloadSummaryLen {
				summary = cutRunes(summary, memoryOffloadSummaryLen) + "..."
			}
			msg.Content = summary
			msg.Metadata = &types.MessageMetadata{
				MemoryRefs:  []types.MemoryRef{{ID: ref.MemoryID, Title: ref.Title, Mime: ref.Mime}},
				TokensSaved: len(content) / 4,
			}
		}
	}

	_, err := r.conv.InsertMessage(ctx, msg)
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = cutRunes(s, 80)
	}
	return strings.TrimSpace(s)
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
