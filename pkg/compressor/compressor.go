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

// Package compressor implements the deterministic, role-targeted message
// shrinker. Compression is copy-on-write: the input list is never mutated,
// and every pass preserves role order. Messages carrying memory_refs are
// preserved verbatim in pointer mode.
package compressor

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

// Defaults.
const (
	// DefaultTokenThreshold is the starting per-message compression
	// threshold; it halves on each recursion down to a floor of 1.
	DefaultTokenThreshold = 4096

	// DefaultMaxIterations is the recursion budget.
	DefaultMaxIterations = 5

	// DefaultMessageCap is the hard middle-out message-count cap applied
	// regardless of token state.
	DefaultMessageCap = 320

	// SafeTruncateCeiling bounds any single safe-truncate target.
	SafeTruncateCeiling = 100000

	// truncateMarkerReserve is the allowance for the middle-truncation
	// marker text.
	truncateMarkerReserve = 150

	// middleOmitBatch messages are dropped from the center per fallback
	// iteration.
	middleOmitBatch = 10

	// middleOmitMinKept is the smallest list the fallback will produce.
	middleOmitMinKept = 10

	// middleOmitMaxIterations bounds the fallback loop.
	middleOmitMaxIterations = 500
)

// Options configures one compression run.
type Options struct {
	Model          string
	MaxTokens      int    // 0 derives the ceiling from the model context window
	TotalTokens    int    // 0 means count; callers may pass a precomputed total
	SystemPrompt   string // counted in the middle-omit fallback
	PointerMode    bool   // preserve messages carrying memory_refs verbatim
	TokenThreshold int    // 0 means DefaultTokenThreshold
	MaxIterations  int    // 0 means DefaultMaxIterations
	MessageCap     int    // 0 means DefaultMessageCap
}

// Report summarizes one compression run.
type Report struct {
	InputMessages         int `json:"input_messages"`
	OutputMessages        int `json:"output_messages"`
	InputTokens           int `json:"input_tokens"`
	OutputTokens          int `json:"output_tokens"`
	ToolResultsCompressed int `json:"tool_results_compressed"`
	UserCompressed        int `json:"user_compressed"`
	AssistantCompressed   int `json:"assistant_compressed"`
	Recursions            int `json:"recursions"`
	MiddleDropped         int `json:"middle_dropped"`
	CapDropped            int `json:"cap_dropped"`
}

// Summary renders a one-line report for logs.
func (r *Report) Summary() string {
	return fmt.Sprintf("compressed %d->%d messages, %d->%d tokens (tool=%d user=%d assistant=%d recursions=%d middle_dropped=%d cap_dropped=%d)",
		r.InputMessages, r.OutputMessages, r.InputTokens, r.OutputTokens,
		r.ToolResultsCompressed, r.UserCompressed, r.AssistantCompressed,
		r.Recursions, r.MiddleDropped, r.CapDropped)
}

// Compressor shrinks message lists to fit a model's context budget.
type Compressor struct {
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates a Compressor.
func New(counter *tokens.Counter, logger *zap.Logger) *Compressor {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{counter: counter, logger: logger}
}

// Compress runs the full pipeline and returns the compressed list plus a
// per-stage report.
func (c *Compressor) Compress(msgs []types.Message, opts Options) ([]types.Message, *Report) {
	report := &Report{InputMessages: len(msgs)}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = tokens.EffectiveBudget(opts.Model)
	}
	threshold := opts.TokenThreshold
	if threshold <= 0 {
		threshold = DefaultTokenThreshold
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	cap := opts.MessageCap
	if cap <= 0 {
		cap = DefaultMessageCap
	}

	out := c.normalizeMeta(msgs)

	total := opts.TotalTokens
	if total <= 0 {
		total = c.counter.CountMessages(out)
	}
	report.InputTokens = total

	// Role passes with threshold-halving recursion.
	iteration := 0
	for {
		if total <= maxTokens {
			break
		}
		var n int
		out, n = c.rolePass(out, types.IsToolResult, threshold, maxTokens, opts.PointerMode)
		report.ToolResultsCompressed += n
		out, n = c.rolePass(out, roleIs(types.RoleUser), threshold, maxTokens, opts.PointerMode)
		report.UserCompressed += n
		out, n = c.rolePass(out, roleIs(types.RoleAssistant), threshold, maxTokens, opts.PointerMode)
		report.AssistantCompressed += n

		total = c.counter.CountMessages(out)
		if total <= maxTokens {
			break
		}
		if iteration >= maxIterations {
			// Recursion budget exhausted: middle-omit fallback.
			var dropped int
			out, dropped = c.middleOmit(out, opts.SystemPrompt, maxTokens)
			report.MiddleDropped = dropped
			total = c.counter.CountMessages(out)
			break
		}
		iteration++
		report.Recursions = iteration
		threshold /= 2
		if threshold < 1 {
			threshold = 1
		}
	}

	// Hard message-count cap, applied regardless of token state.
	if len(out) > cap {
		head := cap / 2
		tail := cap - head
		capped := make([]types.Message, 0, cap)
		capped = append(capped, out[:head]...)
		capped = append(capped, out[len(out)-tail:]...)
		report.CapDropped = len(out) - cap
		out = capped
	}

	report.OutputMessages = len(out)
	report.OutputTokens = c.counter.CountMessages(out)
	return out, report
}

func roleIs(role string) func(types.Message) bool {
	return func(m types.Message) bool { return m.Role == role }
}

// normalizeMeta strips the arguments subfield from tool_execution meta
// messages; output stays valid JSON. Untouched messages are shared, not
// copied.
func (c *Compressor) normalizeMeta(msgs []types.Message) []types.Message {
	out := make([]types.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		if m.Structured != nil {
			if _, ok := m.Structured["tool_execution"]; ok {
				out[i] = stripToolArguments(m)
			}
			continue
		}
		trimmed := strings.TrimSpace(m.Content)
		if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, "tool_execution") {
			var obj map[string]any
			if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
				if _, ok := obj["tool_execution"]; ok {
					clone := m.Clone()
					clone.Structured = obj
					clone.Content = ""
					stripped := stripToolArguments(clone)
					if b, err := json.Marshal(stripped.Structured); err == nil {
						stripped.Content = string(b)
						stripped.Structured = nil
					}
					out[i] = stripped
				}
			}
		}
	}
	return out
}

func stripToolArguments(m types.Message) types.Message {
	clone := m.Clone()
	if te, ok := clone.Structured["tool_execution"].(map[string]any); ok {
		delete(te, "arguments")
	}
	return clone
}

// rolePass compresses all messages matching the selector, newest to oldest.
// The most recent match is safe-truncated in place; older matches are
// replaced with a head excerpt plus a pointer to the expand-message tool.
func (c *Compressor) rolePass(msgs []types.Message, match func(types.Message) bool, threshold, maxTokens int, pointerMode bool) ([]types.Message, int) {
	out := make([]types.Message, len(msgs))
	copy(out, msgs)

	newestSeen := false
	compressed := 0
	for i := len(out) - 1; i >= 0; i-- {
		m := out[i]
		if !match(m) {
			continue
		}
		isNewest := !newestSeen
		newestSeen = true

		if pointerMode && m.Metadata != nil && len(m.Metadata.MemoryRefs) > 0 {
			// Pointer messages pass through verbatim; the refs are the
			// compression.
			continue
		}
		if c.counter.CountMessage(m) < threshold {
			continue
		}

		text := m.Text()
		var replacement string
		if isNewest {
			replacement = SafeTruncate(text, 2*maxTokens)
		} else {
			replacement = headExcerpt(text, 3*threshold, m.MessageID)
		}
		if replacement == text {
			continue
		}
		clone := m.Clone()
		clone.Content = replacement
		clone.Structured = nil
		out[i] = clone
		compressed++
	}
	return out, compressed
}

// headExcerpt keeps the leading headChars characters and appends a tail
// advising retrieval of the original via the expand-message tool.
func headExcerpt(text string, headChars int, messageID string) string {
	if len(text) <= headChars {
		return text
	}
	ref := messageID
	if ref == "" {
		ref = "this message"
	}
	return cutHead(text, headChars) + fmt.Sprintf(
		"\n\n...[truncated; retrieve the full content of %s with the expand-message tool]", ref)
}

// cutHead returns the leading n bytes of s, backed up to a rune boundary.
func cutHead(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// cutTail returns the trailing n bytes of s, advanced to a rune boundary.
func cutTail(s string, n int) string {
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}

// SafeTruncate keeps the head and tail of content around a centered
// middle-truncation marker. Content at or under maxLength is returned
// unchanged. For structured values, serialize to JSON before calling.
func SafeTruncate(content string, maxLength int) string {
	if len(content) <= maxLength {
		return content
	}
	if maxLength > SafeTruncateCeiling {
		maxLength = SafeTruncateCeiling
	}
	keep := maxLength - truncateMarkerReserve
	if keep < 2 {
		keep = 2
	}
	head := keep / 2
	tail := keep - head
	marker := "\n\n... (middle truncated) ...\n[The middle of this content was removed to fit the context window; the stored original is complete.]\n\n"
	return cutHead(content, head) + marker + cutTail(content, tail)
}

// middleOmit drops fixed batches from the center of the list until the
// total (system prompt included) fits the ceiling. Lists too small to
// middle-elide drop from the earliest half instead.
func (c *Compressor) middleOmit(msgs []types.Message, systemPrompt string, maxTokens int) ([]types.Message, int) {
	out := make([]types.Message, len(msgs))
	copy(out, msgs)

	systemTokens := c.counter.Count(systemPrompt)
	dropped := 0
	for iter := 0; iter < middleOmitMaxIterations; iter++ {
		total := systemTokens + c.counter.CountMessages(out)
		if total <= maxTokens || len(out) <= middleOmitMinKept {
			break
		}
		batch := middleOmitBatch
		if len(out)-batch < middleOmitMinKept {
			batch = len(out) - middleOmitMinKept
		}
		if len(out) >= 2*middleOmitBatch {
			mid := len(out) / 2
			from := mid - batch/2
			out = append(out[:from:from], out[from+batch:]...)
		} else {
			// Too small to elide the middle: drop the earliest messages.
			out = append([]types.Message(nil), out[batch:]...)
		}
		dropped += batch
	}
	return out, dropped
}
