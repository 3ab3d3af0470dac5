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
package compressor

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

func newTestCompressor() (*Compressor, *tokens.Counter) {
	counter := tokens.NewCounter()
	return New(counter, nil), counter
}

func TestSafeTruncate(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		maxLength int
		unchanged bool
	}{
		{"under limit", "short", 100, true},
		{"at limit", strings.Repeat("a", 100), 100, true},
		{"over limit", strings.Repeat("a", 5000), 1000, false},
		{"over ceiling", strings.Repeat("a", 300000), 200000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SafeTruncate(tt.content, tt.maxLength)
			if tt.unchanged {
				assert.Equal(t, tt.content, got)
				return
			}
			limit := tt.maxLength
			if limit > SafeTruncateCeiling {
				limit = SafeTruncateCeiling
			}
			assert.LessOrEqual(t, len(got), limit)
			assert.Contains(t, got, "(middle truncated)")
			// Head and tail survive.
			assert.True(t, strings.HasPrefix(got, "a"))
			assert.True(t, strings.HasSuffix(got, "a"))
		})
	}
}

func TestSafeTruncateKeepsRuneBoundaries(t *testing.T) {
	content := strings.Repeat("héllo wörld ", 500)
	got := SafeTruncate(content, 1000)
	assert.True(t, utf8.ValidString(got), "truncation must not split a multibyte rune")
	assert.Contains(t, got, "(middle truncated)")
}

func TestCompressPreservesOrderAndRoles(t *testing.T) {
	c, counter := newTestCompressor()

	var msgs []types.Message
	for i := 0; i < 30; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.Message{
			Role:      role,
			Content:   strings.Repeat("lorem ipsum ", 400),
			MessageID: fmt.Sprintf("m%02d", i),
		})
	}

	out, _ := c.Compress(msgs, Options{MaxTokens: counter.CountMessages(msgs) / 2, TokenThreshold: 256})

	require.Len(t, out, len(msgs))
	for i, m := range out {
		assert.Equal(t, msgs[i].Role, m.Role, "role order must survive at index %d", i)
		assert.Equal(t, msgs[i].MessageID, m.MessageID)
	}
}

func TestCompressNeverMutatesInput(t *testing.T) {
	c, _ := newTestCompressor()

	original := strings.Repeat("payload ", 4000)
	msgs := []types.Message{
		{Role: types.RoleUser, Content: original, MessageID: "a"},
		{Role: types.RoleUser, Content: original, MessageID: "b"},
	}

	c.Compress(msgs, Options{MaxTokens: 100, TokenThreshold: 64})

	assert.Equal(t, original, msgs[0].Content)
	assert.Equal(t, original, msgs[1].Content)
}

func TestPointerModePreservesMemoryRefs(t *testing.T) {
	c, _ := newTestCompressor()

	refs := []types.MemoryRef{{ID: "abc123", Title: "big tool output", Mime: "text/plain"}}
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "question"},
		{
			Role:     types.RoleAssistant,
			Content:  strings.Repeat("summary text ", 2000),
			Metadata: &types.MessageMetadata{MemoryRefs: refs},
		},
		{Role: types.RoleAssistant, Content: strings.Repeat("other text ", 2000)},
	}

	out, _ := c.Compress(msgs, Options{MaxTokens: 100, TokenThreshold: 64, PointerMode: true})

	require.Len(t, out, 3)
	// The pointer message passes through verbatim.
	assert.Equal(t, msgs[1].Content, out[1].Content)
	require.NotNil(t, out[1].Metadata)
	assert.Equal(t, refs, out[1].Metadata.MemoryRefs)
	// The non-pointer assistant message was compressed.
	assert.NotEqual(t, msgs[2].Content, out[2].Content)
}

func TestCompressIdempotent(t *testing.T) {
	c, _ := newTestCompressor()

	var msgs []types.Message
	for i := 0; i < 40; i++ {
		msgs = append(msgs, types.Message{
			Role:      types.RoleAssistant,
			Content:   strings.Repeat("words and more words ", 500),
			MessageID: fmt.Sprintf("m%02d", i),
		})
	}
	opts := Options{MaxTokens: 8000, TokenThreshold: 512}

	once, _ := c.Compress(msgs, opts)
	twice, _ := c.Compress(once, opts)

	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].Content, twice[i].Content, "message %d changed on second pass", i)
	}
}

func TestMetaMessageArgumentStripping(t *testing.T) {
	c, _ := newTestCompressor()

	msgs := []types.Message{{
		Role:    types.RoleAssistant,
		Content: `{"tool_execution": {"name": "web_search", "arguments": {"query": "foo"}, "result": "ok"}}`,
	}}

	out, _ := c.Compress(msgs, Options{MaxTokens: 1000000})

	require.Len(t, out, 1)
	text := out[0].Text()
	assert.NotContains(t, text, "arguments")
	assert.Contains(t, text, "web_search")
	assert.Contains(t, text, "result")
}

func TestRecursionFallbackCapsLongThreads(t *testing.T) {
	c, counter := newTestCompressor()

	// 400 assistant messages of 3000 chars each.
	var msgs []types.Message
	for i := 0; i < 400; i++ {
		msgs = append(msgs, types.Message{
			Role:      types.RoleAssistant,
			Content:   strings.Repeat("x", 3000),
			MessageID: fmt.Sprintf("m%03d", i),
		})
	}

	out, report := c.Compress(msgs, Options{MaxTokens: 41000, MaxIterations: 5})

	assert.LessOrEqual(t, len(out), DefaultMessageCap)
	assert.LessOrEqual(t, counter.CountMessages(out), 41000)

	// First and last input messages survive the middle-out passes.
	ids := make(map[string]bool, len(out))
	for _, m := range out {
		ids[m.MessageID] = true
	}
	assert.True(t, ids["m000"], "first message must survive")
	assert.True(t, ids["m399"], "last message must survive")

	assert.Equal(t, 400, report.InputMessages)
	assert.Equal(t, len(out), report.OutputMessages)
	assert.Positive(t, report.MiddleDropped)
}

func TestBelowBudgetPassthrough(t *testing.T) {
	c, _ := newTestCompressor()

	msgs := []types.Message{
		{Role: types.RoleUser, Content: "hello"},
		{Role: types.RoleAssistant, Content: "world"},
	}
	out, report := c.Compress(msgs, Options{MaxTokens: 100000})

	require.Len(t, out, 2)
	assert.Equal(t, "hello", out[0].Content)
	assert.Equal(t, "world", out[1].Content)
	assert.Zero(t, report.ToolResultsCompressed+report.UserCompressed+report.AssistantCompressed)
}
