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
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/compressor"
	"github.com/braid-labs/braid/pkg/convstore"
	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/llm"
	"github.com/braid-labs/braid/pkg/memstore"
	"github.com/braid-labs/braid/pkg/offload"
	"github.com/braid-labs/braid/pkg/planner"
	"github.com/braid-labs/braid/pkg/promptcache"
	"github.com/braid-labs/braid/pkg/retrieval"
	"github.com/braid-labs/braid/pkg/sandbox"
	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

// scriptedProvider returns a fixed response, or err on every call when set.
type scriptedProvider struct {
	name     string
	response string
	err      error
	calls    int
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) Model() string { return p.name }

func (p *scriptedProvider) Chat(_ context.Context, _ types.ChatRequest) (*types.LLMResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &types.LLMResponse{
		Content:      p.response,
		FinishReason: "stop",
		Usage:        types.Usage{InputTokens: 10, OutputTokens: 5},
	}, nil
}

type testFixture struct {
	runner   *Runner
	conv     *convstore.Store
	memories *memstore.Store
	threadID string
}

func newTestFixture(t *testing.T, provider, fallback types.LLMProvider) *testFixture {
	t.Helper()
	root := t.TempDir()
	counter := tokens.NewCounter()

	artifacts, err := kvstore.New(kvstore.Config{
		FS:   sandbox.NewLocalFS(),
		Root: filepath.Join(root, ".kv-cache"),
	})
	require.NoError(t, err)

	memories, err := memstore.Open(filepath.Join(root, ".aga_mem"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { memories.Close() })

	conv, err := convstore.Open(filepath.Join(root, "conv.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conv.Close() })

	ctx := context.Background()
	project, err := conv.CreateProject(ctx, "test", convstore.Sandbox{ID: "sb"})
	require.NoError(t, err)
	thread, err := conv.CreateThread(ctx, project.ProjectID)
	require.NoError(t, err)

	ctxPlanner, err := planner.New(nil, nil)
	require.NoError(t, err)

	cfg := Config{
		Model:         "claude-sonnet-4-5",
		FallbackModel: "claude-haiku-4-5",
		SystemPrompt:  "You are a helpful assistant.",
		Retry:         llm.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	}
	r := New(Deps{
		Conv:        conv,
		Artifacts:   artifacts,
		Memories:    memories,
		Offloader:   offload.New(artifacts, counter, nil),
		Counter:     counter,
		Compressor:  compressor.New(counter, nil),
		Planner:     ctxPlanner,
		Renderer:    retrieval.New(artifacts, nil),
		PromptCache: promptcache.New(counter, nil),
		Provider:    provider,
		Fallback:    fallback,
	}, cfg)

	return &testFixture{runner: r, conv: conv, memories: memories, threadID: thread.ThreadID}
}

func TestRunTurnPrefetchesMatchingMemory(t *testing.T) {
	primary := &scriptedProvider{name: "primary", response: "here is the summary"}
	f := newTestFixture(t, primary, nil)
	ctx := context.Background()

	ref, err := f.memories.PutText(ctx, "Q3 revenue grew 12% quarter over quarter.\nMargins held steady.",
		memstore.TypeToolOutput, memstore.PutOptions{Title: "Quarterly report draft"})
	require.NoError(t, err)

	_, err = f.conv.InsertMessage(ctx, convstore.StoredMessage{
		ThreadID:     f.threadID,
		Type:         types.RoleAssistant,
		Content:      "I saved the draft for later.",
		IsLLMMessage: true,
		CreatedAt:    time.Now().UTC().Add(-time.Minute),
		Metadata: &types.MessageMetadata{
			MemoryRefs: []types.MemoryRef{{ID: ref.MemoryID, Title: ref.Title, Mime: ref.Mime}},
		},
	})
	require.NoError(t, err)

	result, err := f.runner.RunTurn(ctx, f.threadID, "summarize the quarterly report", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.PrefetchedRefs, "title shares the quarterly/report keywords")
	assert.Equal(t, "here is the summary", result.Response.Content)
	assert.False(t, result.UsedFallback)
}

func TestRunTurnSkipsPrefetchWithoutKeywordOverlap(t *testing.T) {
	primary := &scriptedProvider{name: "primary", response: "ok"}
	f := newTestFixture(t, primary, nil)
	ctx := context.Background()

	ref, err := f.memories.PutText(ctx, "line one\nline two",
		memstore.TypeToolOutput, memstore.PutOptions{Title: "Quarterly report draft"})
	require.NoError(t, err)

	_, err = f.conv.InsertMessage(ctx, convstore.StoredMessage{
		ThreadID:     f.threadID,
		Type:         types.RoleAssistant,
		Content:      "saved",
		IsLLMMessage: true,
		CreatedAt:    time.Now().UTC().Add(-time.Minute),
		Metadata: &types.MessageMetadata{
			MemoryRefs: []types.MemoryRef{{ID: ref.MemoryID, Title: ref.Title, Mime: ref.Mime}},
		},
	})
	require.NoError(t, err)

	// No shared token of 4+ characters with the memory title.
	result, err := f.runner.RunTurn(ctx, f.threadID, "what time is it now", nil)

	require.NoError(t, err)
	assert.Zero(t, result.PrefetchedRefs)
}

func TestPrefetchCapsInjectedRefs(t *testing.T) {
	primary := &scriptedProvider{name: "primary", response: "ok"}
	f := newTestFixture(t, primary, nil)
	ctx := context.Background()

	var msgs []types.Message
	for i := 0; i < 5; i++ {
		ref, err := f.memories.PutText(ctx, fmt.Sprintf("chapter %d body", i),
			memstore.TypeToolOutput, memstore.PutOptions{Title: fmt.Sprintf("Novel chapter %d", i)})
		require.NoError(t, err)
		msgs = append(msgs, types.Message{
			Role:    types.RoleAssistant,
			Content: "stored a chapter",
			Metadata: &types.MessageMetadata{
				MemoryRefs: []types.MemoryRef{{ID: ref.MemoryID, Title: ref.Title, Mime: ref.Mime}},
			},
		})
	}
	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: "revise the novel chapter endings"})

	out, injected := f.runner.prefetch(ctx, msgs, "revise the novel chapter endings")

	assert.Equal(t, prefetchMaxRefs, injected, "per-turn fetch budget is 3")
	tagged := 0
	for _, m := range out {
		if m.Metadata != nil && m.Metadata.Prefetched {
			tagged++
			assert.Equal(t, types.RoleSystem, m.Role)
		}
	}
	assert.Equal(t, prefetchMaxRefs, tagged)
	assert.Equal(t, types.RoleUser, out[len(out)-1].Role, "injected context precedes the newest user turn")
}

func TestRunTurnFallsBackAfterRetryableFailure(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: fmt.Errorf("connection reset by peer")}
	fallback := &scriptedProvider{name: "fallback", response: "fallback answer"}
	f := newTestFixture(t, primary, fallback)

	result, err := f.runner.RunTurn(context.Background(), f.threadID, "hello", nil)

	require.NoError(t, err)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, "fallback answer", result.Response.Content)
	assert.Equal(t, 3, primary.calls, "primary exhausts its retry budget first")
	assert.Equal(t, 1, fallback.calls)
}

func TestRunTurnBenignErrorNeverFallsBack(t *testing.T) {
	primary := &scriptedProvider{name: "primary", err: fmt.Errorf("your credit balance is too low; see billing")}
	fallback := &scriptedProvider{name: "fallback", response: "should not be used"}
	f := newTestFixture(t, primary, fallback)

	_, err := f.runner.RunTurn(context.Background(), f.threadID, "hello", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing")
	assert.Equal(t, 1, primary.calls, "benign errors do not retry")
	assert.Zero(t, fallback.calls, "benign errors must not trigger fallback")
}

func TestRecordAssistantOffloadsLargeReplies(t *testing.T) {
	reply := strings.Repeat("The assistant wrote a very long reply. ", 300) // > 6 KB
	primary := &scriptedProvider{name: "primary", response: reply}
	f := newTestFixture(t, primary, nil)
	ctx := context.Background()

	_, err := f.runner.RunTurn(ctx, f.threadID, "write it all down", nil)
	require.NoError(t, err)

	stored, err := f.conv.LoadAllMessages(ctx, f.threadID, true)
	require.NoError(t, err)
	var recorded *convstore.StoredMessage
	for i := range stored {
		if stored[i].Type == types.RoleAssistant {
			recorded = &stored[i]
		}
	}
	require.NotNil(t, recorded)
	require.NotNil(t, recorded.Metadata)
	require.Len(t, recorded.Metadata.MemoryRefs, 1)
	assert.Equal(t, len(reply)/4, recorded.Metadata.TokensSaved)
	assert.Less(t, len(recorded.Content), len(reply), "stored message keeps the summary, not the full reply")

	body, err := f.memories.GetSlice(ctx, recorded.Metadata.MemoryRefs[0].ID, 1, 1)
	require.NoError(t, err)
	assert.Contains(t, body, "very long reply")
}
