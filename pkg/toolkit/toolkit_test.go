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
package toolkit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/memstore"
	"github.com/braid-labs/braid/pkg/sandbox"
)

func newTestKVStore(t *testing.T) *kvstore.Store {
	t.Helper()
	store, err := kvstore.New(kvstore.Config{
		FS:   sandbox.NewLocalFS(),
		Root: filepath.Join(t.TempDir(), ".kv-cache"),
	})
	require.NoError(t, err)
	return store
}

func newToolMemStore(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := memstore.Open(filepath.Join(t.TempDir(), ".aga_mem"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRegistryInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{
		Name: "echo",
		Invoke: func(_ context.Context, args map[string]any) Result {
			return Ok(args["text"])
		},
	})

	result := r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	assert.True(t, result.Success)
	assert.Equal(t, "hi", result.Output)

	unknown := r.Invoke(context.Background(), "nope", nil)
	assert.False(t, unknown.Success)
	assert.Contains(t, unknown.Error, "unknown tool")
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(Tool{Name: name})
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Names())
}

func TestMemoryFetchMetadataOnly(t *testing.T) {
	store := newToolMemStore(t)
	ctx := context.Background()

	ref, err := store.PutText(ctx, "one\ntwo\nthree", memstore.TypeToolOutput,
		memstore.PutOptions{Title: "sample"})
	require.NoError(t, err)

	tool := NewMemoryFetchTool(store)
	result := tool.Invoke(ctx, map[string]any{"memory_id": ref.MemoryID})

	require.True(t, result.Success)
	out := result.Output.(map[string]any)
	assert.Equal(t, ref.MemoryID, out["memory_id"])
	assert.Equal(t, "sample", out["title"])
	assert.NotContains(t, out, "content", "no range means metadata only")
}

func TestMemoryFetchLineSlice(t *testing.T) {
	store := newToolMemStore(t)
	ctx := context.Background()

	ref, err := store.PutText(ctx, "one\ntwo\nthree\nfour", memstore.TypeToolOutput, memstore.PutOptions{})
	require.NoError(t, err)

	tool := NewMemoryFetchTool(store)
	// JSON-decoded arguments arrive as float64.
	result := tool.Invoke(ctx, map[string]any{
		"memory_id":  ref.MemoryID,
		"line_start": float64(2),
		"line_end":   float64(3),
	})

	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]any)
	assert.Equal(t, "two\nthree", out["content"])
}

func TestMemoryFetchRangeValidation(t *testing.T) {
	store := newToolMemStore(t)
	tool := NewMemoryFetchTool(store)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"missing id", map[string]any{}, "memory_id is required"},
		{
			"line start alone",
			map[string]any{"memory_id": "x", "line_start": 1},
			"provided together",
		},
		{
			"inverted range",
			map[string]any{"memory_id": "x", "line_start": 10, "line_end": 2},
			"invalid line range",
		},
		{
			"oversized line span",
			map[string]any{"memory_id": "x", "line_start": 1, "line_end": memstore.MaxSliceLines + 1},
			"exceeds",
		},
		{
			"oversized byte length",
			map[string]any{"memory_id": "x", "byte_offset": 0, "byte_length": memstore.MaxByteRange + 1},
			"exceeds",
		},
		{
			"negative offset",
			map[string]any{"memory_id": "x", "byte_offset": -1, "byte_length": 10},
			"non-negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Validation rejects the call before the store sees it; a bogus
			// memory_id never produces a lookup error here.
			result := tool.Invoke(ctx, tt.args)
			assert.False(t, result.Success)
			assert.Contains(t, result.Error, tt.wantErr)
		})
	}
}

func TestMemoryFetchByteSlice(t *testing.T) {
	store := newToolMemStore(t)
	ctx := context.Background()

	ref, err := store.PutText(ctx, "0123456789", memstore.TypeToolOutput, memstore.PutOptions{})
	require.NoError(t, err)

	tool := NewMemoryFetchTool(store)
	result := tool.Invoke(ctx, map[string]any{
		"memory_id":   ref.MemoryID,
		"byte_offset": float64(3),
		"byte_length": float64(4),
	})

	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]any)
	assert.Equal(t, "3456", out["content"])
	assert.Equal(t, 4, out["byte_length"])
}

func TestKVCacheToolSurface(t *testing.T) {
	store := newTestKVStore(t)
	r := NewRegistry()
	RegisterKVCacheTools(r, store)

	assert.Equal(t, []string{
		"get_artifact", "get_cache_stats", "get_instruction", "get_project_summary",
		"list_instructions", "prune_cache", "put_artifact", "put_instruction",
		"put_project_summary",
	}, r.Names())
}

func TestInstructionToolsRoundTrip(t *testing.T) {
	store := newTestKVStore(t)
	r := NewRegistry()
	RegisterKVCacheTools(r, store)
	ctx := context.Background()

	put := r.Invoke(ctx, "put_instruction", map[string]any{
		"tag":     "presentation",
		"content": "Use 16:9 slides.",
	})
	require.True(t, put.Success, put.Error)

	get := r.Invoke(ctx, "get_instruction", map[string]any{"tag": "presentation"})
	require.True(t, get.Success, get.Error)
	assert.Equal(t, "Use 16:9 slides.", get.Output.(map[string]any)["content"])

	list := r.Invoke(ctx, "list_instructions", nil)
	require.True(t, list.Success)
	assert.Equal(t, []string{"presentation"}, list.Output.(map[string]any)["tags"])

	missing := r.Invoke(ctx, "get_instruction", map[string]any{"tag": "unknown"})
	assert.False(t, missing.Success)
}

func TestArtifactToolsRoundTrip(t *testing.T) {
	store := newTestKVStore(t)
	r := NewRegistry()
	RegisterKVCacheTools(r, store)
	ctx := context.Background()

	put := r.Invoke(ctx, "put_artifact", map[string]any{
		"key":   "web_search_001",
		"value": "search results body",
	})
	require.True(t, put.Success, put.Error)

	get := r.Invoke(ctx, "get_artifact", map[string]any{"key": "web_search_001"})
	require.True(t, get.Success, get.Error)
	assert.Equal(t, "search results body", get.Output.(map[string]any)["value"])
}

func TestProjectSummaryTools(t *testing.T) {
	store := newTestKVStore(t)
	r := NewRegistry()
	RegisterKVCacheTools(r, store)
	ctx := context.Background()

	empty := r.Invoke(ctx, "get_project_summary", nil)
	assert.False(t, empty.Success)

	put := r.Invoke(ctx, "put_project_summary", map[string]any{
		"summary": "A quarterly report project.",
	})
	require.True(t, put.Success, put.Error)

	get := r.Invoke(ctx, "get_project_summary", nil)
	require.True(t, get.Success)
	assert.Equal(t, "A quarterly report project.", get.Output.(map[string]any)["summary"])
}
