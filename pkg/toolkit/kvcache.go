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

	"github.com/braid-labs/braid/pkg/kvstore"
)

const (
	instructionKeyPrefix = "instruction_"
	projectSummaryKey    = "project_summary"
)

// RegisterKVCacheTools registers the agent-facing artifact cache surface.
func RegisterKVCacheTools(r *Registry, store *kvstore.Store) {
	r.Register(newPutInstructionTool(store))
	r.Register(newGetInstructionTool(store))
	r.Register(newListInstructionsTool(store))
	r.Register(newPutArtifactTool(store))
	r.Register(newGetArtifactTool(store))
	r.Register(newPutProjectSummaryTool(store))
	r.Register(newGetProjectSummaryTool(store))
	r.Register(newCacheStatsTool(store))
	r.Register(newPruneCacheTool(store))
}

func newPutInstructionTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "put_instruction",
		Description: "Store a reusable instruction block under a tag for later auto-loading.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tag":      map[string]any{"type": "string"},
				"content":  map[string]any{"type": "string"},
				"metadata": map[string]any{"type": "object"},
			},
			"required": []string{"tag", "content"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			tag := argString(args, "tag")
			content := argString(args, "content")
			if tag == "" || content == "" {
				return Fail("tag and content are required")
			}
			path, err := store.Put(ctx, kvstore.ScopeInstructions, instructionKeyPrefix+tag, content,
				kvstore.PutOptions{Metadata: argMap(args, "metadata")})
			if err != nil {
				return Fail("store instruction: %v", err)
			}
			return Ok(map[string]any{"tag": tag, "path": path})
		},
	}
}

func newGetInstructionTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "get_instruction",
		Description: "Read a stored instruction block by tag.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tag": map[string]any{"type": "string"},
			},
			"required": []string{"tag"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			tag := argString(args, "tag")
			if tag == "" {
				return Fail("tag is required")
			}
			content, err := store.GetString(ctx, kvstore.ScopeInstructions, instructionKeyPrefix+tag)
			if err != nil {
				return Fail("instruction %s: %v", tag, err)
			}
			return Ok(map[string]any{"tag": tag, "content": content})
		},
	}
}

func newListInstructionsTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "list_instructions",
		Description: "List the stored instruction tags.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			entries, err := store.ListKeys(ctx, kvstore.ScopeInstructions, "", false)
			if err != nil {
				return Fail("list instructions: %v", err)
			}
			tags := make([]string, 0, len(entries))
			for _, e := range entries {
				key := e.Entry.OriginalKey
				if len(key) > len(instructionKeyPrefix) && key[:len(instructionKeyPrefix)] == instructionKeyPrefix {
					tags = append(tags, key[len(instructionKeyPrefix):])
				}
			}
			return Ok(map[string]any{"tags": tags})
		},
	}
}

func newPutArtifactTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "put_artifact",
		Description: "Store a value in the artifact cache under a key.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key":       map[string]any{"type": "string"},
				"value":     map[string]any{"description": "string or JSON value to store"},
				"ttl_hours": map[string]any{"type": "integer"},
				"metadata":  map[string]any{"type": "object"},
			},
			"required": []string{"key", "value"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			key := argString(args, "key")
			if key == "" {
				return Fail("key is required")
			}
			value, ok := args["value"]
			if !ok {
				return Fail("value is required")
			}
			opts := kvstore.PutOptions{Metadata: argMap(args, "metadata")}
			if ttl, ok := argInt(args, "ttl_hours"); ok {
				opts.TTLHours = ttl
			}
			path, err := store.Put(ctx, kvstore.ScopeArtifacts, key, value, opts)
			if err != nil {
				return Fail("store artifact: %v", err)
			}
			return Ok(map[string]any{"key": key, "path": path})
		},
	}
}

func newGetArtifactTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "get_artifact",
		Description: "Read a value from the artifact cache by key.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{"type": "string"},
			},
			"required": []string{"key"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			key := argString(args, "key")
			if key == "" {
				return Fail("key is required")
			}
			value, err := store.Get(ctx, kvstore.ScopeArtifacts, key, kvstore.AsAuto)
			if err != nil {
				return Fail("artifact %s: %v", key, err)
			}
			return Ok(map[string]any{"key": key, "value": value})
		},
	}
}

func newPutProjectSummaryTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "put_project_summary",
		Description: "Store the project summary used for planning context.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"summary":  map[string]any{"type": "string"},
				"metadata": map[string]any{"type": "object"},
			},
			"required": []string{"summary"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			summary := argString(args, "summary")
			if summary == "" {
				return Fail("summary is required")
			}
			path, err := store.Put(ctx, kvstore.ScopeProject, projectSummaryKey, summary,
				kvstore.PutOptions{Metadata: argMap(args, "metadata")})
			if err != nil {
				return Fail("store project summary: %v", err)
			}
			return Ok(map[string]any{"path": path})
		},
	}
}

func newGetProjectSummaryTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "get_project_summary",
		Description: "Read the stored project summary.",
		Schema:      map[string]any{"type": "object", "properties": map[string]any{}},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			summary, err := store.GetString(ctx, kvstore.ScopeProject, projectSummaryKey)
			if err != nil {
				return Fail("project summary: %v", err)
			}
			return Ok(map[string]any{"summary": summary})
		},
	}
}

func newCacheStatsTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "get_cache_stats",
		Description: "Report live entry counts and byte usage per cache scope.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			stats, err := store.Stats(ctx, kvstore.Scope(argString(args, "scope")))
			if err != nil {
				return Fail("cache stats: %v", err)
			}
			return Ok(stats)
		},
	}
}

func newPruneCacheTool(store *kvstore.Store) Tool {
	return Tool{
		Name:        "prune_cache",
		Description: "Delete expired cache entries and stranded files.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"scope": map[string]any{"type": "string"},
			},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			pruned, err := store.PruneExpired(ctx, kvstore.Scope(argString(args, "scope")))
			if err != nil {
				return Fail("prune cache: %v", err)
			}
			return Ok(map[string]any{"pruned": pruned})
		},
	}
}
