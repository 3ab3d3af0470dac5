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

	"github.com/braid-labs/braid/pkg/memstore"
)

// NewMemoryFetchTool exposes slice reads over the memory store. Range
// validation happens before any store access: a refused range must leave
// no trace in the store.
func NewMemoryFetchTool(store *memstore.Store) Tool {
	return Tool{
		Name:        "memory_fetch",
		Description: "Fetch a line or byte slice of a stored memory by memory_id. Prefer tight ranges over full fetches.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"memory_id":   map[string]any{"type": "string", "description": "content hash of the memory"},
				"line_start":  map[string]any{"type": "integer", "description": "1-based first line"},
				"line_end":    map[string]any{"type": "integer", "description": "1-based last line, inclusive"},
				"byte_offset": map[string]any{"type": "integer"},
				"byte_length": map[string]any{"type": "integer", "description": "at most 65536"},
			},
			"required": []string{"memory_id"},
		},
		Invoke: func(ctx context.Context, args map[string]any) Result {
			memoryID := argString(args, "memory_id")
			if memoryID == "" {
				return Fail("memory_id is required")
			}

			lineStart, hasLineStart := argInt(args, "line_start")
			lineEnd, hasLineEnd := argInt(args, "line_end")
			byteOffset, hasByteOffset := argInt(args, "byte_offset")
			byteLength, hasByteLength := argInt(args, "byte_length")

			switch {
			case hasLineStart || hasLineEnd:
				if !hasLineStart || !hasLineEnd {
					return Fail("line_start and line_end must be provided together")
				}
				if lineStart < 1 || lineEnd < lineStart {
					return Fail("invalid line range %d-%d: need 1 <= line_start <= line_end", lineStart, lineEnd)
				}
				if lineEnd-lineStart+1 > memstore.MaxSliceLines {
					return Fail("line range %d-%d exceeds the %d-line cap", lineStart, lineEnd, memstore.MaxSliceLines)
				}
				slice, err := store.GetSlice(ctx, memoryID, lineStart, lineEnd)
				if err != nil {
					return Fail("fetch failed: %v", err)
				}
				return Ok(map[string]any{
					"memory_id":  memoryID,
					"line_start": lineStart,
					"line_end":   lineEnd,
					"content":    slice,
				})

			case hasByteOffset || hasByteLength:
				if !hasByteLength {
					return Fail("byte_length is required with byte_offset")
				}
				if byteLength <= 0 || byteLength > memstore.MaxByteRange {
					return Fail("byte_length %d exceeds the %d-byte cap", byteLength, memstore.MaxByteRange)
				}
				if byteOffset < 0 {
					return Fail("byte_offset must be non-negative")
				}
				data, err := store.GetBytes(ctx, memoryID, byteOffset, byteLength)
				if err != nil {
					return Fail("fetch failed: %v", err)
				}
				return Ok(map[string]any{
					"memory_id":   memoryID,
					"byte_offset": byteOffset,
					"byte_length": len(data),
					"content":     string(data),
				})

			default:
				// No range given: return metadata only, never the full body.
				meta, err := store.GetMeta(ctx, memoryID)
				if err != nil {
					return Fail("fetch failed: %v", err)
				}
				return Ok(map[string]any{
					"memory_id": meta.MemoryID,
					"type":      meta.Type,
					"mime":      meta.Mime,
					"bytes":     meta.Bytes,
					"title":     meta.Title,
					"hint":      "pass line_start/line_end or byte_offset/byte_length to read content",
				})
			}
		},
	}
}
