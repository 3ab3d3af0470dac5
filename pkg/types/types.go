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

// Package types defines the shared message and transport types used across
// the braid context core. It is a leaf package: other packages import it to
// break import cycles, and it imports nothing outside the standard library.
package types

import (
	"encoding/json"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MemoryRef points at a memory-store blob referenced from a message.
type MemoryRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Mime  string `json:"mime"`
}

// MessageMetadata carries the optional per-message metadata mapping.
// Messages are immutable once persisted; this struct travels with the
// in-memory copy handed to the compression pipeline.
type MessageMetadata struct {
	MemoryRefs  []MemoryRef    `json:"memory_refs,omitempty"`
	TokensSaved int            `json:"tokens_saved,omitempty"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Prefetched  bool           `json:"prefetched,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// CacheTier identifies a provider prompt-cache tier.
type CacheTier string

const (
	// CachePermanent marks content cached for the life of the conversation
	// (system prompts, instruction bundles).
	CachePermanent CacheTier = "PERMANENT"

	// CacheTTL marks content cached with an explicit time-to-live.
	CacheTTL CacheTier = "TTL"
)

// CacheControl is the provider prompt-cache directive attached to a message
// by the prompt cache planner. Nil means uncached ("live").
type CacheControl struct {
	Type   CacheTier `json:"type"`
	MaxTTL string    `json:"maxTTL,omitempty"` // TTL tier only, e.g. "14400s"
}

// Message is a single conversation record. Content holds plain text;
// Structured holds a structured content object when the message carries one
// (exactly one of the two is normally populated). Compression operates on
// in-memory copies; the authoritative store never sees mutated messages.
type Message struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Structured map[string]any   `json:"structured,omitempty"`
	MessageID  string           `json:"message_id,omitempty"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`

	// CacheControl is set only on the transient, provider-ready copy emitted
	// by the prompt cache planner.
	CacheControl *CacheControl `json:"cache_control,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Text returns the message content as a string, serializing structured
// content to JSON when present.
func (m Message) Text() string {
	if m.Structured != nil {
		if b, err := json.Marshal(m.Structured); err == nil {
			return string(b)
		}
	}
	return m.Content
}

// Clone returns a deep copy of the message. The compression pipeline is
// copy-on-write: every pass that changes content must operate on a clone so
// the original list stays untouched.
func (m Message) Clone() Message {
	out := m
	if m.Structured != nil {
		out.Structured = cloneMap(m.Structured)
	}
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.MemoryRefs != nil {
			md.MemoryRefs = append([]MemoryRef(nil), m.Metadata.MemoryRefs...)
		}
		if m.Metadata.Extra != nil {
			md.Extra = cloneMap(m.Metadata.Extra)
		}
		out.Metadata = &md
	}
	if m.CacheControl != nil {
		cc := *m.CacheControl
		out.CacheControl = &cc
	}
	return out
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case map[string]any:
			out[k] = cloneMap(vv)
		case []any:
			cp := make([]any, len(vv))
			for i, e := range vv {
				if em, ok := e.(map[string]any); ok {
					cp[i] = cloneMap(em)
				} else {
					cp[i] = e
				}
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
