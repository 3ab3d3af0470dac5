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
package offload

import "github.com/braid-labs/braid/pkg/kvstore"

// ArtifactReference is the in-band replacement for an offloaded value. It
// never contains the full original payload; callers retrieve that through
// the expand path or the store.
type ArtifactReference struct {
	Cached        bool           `json:"_cached"`
	ArtifactKey   string         `json:"artifact_key"`
	Scope         kvstore.Scope  `json:"scope"`
	ContentType   string         `json:"content_type"`
	SourceID      string         `json:"source_id,omitempty"`
	Preview       string         `json:"preview"`
	Summary       string         `json:"summary"`
	SizeTokens    int            `json:"size_tokens"`
	SizeChars     int            `json:"size_chars"`
	Fingerprint   string         `json:"fingerprint,omitempty"`
	RetrievalHint string         `json:"retrieval_hint"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// ToMap renders the reference as a structured content object suitable for
// embedding in a message.
func (r *ArtifactReference) ToMap() map[string]any {
	m := map[string]any{
		"_cached":        true,
		"artifact_key":   r.ArtifactKey,
		"scope":          string(r.Scope),
		"content_type":   r.ContentType,
		"preview":        r.Preview,
		"summary":        r.Summary,
		"size_tokens":    r.SizeTokens,
		"size_chars":     r.SizeChars,
		"retrieval_hint": r.RetrievalHint,
	}
	if r.SourceID != "" {
		m["source_id"] = r.SourceID
	}
	if r.Fingerprint != "" {
		m["fingerprint"] = r.Fingerprint
	}
	if r.Metadata != nil {
		m["metadata"] = r.Metadata
	}
	return m
}

// IsReference reports whether a structured value is a pointer to an
// offloaded artifact.
func IsReference(v map[string]any) bool {
	cached, _ := v["_cached"].(bool)
	key, _ := v["artifact_key"].(string)
	return cached && key != ""
}

// refScope extracts the scope of a reference map, defaulting to artifacts.
func refScope(v map[string]any) kvstore.Scope {
	if s, ok := v["scope"].(string); ok && s != "" {
		return kvstore.Scope(s)
	}
	return kvstore.ScopeArtifacts
}
