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

// Package offload is the policy layer above the artifact store: it decides
// which message payloads are large enough to extract, writes them as scoped
// artifacts, and replaces them in-line with lightweight pointer references.
package offload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/tokens"
)

// Aggressive default thresholds.
const (
	// TokenThreshold triggers caching when exceeded.
	TokenThreshold = 300

	// CharThreshold triggers caching when exceeded.
	CharThreshold = 1500

	// MinChars below which content is never cached.
	MinChars = 100

	// PreviewChars is the stored preview length.
	PreviewChars = 200

	// SummaryChars caps the sentence-aligned summary.
	SummaryChars = 400
)

// mandatoryContentTypes are always offloaded regardless of size thresholds.
var mandatoryContentTypes = map[string]bool{
	"web_search":        true,
	"websearch":         true,
	"search":            true,
	"tool_output":       true,
	"file_content":      true,
	"view_tasks":        true,
	"terminal_output":   true,
	"assistant_message": true,
	"browser_output":    true,
	"long_response":     true,
}

// sandboxNotReadyMarkers classify store failures that are expected before
// the sandbox filesystem is up; these log at debug and succeed on a later
// turn.
var sandboxNotReadyMarkers = []string{
	"sandbox", "not found", "not available", "not started",
	"connection", "timeout", "filesystem", "create_folder",
	"upload_file", "make_dir",
}

// Request carries one offload decision's inputs.
type Request struct {
	Content     any // string or structured object
	ContentType string
	SourceID    string
	Metadata    map[string]any
	CustomKey   string
	TTLHours    int
	ForceCache  bool
}

// Offloader extracts large payloads into the artifact store.
type Offloader struct {
	store   *kvstore.Store
	counter *tokens.Counter
	logger  *zap.Logger
}

// New creates an Offloader. counter may be nil, in which case sizes are
// estimated at 4 chars per token.
func New(store *kvstore.Store, counter *tokens.Counter, logger *zap.Logger) *Offloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Offloader{store: store, counter: counter, logger: logger}
}

// shouldCache applies the threshold policy.
func shouldCache(req Request, sizeTokens, sizeChars int) bool {
	if sizeChars < MinChars {
		return false
	}
	if req.ForceCache || mandatoryContentTypes[req.ContentType] {
		return true
	}
	return sizeTokens > TokenThreshold || sizeChars > CharThreshold
}

// scopeAndTTL routes a content type to its scope and default TTL hours.
func scopeAndTTL(contentType string) (kvstore.Scope, int) {
	switch contentType {
	case "conversation", "summary":
		return kvstore.ScopeProject, 72
	case "file_content":
		return kvstore.ScopeArtifacts, 24
	case "search", "web_search", "websearch", "tool_output":
		return kvstore.ScopeArtifacts, 48
	default:
		return kvstore.ScopeArtifacts, 48
	}
}

// contentString renders the request content for sizing and storage.
func contentString(content any) (string, any) {
	switch v := content.(type) {
	case string:
		return v, v
	case []byte:
		return string(v), v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v), fmt.Sprintf("%v", v)
		}
		return string(b), v
	}
}

// Offload applies the caching policy and, when it fires, writes the content
// as an artifact and returns the pointer reference. A nil reference with a
// nil error means "keep the content inline" — either the policy declined or
// the store refused (quota, sandbox not ready).
func (o *Offloader) Offload(ctx context.Context, req Request) (*ArtifactReference, error) {
	text, storeValue := contentString(req.Content)
	sizeChars := len(text)
	var sizeTokens int
	if o.counter != nil {
		sizeTokens = o.counter.Count(text)
	} else {
		sizeTokens = tokens.Estimate(text)
	}

	if !shouldCache(req, sizeTokens, sizeChars) {
		return nil, nil
	}

	key := o.artifactKey(req)
	scope, defaultTTL := scopeAndTTL(req.ContentType)
	ttl := req.TTLHours
	if ttl == 0 {
		ttl = defaultTTL
	}

	meta := map[string]any{
		"preview":      buildPreview(text),
		"summary":      buildSummary(text),
		"content_type": req.ContentType,
	}
	if req.SourceID != "" {
		meta["source_id"] = req.SourceID
	}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	if _, err := o.store.Put(ctx, scope, key, storeValue, kvstore.PutOptions{
		TTLHours:    ttl,
		Metadata:    meta,
		ContentType: req.ContentType,
	}); err != nil {
		o.logStoreFailure(key, err)
		return nil, nil
	}

	ref := &ArtifactReference{
		Cached:        true,
		ArtifactKey:   key,
		Scope:         scope,
		ContentType:   req.ContentType,
		SourceID:      req.SourceID,
		Preview:       buildPreview(text),
		Summary:       buildSummary(text),
		SizeTokens:    sizeTokens,
		SizeChars:     sizeChars,
		RetrievalHint: fmt.Sprintf("Full content cached; call get_artifact(%q) to retrieve it", key),
		Metadata:      req.Metadata,
	}
	if info, err := o.store.GetMetadata(ctx, scope, key); err == nil {
		ref.Fingerprint = info.Fingerprint
	}
	return ref, nil
}

// logStoreFailure classifies a store error: quota and sandbox-not-ready are
// expected and logged low; everything else warns.
func (o *Offloader) logStoreFailure(key string, err error) {
	if kvstore.IsQuotaError(err) {
		o.logger.Warn("offload: scope quota exceeded, keeping content inline",
			zap.String("key", key), zap.Error(err))
		return
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range sandboxNotReadyMarkers {
		if strings.Contains(msg, marker) {
			o.logger.Debug("offload: sandbox not ready, will retry next turn",
				zap.String("key", key), zap.Error(err))
			return
		}
	}
	o.logger.Warn("offload: unexpected store failure, keeping content inline",
		zap.String("key", key), zap.Error(err))
}

// artifactKey generates the storage key: either the caller's custom key plus
// source suffix, or content-type + timestamp + random suffix + source.
func (o *Offloader) artifactKey(req Request) string {
	src := kvstore.SanitizeKey(req.SourceID)
	if req.CustomKey != "" {
		if src != "" {
			return req.CustomKey + "_" + src
		}
		return req.CustomKey
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	rand8 := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	key := fmt.Sprintf("%s_%s_%s", req.ContentType, stamp, rand8)
	if src != "" {
		key += "_" + src
	}
	return key
}

// buildPreview returns the first 200 characters, with an ellipsis marker
// when truncated.
func buildPreview(text string) string {
	if len(text) <= PreviewChars {
		return text
	}
	return cutRunes(text, PreviewChars) + "..."
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

// buildSummary concatenates leading sentences until the 400-char cap, with
// whitespace collapsed. The cut is sentence-aligned: a sentence that would
// cross the cap is dropped entirely.
func buildSummary(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= SummaryChars {
		return collapsed
	}
	var b strings.Builder
	for _, sentence := range splitSentences(collapsed) {
		if b.Len()+len(sentence)+1 > SummaryChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
	}
	if b.Len() == 0 {
		// No sentence boundary inside the cap; fall back to a hard cut.
		return cutRunes(collapsed, SummaryChars)
	}
	return b.String()
}

// splitSentences splits on sentence-ending punctuation followed by a space.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && text[i+1] == ' ' {
			out = append(out, text[start:i+1])
			start = i + 2
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// RetrieveContent fetches the full artifact value on demand. A miss returns
// nil without error.
func (o *Offloader) RetrieveContent(ctx context.Context, artifactKey string, scope kvstore.Scope) (any, error) {
	if scope == "" {
		scope = kvstore.ScopeArtifacts
	}
	v, err := o.store.Get(ctx, scope, artifactKey, kvstore.AsAuto)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) || errors.Is(err, kvstore.ErrExpired) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

// OffloadToolOutput offloads a tool's output keyed by tool name and call id.
func (o *Offloader) OffloadToolOutput(ctx context.Context, toolOutput any, toolName, toolCallID string) (*ArtifactReference, error) {
	sourceID := toolName
	if toolCallID != "" {
		sourceID = toolName + "_" + toolCallID
	}
	return o.Offload(ctx, Request{
		Content:     toolOutput,
		ContentType: "tool_output",
		SourceID:    sourceID,
		Metadata:    map[string]any{"tool_name": toolName, "tool_call_id": toolCallID},
	})
}

// OffloadSearchResults offloads search output. Web-search content is
// force-cached; when the first attempt declines, it is retried once with the
// force flag and an explicit content-type override.
func (o *Offloader) OffloadSearchResults(ctx context.Context, results any, searchType, query string) (*ArtifactReference, error) {
	req := Request{
		Content:     results,
		ContentType: searchType,
		SourceID:    query,
		Metadata:    map[string]any{"search_type": searchType, "query": query},
	}
	ref, err := o.Offload(ctx, req)
	if err != nil {
		return nil, err
	}
	if ref == nil && isWebSearch(searchType) {
		req.ForceCache = true
		req.ContentType = "web_search"
		return o.Offload(ctx, req)
	}
	return ref, nil
}

func isWebSearch(searchType string) bool {
	s := strings.ToLower(searchType)
	return s == "web_search" || s == "websearch"
}

// OffloadFileContent offloads file contents keyed by path.
func (o *Offloader) OffloadFileContent(ctx context.Context, content any, filePath string) (*ArtifactReference, error) {
	return o.Offload(ctx, Request{
		Content:     content,
		ContentType: "file_content",
		SourceID:    filePath,
		Metadata:    map[string]any{"file_path": filePath},
	})
}
