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

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/types"
)

// ExpandOptions controls the inverse (expand) path.
type ExpandOptions struct {
	// AutoExpand enables expansion at all; false returns the input as-is.
	AutoExpand bool

	// ExpandRecentOnly limits hydration to the last RecentMessageCount
	// messages; older messages keep their pointer references.
	ExpandRecentOnly bool

	// RecentMessageCount is the size of the recent window.
	RecentMessageCount int
}

// ExpandCachedReferences rewrites messages whose structured content carries
// pointer references, replacing each reference with the full artifact value.
// Recent-window retrievals run concurrently; a failed retrieval leaves that
// message unchanged. The input list is never mutated.
func (o *Offloader) ExpandCachedReferences(ctx context.Context, msgs []types.Message, opts ExpandOptions) []types.Message {
	if !opts.AutoExpand || len(msgs) == 0 {
		return msgs
	}

	// Fast path: no message carries a reference, no I/O needed.
	if !anyReference(msgs) {
		return msgs
	}

	start := 0
	if opts.ExpandRecentOnly {
		if opts.RecentMessageCount <= 0 {
			return msgs
		}
		start = len(msgs) - opts.RecentMessageCount
		if start < 0 {
			start = 0
		}
	}

	out := make([]types.Message, len(msgs))
	copy(out, msgs[:start])

	g, gctx := errgroup.WithContext(ctx)
	for i := start; i < len(msgs); i++ {
		i := i
		out[i] = msgs[i]
		if !messageHasReference(msgs[i]) {
			continue
		}
		g.Go(func() error {
			expanded, err := o.expandMessage(gctx, msgs[i])
			if err != nil {
				o.logger.Debug("offload: expansion failed, keeping reference",
					zap.String("message_id", msgs[i].MessageID),
					zap.Error(err))
				return nil // per-message failures keep the original
			}
			out[i] = expanded
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func anyReference(msgs []types.Message) bool {
	for _, m := range msgs {
		if messageHasReference(m) {
			return true
		}
	}
	return false
}

func messageHasReference(m types.Message) bool {
	return m.Structured != nil && containsReference(m.Structured)
}

func containsReference(v any) bool {
	switch vv := v.(type) {
	case map[string]any:
		if IsReference(vv) {
			return true
		}
		for _, child := range vv {
			if containsReference(child) {
				return true
			}
		}
	case []any:
		for _, child := range vv {
			if containsReference(child) {
				return true
			}
		}
	}
	return false
}

// expandMessage deep-copies the message and recursively replaces every
// reference object with the retrieved artifact value.
func (o *Offloader) expandMessage(ctx context.Context, m types.Message) (types.Message, error) {
	out := m.Clone()
	replaced, err := o.expandValue(ctx, out.Structured)
	if err != nil {
		return m, err
	}
	switch v := replaced.(type) {
	case string:
		// The whole structured object was a single reference to a string
		// artifact: hoist it to plain text content.
		out.Content = v
		out.Structured = nil
	case map[string]any:
		out.Structured = v
	}
	return out, nil
}

func (o *Offloader) expandValue(ctx context.Context, v any) (any, error) {
	switch vv := v.(type) {
	case map[string]any:
		if IsReference(vv) {
			key, _ := vv["artifact_key"].(string)
			full, err := o.store.Get(ctx, refScope(vv), key, kvstore.AsAuto)
			if err != nil {
				return nil, err
			}
			return full, nil
		}
		for k, child := range vv {
			replaced, err := o.expandValue(ctx, child)
			if err != nil {
				return nil, err
			}
			vv[k] = replaced
		}
		return vv, nil
	case []any:
		for i, child := range vv {
			replaced, err := o.expandValue(ctx, child)
			if err != nil {
				return nil, err
			}
			vv[i] = replaced
		}
		return vv, nil
	default:
		return v, nil
	}
}
