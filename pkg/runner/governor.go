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
	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

// Governor thresholds.
const (
	// AdvisoryTokenThreshold triggers the soft pointer-use advisory.
	AdvisoryTokenThreshold = 20000

	// StrictTokenThreshold triggers the mandatory slice-fetch directive.
	StrictTokenThreshold = 40000
)

const advisoryDirective = "Context is growing large. Prefer references and summaries over full content: " +
	"use cached artifact references and the memory_fetch tool instead of repeating long outputs inline."

const strictDirective = "You MUST use the memory_fetch tool to retrieve specific slices; " +
	"do NOT request full memories; always use tight line ranges (≤200 lines) or byte ranges (≤64 KB)."

// Govern estimates the prepared message list and, above the thresholds,
// prepends a system-role directive. It never drops or rewrites content.
func Govern(msgs []types.Message, counter *tokens.Counter) []types.Message {
	total := counter.CountMessages(msgs)
	var directive string
	switch {
	case total > StrictTokenThreshold:
		directive = strictDirective
	case total > AdvisoryTokenThreshold:
		directive = advisoryDirective
	default:
		return msgs
	}

	out := make([]types.Message, 0, len(msgs)+1)
	out = append(out, types.Message{Role: types.RoleSystem, Content: directive})
	out = append(out, msgs...)
	return out
}
