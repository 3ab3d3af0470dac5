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
package tokens

import "strings"

// modelContextWindows maps model base names to context-window sizes. Keys
// are base names; versioned model ids resolve by longest matching prefix.
var modelContextWindows = map[string]int{
	// Anthropic Claude models
	"claude-sonnet-4":   200000,
	"claude-opus-4":     200000,
	"claude-3-5-sonnet": 200000,
	"claude-3-opus":     200000,
	"claude-3-haiku":    200000,

	// Google Gemini models
	"gemini-2.5-pro":    2000000,
	"gemini-2.0-pro":    2000000,
	"gemini-1.5-pro":    1000000,
	"gemini-2.5-flash":  1000000,
	"gemini-2.0-flash":  1000000,
	"gemini-1.5-flash":  1000000,
	"gemini-flash-lite": 1000000,

	// OpenAI models
	"gpt-4.1":       1000000,
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"o3":            200000,
	"o4-mini":       200000,
	"gpt-5":         400000,
	"gpt-3.5-turbo": 16385,

	// Meta Llama models
	"llama-3.1": 128000,
	"llama-3":   8192,

	// Mistral models
	"mistral-large": 128000,
	"mistral":       32000,
}

// DefaultContextWindow is the conservative fallback when a model is unknown.
const DefaultContextWindow = 128000

// ContextWindow returns the context-window size for a model id, using
// longest-prefix matching for versioned ids ("claude-3-5-sonnet-20241022"
// resolves through "claude-3-5-sonnet"). Unknown models get
// DefaultContextWindow.
func ContextWindow(model string) int {
	model = strings.ToLower(model)
	if w, ok := modelContextWindows[model]; ok {
		return w
	}
	bestLen, bestWindow := 0, 0
	for base, w := range modelContextWindows {
		if strings.HasPrefix(model, base) && len(base) > bestLen {
			bestLen = len(base)
			bestWindow = w
		}
	}
	if bestLen > 0 {
		return bestWindow
	}
	return DefaultContextWindow
}

// CompressionReserve returns the output/system reserve subtracted from a
// context window to derive the compressor's effective token ceiling. The
// tiers follow window class: 1M-class reserves 300k, 400k-class 64k,
// 200k-class 32k, 100k-class 16k, everything smaller 8k.
func CompressionReserve(contextWindow int) int {
	switch {
	case contextWindow >= 1000000:
		return 300000
	case contextWindow >= 400000:
		return 64000
	case contextWindow >= 200000:
		return 32000
	case contextWindow >= 100000:
		return 16000
	default:
		return 8000
	}
}

// EffectiveBudget returns the compressor token ceiling for a model.
func EffectiveBudget(model string) int {
	w := ContextWindow(model)
	return w - CompressionReserve(w)
}
