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
package types

import "context"

// Usage carries token telemetry from a provider response, including prompt
// cache hit/creation counts where the provider reports them.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// LLMResponse is the final result of a chat call.
type LLMResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// StreamChunk is one element of a streamed chat response.
type StreamChunk struct {
	Delta        string
	FinishReason string
	Usage        *Usage // present on the final chunk
}

// LLMProvider is the transport contract consumed by the planner and the run
// orchestrator. Implementations wrap a concrete provider API.
type LLMProvider interface {
	Name() string
	Model() string
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)
}

// StreamingLLMProvider is implemented by providers that can stream chunks.
type StreamingLLMProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*LLMResponse, error)
}

// SupportsStreaming reports whether a provider implements streaming.
func SupportsStreaming(p LLMProvider) bool {
	_, ok := p.(StreamingLLMProvider)
	return ok
}
