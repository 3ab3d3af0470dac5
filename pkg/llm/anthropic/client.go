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

// Package anthropic implements the LLM transport against Anthropic's
// Messages API. Cache-tier annotations placed on messages by the prompt
// cache planner are forwarded as provider cache_control blocks.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/braid-labs/braid/pkg/types"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Anthropic API endpoint.
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request.
	DefaultMaxTokens = 4096
	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second

	apiVersion  = "2023-06-01"
	cachingBeta = "prompt-caching-2024-07-31"
)

// Client implements types.LLMProvider for the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	maxTokens  int
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey    string
	Model     string // default DefaultModel, overridable via ANTHROPIC_DEFAULT_MODEL
	Endpoint  string // default DefaultEndpoint, overridable via ANTHROPIC_API_ENDPOINT
	Timeout   time.Duration
	MaxTokens int
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		apiKey:     config.APIKey,
		model:      config.Model,
		endpoint:   config.Endpoint,
		maxTokens:  config.MaxTokens,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name.
func (c *Client) Name() string { return "anthropic" }

// Model returns the model identifier.
func (c *Client) Model() string { return c.model }

// Chat sends a conversation to Claude and returns the response.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest) (*types.LLMResponse, error) {
	apiReq := c.buildRequest(req, false)
	resp, err := c.callAPI(ctx, apiReq)
	if err != nil {
		return nil, fmt.Errorf("API call failed: %w", err)
	}
	return convertResponse(resp), nil
}

// ChatStream streams tokens as they are generated, invoking onChunk per
// delta and returning the assembled response.
func (c *Client) ChatStream(ctx context.Context, req types.ChatRequest, onChunk func(types.StreamChunk)) (*types.LLMResponse, error) {
	apiReq := c.buildRequest(req, true)
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var content strings.Builder
	var usage types.Usage
	var stopReason string

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			// Skip malformed events but continue processing.
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
				usage.CacheReadInputTokens = event.Message.Usage.CacheReadInputTokens
				usage.CacheCreationInputTokens = event.Message.Usage.CacheCreationInputTokens
			}
		case "content_block_delta":
			if event.Delta != nil && event.Delta.Text != "" {
				content.WriteString(event.Delta.Text)
				if onChunk != nil {
					onChunk(types.StreamChunk{Delta: event.Delta.Text})
				}
			}
		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				stopReason = event.Delta.StopReason
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		case "message_stop":
			if event.Usage != nil {
				if event.Usage.InputTokens > 0 {
					usage.InputTokens = event.Usage.InputTokens
				}
				if event.Usage.OutputTokens > 0 {
					usage.OutputTokens = event.Usage.OutputTokens
				}
				if event.Usage.CacheReadInputTokens > 0 {
					usage.CacheReadInputTokens = event.Usage.CacheReadInputTokens
				}
				if event.Usage.CacheCreationInputTokens > 0 {
					usage.CacheCreationInputTokens = event.Usage.CacheCreationInputTokens
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading stream: %w", err)
	}

	if onChunk != nil {
		onChunk(types.StreamChunk{FinishReason: stopReason, Usage: &usage})
	}
	return &types.LLMResponse{
		Content:      content.String(),
		FinishReason: stopReason,
		Usage:        usage,
	}, nil
}

// buildRequest converts a provider-agnostic request into wire format.
// System messages (including synthetic cache blocks) move to the system
// field; their cache annotations ride along as cache_control.
func (c *Client) buildRequest(req types.ChatRequest, stream bool) *MessagesRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	var system []TextBlockParam
	var apiMessages []Message
	for _, msg := range req.Messages {
		switch msg.Role {
		case types.RoleSystem:
			if text := msg.Text(); text != "" {
				system = append(system, TextBlockParam{
					Type:         "text",
					Text:         text,
					CacheControl: convertCacheControl(msg.CacheControl),
				})
			}
		case types.RoleAssistant:
			apiMessages = append(apiMessages, Message{
				Role: "assistant",
				Content: []ContentBlock{{
					Type:         "text",
					Text:         msg.Text(),
					CacheControl: convertCacheControl(msg.CacheControl),
				}},
			})
		default:
			// User and tool turns both travel as user-role content.
			apiMessages = append(apiMessages, Message{
				Role: "user",
				Content: []ContentBlock{{
					Type:         "text",
					Text:         msg.Text(),
					CacheControl: convertCacheControl(msg.CacheControl),
				}},
			})
		}
	}

	return &MessagesRequest{
		Model:       model,
		Messages:    apiMessages,
		System:      system,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Stream:      stream,
	}
}

// convertCacheControl maps a cache-tier annotation onto Anthropic's
// ephemeral cache with its two TTL classes. PERMANENT and TTL tiers of an
// hour or more pin the long class; shorter TTL tiers use the default.
func convertCacheControl(cc *types.CacheControl) *CacheControl {
	if cc == nil {
		return nil
	}
	switch cc.Type {
	case types.CachePermanent:
		return &CacheControl{Type: "ephemeral", TTL: "1h"}
	case types.CacheTTL:
		if seconds, err := strconv.Atoi(strings.TrimSuffix(cc.MaxTTL, "s")); err == nil && seconds >= 3600 {
			return &CacheControl{Type: "ephemeral", TTL: "1h"}
		}
		return &CacheControl{Type: "ephemeral"}
	default:
		return &CacheControl{Type: "ephemeral"}
	}
}

func convertResponse(resp *MessagesResponse) *types.LLMResponse {
	out := &types.LLMResponse{
		FinishReason: resp.StopReason,
		Usage: types.Usage{
			InputTokens:              resp.Usage.InputTokens,
			OutputTokens:             resp.Usage.OutputTokens,
			CacheReadInputTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationInputTokens: resp.Usage.CacheCreationInputTokens,
		},
	}
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.Content += block.Text
		}
	}
	return out
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("x-api-key", c.apiKey)
	r.Header.Set("anthropic-version", apiVersion)
	// Cached tokens don't count against Anthropic's ITPM rate limit.
	r.Header.Set("anthropic-beta", cachingBeta)
	return r, nil
}

// callAPI makes the HTTP request to Anthropic's API.
func (c *Client) callAPI(ctx context.Context, req *MessagesRequest) (*MessagesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &resp, nil
}

// Ensure Client implements the provider interfaces.
var (
	_ types.LLMProvider          = (*Client)(nil)
	_ types.StreamingLLMProvider = (*Client)(nil)
)
