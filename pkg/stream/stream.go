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

// Package stream carries the turn output surface: JSON events framed as
// SSE. Every event has at least a type and content; the sentinel
// thread_run_end closes a turn.
package stream

import (
	"encoding/json"
	"sync"

	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// Event types emitted by the orchestrator.
const (
	EventStatus       = "status"
	EventAssistant    = "assistant"
	EventTool         = "tool"
	EventFinish       = "finish"
	EventThreadRunEnd = "thread_run_end"
)

// Event is one frame of the output stream.
type Event struct {
	Type     string         `json:"type"`
	Content  any            `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Emitter receives turn events. Emission is fire-and-forget: a slow or
// broken consumer must not stall the turn.
type Emitter interface {
	Emit(event Event)
}

// NopEmitter drops all events.
type NopEmitter struct{}

func (NopEmitter) Emit(Event) {}

// Collector buffers events in memory; used by tests and by callers that
// want the full turn transcript after the fact.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event.
func (c *Collector) Emit(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a snapshot of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// SSEEmitter publishes events onto a named SSE stream.
type SSEEmitter struct {
	server   *sse.Server
	streamID string
	logger   *zap.Logger
}

// NewSSEEmitter creates the stream on the server if missing and returns
// an emitter bound to it.
func NewSSEEmitter(server *sse.Server, streamID string, logger *zap.Logger) *SSEEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !server.StreamExists(streamID) {
		server.CreateStream(streamID)
	}
	return &SSEEmitter{server: server, streamID: streamID, logger: logger}
}

// Emit frames the event as JSON and publishes it. Marshal failures are
// logged and dropped; the stream is diagnostic output, not state.
func (e *SSEEmitter) Emit(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("stream: encode event failed",
			zap.String("type", event.Type), zap.Error(err))
		return
	}
	e.server.Publish(e.streamID, &sse.Event{
		Event: []byte(event.Type),
		Data:  data,
	})
}

// Close removes the stream from the server.
func (e *SSEEmitter) Close() {
	e.server.RemoveStream(e.streamID)
}
