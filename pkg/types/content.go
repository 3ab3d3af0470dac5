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

import (
	"encoding/json"
	"strings"
)

// ContentKind tags the normalized content variant of a message. Content is
// classified once at ingress; downstream stages dispatch on the tag instead
// of re-inspecting strings and nested maps.
type ContentKind int

const (
	// ContentText is plain conversational text.
	ContentText ContentKind = iota

	// ContentToolExecution is a tool result: either a string carrying a
	// ToolResult sentinel, or a structured object with a tool_execution field.
	ContentToolExecution

	// ContentInteractive is a structured object carrying interactive_elements.
	ContentInteractive
)

// Classify returns the content variant of a message. A JSON string that
// decodes to a tool-execution or interactive object classifies as that
// object's kind.
func Classify(m Message) ContentKind {
	if m.Structured != nil {
		return classifyMap(m.Structured)
	}
	if strings.Contains(m.Content, "ToolResult") {
		return ContentToolExecution
	}
	trimmed := strings.TrimSpace(m.Content)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return classifyMap(obj)
		}
	}
	return ContentText
}

func classifyMap(obj map[string]any) ContentKind {
	if _, ok := obj["tool_execution"]; ok {
		return ContentToolExecution
	}
	if _, ok := obj["interactive_elements"]; ok {
		return ContentInteractive
	}
	return ContentText
}

// IsToolResult reports whether a message carries a tool result in any of its
// recognized encodings.
func IsToolResult(m Message) bool {
	k := Classify(m)
	return k == ContentToolExecution || k == ContentInteractive
}
