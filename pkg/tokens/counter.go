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

// Package tokens provides token counting and model context-window lookup for
// the context core. Counting uses tiktoken with cl100k_base encoding, with a
// chars/4 estimate as fallback when the encoder cannot be loaded.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/braid-labs/braid/pkg/types"
)

// Counter counts tokens for context-budget decisions.
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.Mutex
}

// NewCounter builds a Counter. If the cl100k_base encoding cannot be loaded
// the counter falls back to character-based estimation.
func NewCounter() *Counter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{encoder: nil}
	}
	return &Counter{encoder: tkm}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if c.encoder == nil {
		return Estimate(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessage counts a message's content plus ~10 tokens of structural
// overhead.
func (c *Counter) CountMessage(m types.Message) int {
	return 10 + c.Count(m.Text())
}

// CountMessages sums CountMessage across a list.
func (c *Counter) CountMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += c.CountMessage(m)
	}
	return total
}

// Estimate is the cheap chars/4 approximation used when exact counting is
// unavailable or not worth the cost.
func Estimate(text string) int {
	return len(text) / 4
}
