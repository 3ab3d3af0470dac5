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

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/braid-labs/braid/pkg/types"
)

func TestContextWindow(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-5-20250929", 200000},
		{"claude-3-5-sonnet-20241022", 200000},
		{"gemini-2.5-pro", 2000000},
		{"gemini-1.5-pro-002", 1000000},
		{"gpt-4o-2024-08-06", 128000},
		{"GPT-5", 400000},
		{"totally-unknown-model", DefaultContextWindow},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ContextWindow(tt.model))
		})
	}
}

func TestCompressionReserveTiers(t *testing.T) {
	tests := []struct {
		window int
		want   int
	}{
		{2000000, 300000},
		{1000000, 300000},
		{400000, 64000},
		{200000, 32000},
		{128000, 16000},
		{32000, 8000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompressionReserve(tt.window))
	}
}

func TestEffectiveBudget(t *testing.T) {
	assert.Equal(t, 168000, EffectiveBudget("claude-sonnet-4-5"))
	assert.Equal(t, 700000, EffectiveBudget("gemini-1.5-pro"))
}

func TestCountIsPositiveAndMonotonic(t *testing.T) {
	c := NewCounter()

	short := c.Count("hello world")
	long := c.Count("hello world, this is a much longer sentence with more content in it")

	assert.Positive(t, short)
	assert.Greater(t, long, short)
	assert.Zero(t, c.Count(""))
}

func TestCountMessageAddsOverhead(t *testing.T) {
	c := NewCounter()
	m := types.Message{Role: types.RoleUser, Content: "hi there"}
	assert.Equal(t, 10+c.Count("hi there"), c.CountMessage(m))
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
	assert.Equal(t, 25, Estimate(string(make([]byte, 100))))
}
