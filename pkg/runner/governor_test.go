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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/tokens"
	"github.com/braid-labs/braid/pkg/types"
)

// messagesOfAbout builds a message list near the requested token total.
func messagesOfAbout(counter *tokens.Counter, target int) []types.Message {
	unit := types.Message{Role: types.RoleUser, Content: strings.Repeat("word count filler ", 50)}
	perMsg := counter.CountMessage(unit)
	n := target / perMsg
	msgs := make([]types.Message, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, unit)
	}
	return msgs
}

func TestGovernBelowThresholdUntouched(t *testing.T) {
	counter := tokens.NewCounter()
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "short question"},
	}

	out := Govern(msgs, counter)

	require.Len(t, out, 1)
	assert.Equal(t, "short question", out[0].Content)
}

func TestGovernAdvisoryTier(t *testing.T) {
	counter := tokens.NewCounter()
	msgs := messagesOfAbout(counter, AdvisoryTokenThreshold+4000)

	out := Govern(msgs, counter)

	require.Len(t, out, len(msgs)+1)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "Prefer references and summaries")
	assert.NotContains(t, out[0].Content, "MUST")

	// Original content rides along untouched.
	for i, m := range msgs {
		assert.Equal(t, m.Content, out[i+1].Content)
	}
}

func TestGovernStrictTier(t *testing.T) {
	counter := tokens.NewCounter()
	msgs := messagesOfAbout(counter, StrictTokenThreshold+8000)

	out := Govern(msgs, counter)

	require.Len(t, out, len(msgs)+1)
	assert.Equal(t, types.RoleSystem, out[0].Role)
	assert.Contains(t, out[0].Content, "You MUST use the memory_fetch tool")
	assert.Contains(t, out[0].Content, "tight line ranges")
}

func TestGovernNeverDropsMessages(t *testing.T) {
	counter := tokens.NewCounter()
	msgs := messagesOfAbout(counter, StrictTokenThreshold*2)

	out := Govern(msgs, counter)

	assert.Equal(t, len(msgs)+1, len(out))
}
