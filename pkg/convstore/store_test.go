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
package convstore

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/types"
)

func newTestConvStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "braid.sqlite"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestThread(t *testing.T, store *Store) *Thread {
	t.Helper()
	ctx := context.Background()
	project, err := store.CreateProject(ctx, "test project", Sandbox{ID: "sbx-1"})
	require.NoError(t, err)
	thread, err := store.CreateThread(ctx, project.ProjectID)
	require.NoError(t, err)
	return thread
}

func TestProjectRoundTrip(t *testing.T) {
	store := newTestConvStore(t)
	ctx := context.Background()

	sandbox := Sandbox{
		ID:         "sbx-9",
		Pass:       "secret",
		VNCPreview: "https://vnc.example/preview",
		SandboxURL: "https://sbx.example",
	}
	created, err := store.CreateProject(ctx, "report project", sandbox)
	require.NoError(t, err)

	got, err := store.GetProject(ctx, created.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "report project", got.Name)
	assert.Equal(t, sandbox, got.Sandbox)

	_, err = store.GetProject(ctx, "missing")
	assert.ErrorContains(t, err, "not found")
}

func TestThreadRoundTrip(t *testing.T) {
	store := newTestConvStore(t)
	thread := newTestThread(t, store)

	got, err := store.GetThread(context.Background(), thread.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, thread.ProjectID, got.ProjectID)
}

func TestInsertAndListOrdering(t *testing.T) {
	store := newTestConvStore(t)
	thread := newTestThread(t, store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		_, err := store.InsertMessage(ctx, StoredMessage{
			ThreadID:     thread.ThreadID,
			Type:         "user",
			Content:      fmt.Sprintf("msg %d", i),
			IsLLMMessage: true,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	msgs, err := store.ListMessages(ctx, thread.ThreadID, false, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i), m.Content, "oldest first")
	}
}

func TestListMessagesLLMOnlyFilter(t *testing.T) {
	store := newTestConvStore(t)
	thread := newTestThread(t, store)
	ctx := context.Background()

	_, err := store.InsertMessage(ctx, StoredMessage{
		ThreadID: thread.ThreadID, Type: "user", Content: "question", IsLLMMessage: true,
	})
	require.NoError(t, err)
	_, err = store.InsertMessage(ctx, StoredMessage{
		ThreadID: thread.ThreadID, Type: "status", Content: "running tool", IsLLMMessage: false,
	})
	require.NoError(t, err)

	all, err := store.ListMessages(ctx, thread.ThreadID, false, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	llm, err := store.ListMessages(ctx, thread.ThreadID, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, llm, 1)
	assert.Equal(t, "question", llm[0].Content)
}

func TestMetadataRoundTrip(t *testing.T) {
	store := newTestConvStore(t)
	thread := newTestThread(t, store)
	ctx := context.Background()

	meta := &types.MessageMetadata{
		MemoryRefs: []types.MemoryRef{{ID: "abc", Title: "offloaded body", Mime: "text/plain"}},
	}
	inserted, err := store.InsertMessage(ctx, StoredMessage{
		ThreadID:     thread.ThreadID,
		Type:         "assistant",
		Content:      "summary kept inline",
		IsLLMMessage: true,
		Metadata:     meta,
	})
	require.NoError(t, err)

	msgs, err := store.ListMessages(ctx, thread.ThreadID, true, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.NotNil(t, msgs[0].Metadata)
	assert.Equal(t, meta.MemoryRefs, msgs[0].Metadata.MemoryRefs)
	assert.Equal(t, inserted.MessageID, msgs[0].MessageID)
}

func TestLoadAllMessagesPagination(t *testing.T) {
	store := newTestConvStore(t)
	thread := newTestThread(t, store)
	ctx := context.Background()

	total := DefaultBatchSize + 50
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < total; i++ {
		_, err := store.InsertMessage(ctx, StoredMessage{
			ThreadID:     thread.ThreadID,
			Type:         "user",
			Content:      fmt.Sprintf("m%04d", i),
			IsLLMMessage: true,
			CreatedAt:    base.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}

	all, err := store.LoadAllMessages(ctx, thread.ThreadID, true)
	require.NoError(t, err)
	require.Len(t, all, total)
	assert.Equal(t, "m0000", all[0].Content)
	assert.Equal(t, fmt.Sprintf("m%04d", total-1), all[total-1].Content)
}

func TestToMessage(t *testing.T) {
	now := time.Now().UTC()
	stored := StoredMessage{
		MessageID: "id-1",
		Type:      "assistant",
		Content:   "hello",
		CreatedAt: now,
	}
	msg := stored.ToMessage()
	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, "id-1", msg.MessageID)
	assert.Equal(t, now, msg.CreatedAt)
}
