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
package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/sandbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{
		FS:   sandbox.NewLocalFS(),
		Root: filepath.Join(t.TempDir(), ".kv-cache"),
	})
	require.NoError(t, err)
	return store
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean", "report_v1.json", "report_v1.json"},
		{"spaces", "my report", "my_report"},
		{"slashes", "a/b/c", "a_b_c"},
		{"unicode", "résumé", "r_sum_"},
		{"allowed punctuation", "a.b-c_d", "a.b-c_d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeKey(tt.in))
		})
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		value any
		want  any
	}{
		{"string", "hello world", "hello world"},
		{"bytes", []byte{0x01, 0x02, 0xff}, []byte{0x01, 0x02, 0xff}},
		{"dict", map[string]any{"k": "v", "n": float64(3)}, map[string]any{"k": "v", "n": float64(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Put(ctx, ScopeArtifacts, "rt_"+tt.name, tt.value, PutOptions{})
			require.NoError(t, err)

			got, err := store.Get(ctx, ScopeArtifacts, "rt_"+tt.name, AsAuto)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPutRejectsBadKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty", "", ErrEmptyKey},
		{"too long", strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
		{"traversal", "../escape", ErrKeyTraversal},
		{"absolute", "/etc/passwd", ErrKeyTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Put(ctx, ScopeArtifacts, tt.key, "v", PutOptions{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFingerprintMatchesWrittenBytes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path, err := store.Put(ctx, ScopeArtifacts, "fp_key", "some payload", PutOptions{})
	require.NoError(t, err)

	info, err := store.GetMetadata(ctx, ScopeArtifacts, "fp_key")
	require.NoError(t, err)
	require.Len(t, info.Fingerprint, FingerprintHexLen)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	sum := sha256.Sum256(raw)
	assert.Equal(t, hex.EncodeToString(sum[:])[:FingerprintHexLen], info.Fingerprint)
}

func TestQuotaRefusalLeavesStoreUntouched(t *testing.T) {
	// 1 MB quota on the task scope.
	store, err := New(Config{
		FS:   sandbox.NewLocalFS(),
		Root: filepath.Join(t.TempDir(), ".kv-cache"),
		Scopes: map[Scope]ScopeConfig{
			ScopeTask: {DefaultTTLHours: 24, MaxSizeMB: 1},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, ScopeTask, "first", strings.Repeat("a", 700_000), PutOptions{})
	require.NoError(t, err)

	before, err := store.Stats(ctx, ScopeTask)
	require.NoError(t, err)

	_, err = store.Put(ctx, ScopeTask, "second", strings.Repeat("b", 700_000), PutOptions{})
	require.Error(t, err)

	var quotaErr *QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, ScopeTask, quotaErr.Scope)
	assert.True(t, IsQuotaError(err))

	// The refused write left the scope byte-identical.
	after, err := store.Stats(ctx, ScopeTask)
	require.NoError(t, err)
	assert.Equal(t, before[ScopeTask].LiveBytes, after[ScopeTask].LiveBytes)
	assert.Equal(t, before[ScopeTask].EntryCount, after[ScopeTask].EntryCount)

	_, err = store.Get(ctx, ScopeTask, "second", AsAuto)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOverwriteReleasesQuota(t *testing.T) {
	store, err := New(Config{
		FS:   sandbox.NewLocalFS(),
		Root: filepath.Join(t.TempDir(), ".kv-cache"),
		Scopes: map[Scope]ScopeConfig{
			ScopeTask: {DefaultTTLHours: 24, MaxSizeMB: 1},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, ScopeTask, "k", strings.Repeat("a", 900_000), PutOptions{})
	require.NoError(t, err)

	// Overwriting the same key must not count the old entry against quota.
	_, err = store.Put(ctx, ScopeTask, "k", strings.Repeat("b", 900_000), PutOptions{})
	require.NoError(t, err)
}

func TestExpiredEntryDeletedOnGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	path, err := store.Put(ctx, ScopeArtifacts, "exp_key", "stale", PutOptions{TTLHours: 1})
	require.NoError(t, err)

	// Rewind expires_at behind now.
	idx, err := store.loadIndex(ctx, ScopeArtifacts)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	idx[SanitizeKey("exp_key")].ExpiresAt = &past
	require.NoError(t, store.writeIndex(ctx, ScopeArtifacts, idx))

	_, err = store.Get(ctx, ScopeArtifacts, "exp_key", AsAuto)
	assert.ErrorIs(t, err, ErrExpired)

	// The expired read deletes the underlying file.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTTLOverrideDisablesExpiry(t *testing.T) {
	disabled := 0
	store, err := New(Config{
		FS:               sandbox.NewLocalFS(),
		Root:             filepath.Join(t.TempDir(), ".kv-cache"),
		TTLOverrideHours: &disabled,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, ScopeArtifacts, "k", "v", PutOptions{TTLHours: 1})
	require.NoError(t, err)

	// Rewind expires_at behind now; with enforcement disabled the entry
	// still reads back.
	idx, err := store.loadIndex(ctx, ScopeArtifacts)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	idx[SanitizeKey("k")].ExpiresAt = &past
	require.NoError(t, store.writeIndex(ctx, ScopeArtifacts, idx))

	got, err := store.Get(ctx, ScopeArtifacts, "k", AsAuto)
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestListKeysFiltersAndSorts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"web_search_a", "web_search_b", "file_notes"} {
		_, err := store.Put(ctx, ScopeArtifacts, key, "v", PutOptions{})
		require.NoError(t, err)
	}

	all, err := store.ListKeys(ctx, ScopeArtifacts, "", false)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	searches, err := store.ListKeys(ctx, ScopeArtifacts, "^web_search", false)
	require.NoError(t, err)
	assert.Len(t, searches, 2)
}

func TestPruneExpiredRemovesStrandedFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, ScopeArtifacts, "live", "v", PutOptions{})
	require.NoError(t, err)

	// A file with no index entry, as left by a cancelled write.
	stranded := filepath.Join(store.Root(), string(ScopeArtifacts), "stranded_blob")
	require.NoError(t, os.WriteFile(stranded, []byte("orphan"), 0600))

	counts, err := store.PruneExpired(ctx, ScopeArtifacts)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[ScopeArtifacts])

	_, statErr := os.Stat(stranded)
	assert.True(t, os.IsNotExist(statErr))

	// Live entries survive the prune.
	_, err = store.Get(ctx, ScopeArtifacts, "live", AsAuto)
	assert.NoError(t, err)
}

func TestClearScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		_, err := store.Put(ctx, ScopeTask, key, "v", PutOptions{})
		require.NoError(t, err)
	}
	n, err := store.ClearScope(ctx, ScopeTask)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := store.ListKeys(ctx, ScopeTask, "", true)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentPutsDistinctKeysAllReadable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("artifact_%02d", i)
			_, errs[i] = store.Put(ctx, ScopeArtifacts, key, strings.Repeat("x", 64), PutOptions{})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		key := fmt.Sprintf("artifact_%02d", i)
		got, err := store.Get(ctx, ScopeArtifacts, key, AsString)
		require.NoError(t, err, "successful Put of %s must remain readable", key)
		assert.Equal(t, strings.Repeat("x", 64), got)
	}
}
