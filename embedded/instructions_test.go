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
package embedded

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/sandbox"
)

func TestInstructionsCoverPlannerTags(t *testing.T) {
	bundles := Instructions()
	require.NotEmpty(t, bundles)

	byTag := make(map[string]Bundle, len(bundles))
	for _, b := range bundles {
		byTag[b.Tag] = b
	}
	for _, tag := range []string{
		"presentation", "document_creation", "research",
		"visualization", "web_development",
	} {
		b, ok := byTag[tag]
		require.True(t, ok, "missing default bundle for %s", tag)
		assert.NotEmpty(t, b.Content)
		assert.NotEmpty(t, b.Summary, "summary should come from the first heading")
	}
}

func TestInstructionSeederPlantsCatalog(t *testing.T) {
	store, err := kvstore.New(kvstore.Config{
		FS:     sandbox.NewLocalFS(),
		Root:   filepath.Join(t.TempDir(), ".kv-cache"),
		Seeder: InstructionSeeder(),
	})
	require.NoError(t, err)
	ctx := context.Background()

	// Any first operation triggers lazy init and the seed.
	entries, err := store.ListKeys(ctx, kvstore.ScopeInstructions, "", false)
	require.NoError(t, err)
	require.Len(t, entries, len(Instructions()))

	content, err := store.GetString(ctx, kvstore.ScopeInstructions, "instruction_presentation")
	require.NoError(t, err)
	assert.Contains(t, content, "Presentation Workflow")
}

func TestInstructionSeederKeepsOperatorOverrides(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".kv-cache")
	ctx := context.Background()

	plain, err := kvstore.New(kvstore.Config{FS: sandbox.NewLocalFS(), Root: root})
	require.NoError(t, err)
	_, err = plain.Put(ctx, kvstore.ScopeInstructions, "instruction_research", "custom research flow",
		kvstore.PutOptions{})
	require.NoError(t, err)

	seeded, err := kvstore.New(kvstore.Config{
		FS:     sandbox.NewLocalFS(),
		Root:   root,
		Seeder: InstructionSeeder(),
	})
	require.NoError(t, err)

	content, err := seeded.GetString(ctx, kvstore.ScopeInstructions, "instruction_research")
	require.NoError(t, err)
	assert.Equal(t, "custom research flow", content)
}
