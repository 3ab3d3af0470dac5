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

// Package embedded provides files compiled into the braid binary so a
// freshly deployed process has a working instruction catalog without any
// external assets.
package embedded

import (
	"context"
	"embed"
	"path"
	"strings"

	"github.com/braid-labs/braid/pkg/kvstore"
)

//go:embed instructions/*.md
var instructionFS embed.FS

// Bundle is one default instruction set, keyed by the planner tag.
type Bundle struct {
	Tag     string
	Content string
	Summary string
}

// Instructions returns the embedded default bundles. The tag is the file
// name without extension; the summary is the first heading line.
func Instructions() []Bundle {
	files, err := instructionFS.ReadDir("instructions")
	if err != nil {
		return nil
	}
	out := make([]Bundle, 0, len(files))
	for _, f := range files {
		data, err := instructionFS.ReadFile(path.Join("instructions", f.Name()))
		if err != nil {
			continue
		}
		content := string(data)
		out = append(out, Bundle{
			Tag:     strings.TrimSuffix(f.Name(), ".md"),
			Content: content,
			Summary: firstHeading(content),
		})
	}
	return out
}

func firstHeading(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// InstructionSeeder plants the embedded bundles into the instructions scope.
// Existing tags are not overwritten, so operator-customized instructions
// survive restarts.
func InstructionSeeder() kvstore.Seeder {
	return func(ctx context.Context, s *kvstore.Store) error {
		for _, b := range Instructions() {
			key := "instruction_" + b.Tag
			if _, err := s.GetMetadata(ctx, kvstore.ScopeInstructions, key); err == nil {
				continue
			}
			_, err := s.Put(ctx, kvstore.ScopeInstructions, key, b.Content, kvstore.PutOptions{
				ContentType: "text/markdown",
				Metadata: map[string]any{
					"summary": b.Summary,
					"source":  "embedded",
				},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}
