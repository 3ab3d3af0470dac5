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

// Package config loads braid configuration from braid.yaml plus
// environment overrides.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	Workspace string `mapstructure:"workspace"`

	LLM struct {
		Provider      string `mapstructure:"provider"`
		Model         string `mapstructure:"model"`
		FallbackModel string `mapstructure:"fallback_model"`
		PlannerModel  string `mapstructure:"planner_model"`
		APIKey        string `mapstructure:"api_key"`
	} `mapstructure:"llm"`

	Cache struct {
		// TTLOverrideHours globally overrides artifact TTLs; zero or
		// negative disables TTL enforcement entirely. Nil means no
		// override.
		TTLOverrideHours *int   `mapstructure:"ttl_override_hours"`
		JanitorSchedule  string `mapstructure:"janitor_schedule"`
	} `mapstructure:"cache"`

	Retrieval struct {
		AggressiveMode bool `mapstructure:"aggressive_mode"`
	} `mapstructure:"retrieval"`

	Embeddings struct {
		Provider string `mapstructure:"provider"`
		Model    string `mapstructure:"model"`
	} `mapstructure:"embeddings"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// ArtifactRoot returns the KV cache root under the workspace.
func (c *Config) ArtifactRoot() string {
	return filepath.Join(c.Workspace, ".kv-cache")
}

// MemoryRoot returns the memory store root under the workspace.
func (c *Config) MemoryRoot() string {
	return filepath.Join(c.Workspace, ".aga_mem")
}

// ConversationDBPath returns the conversation store path.
func (c *Config) ConversationDBPath() string {
	return filepath.Join(c.Workspace, "braid.sqlite")
}

// Load reads braid.yaml from the given path (or the working directory
// when empty) and applies environment overrides. A missing config file is
// fine; defaults and environment carry the configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("braid")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")

	v.SetDefault("workspace", ".")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("llm.planner_model", "gemini-flash-lite")
	v.SetDefault("cache.janitor_schedule", "*/30 * * * *")
	v.SetDefault("retrieval.aggressive_mode", false)
	v.SetDefault("log.level", "info")

	// Bare environment names kept for operational compatibility.
	_ = v.BindEnv("cache.ttl_override_hours", "KV_CACHE_TTL_OVERRIDE_HOURS")
	_ = v.BindEnv("embeddings.provider", "EMBEDDINGS_PROVIDER")
	_ = v.BindEnv("embeddings.model", "EMBEDDINGS_MODEL")
	_ = v.BindEnv("llm.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("llm.model", "ANTHROPIC_DEFAULT_MODEL")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read braid.yaml: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
