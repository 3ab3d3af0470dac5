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

// Command braid is the agent context-management service: it persists
// conversations, offloads large content into scoped caches, and serves
// turns over SSE.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/braid-labs/braid/embedded"
	"github.com/braid-labs/braid/pkg/compressor"
	"github.com/braid-labs/braid/pkg/config"
	"github.com/braid-labs/braid/pkg/convstore"
	"github.com/braid-labs/braid/pkg/janitor"
	"github.com/braid-labs/braid/pkg/kvstore"
	"github.com/braid-labs/braid/pkg/llm/anthropic"
	"github.com/braid-labs/braid/pkg/memstore"
	"github.com/braid-labs/braid/pkg/offload"
	"github.com/braid-labs/braid/pkg/planner"
	"github.com/braid-labs/braid/pkg/promptcache"
	"github.com/braid-labs/braid/pkg/retrieval"
	"github.com/braid-labs/braid/pkg/runner"
	"github.com/braid-labs/braid/pkg/sandbox"
	"github.com/braid-labs/braid/pkg/stream"
	"github.com/braid-labs/braid/pkg/tokens"
)

var (
	configPath string
	logger     *zap.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "braid",
		Short: "Agent context management service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = buildLogger(cfg.Log.Level)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "directory containing braid.yaml")

	root.AddCommand(newServeCmd(), newTurnCmd(), newCacheCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type configKey struct{}

func cfgFrom(cmd *cobra.Command) *config.Config {
	return cmd.Context().Value(configKey{}).(*config.Config)
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// core holds the wired pipeline for one process.
type core struct {
	conv      *convstore.Store
	artifacts *kvstore.Store
	memories  *memstore.Store
	runner    *runner.Runner
	janitor   *janitor.Janitor
}

func buildCore(cfg *config.Config) (*core, error) {
	counter := tokens.NewCounter()

	artifacts, err := kvstore.New(kvstore.Config{
		FS:               sandbox.NewLocalFS(),
		Root:             cfg.ArtifactRoot(),
		TTLOverrideHours: cfg.Cache.TTLOverrideHours,
		Logger:           logger.Named("kvstore"),
		Seeder:           embedded.InstructionSeeder(),
	})
	if err != nil {
		return nil, err
	}

	memories, err := memstore.Open(cfg.MemoryRoot(), logger.Named("memstore"))
	if err != nil {
		return nil, err
	}

	conv, err := convstore.Open(cfg.ConversationDBPath(), logger.Named("convstore"))
	if err != nil {
		return nil, err
	}

	provider := anthropic.NewClient(anthropic.Config{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
	})
	plannerProvider := anthropic.NewClient(anthropic.Config{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.PlannerModel,
	})
	ctxPlanner, err := planner.New(plannerProvider, logger.Named("planner"))
	if err != nil {
		return nil, err
	}

	deps := runner.Deps{
		Conv:        conv,
		Artifacts:   artifacts,
		Memories:    memories,
		Offloader:   offload.New(artifacts, counter, logger.Named("offload")),
		Counter:     counter,
		Compressor:  compressor.New(counter, logger.Named("compressor")),
		Planner:     ctxPlanner,
		Renderer:    retrieval.New(artifacts, logger.Named("retrieval")),
		PromptCache: promptcache.New(counter, logger.Named("promptcache")),
		Provider:    provider,
		Logger:      logger.Named("runner"),
	}
	if cfg.LLM.FallbackModel != "" {
		deps.Fallback = anthropic.NewClient(anthropic.Config{
			APIKey: cfg.LLM.APIKey,
			Model:  cfg.LLM.FallbackModel,
		})
	}

	run := runner.New(deps, runner.Config{
		Model:          cfg.LLM.Model,
		FallbackModel:  cfg.LLM.FallbackModel,
		AggressiveMode: cfg.Retrieval.AggressiveMode,
	})

	return &core{
		conv:      conv,
		artifacts: artifacts,
		memories:  memories,
		runner:    run,
		janitor:   janitor.New(artifacts, logger.Named("janitor")),
	}, nil
}

func (c *core) close() {
	if err := c.memories.Close(); err != nil {
		logger.Warn("close memstore", zap.Error(err))
	}
	if err := c.conv.Close(); err != nil {
		logger.Warn("close convstore", zap.Error(err))
	}
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve turns over HTTP with SSE event streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFrom(cmd)
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			if err := c.janitor.Start(cfg.Cache.JanitorSchedule); err != nil {
				return err
			}
			defer c.janitor.Stop()

			sseServer := sse.New()
			sseServer.AutoReplay = false
			defer sseServer.Close()

			mux := http.NewServeMux()
			mux.HandleFunc("/events", sseServer.ServeHTTP)
			mux.HandleFunc("/turn", func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
					return
				}
				var body struct {
					ThreadID string `json:"thread_id"`
					Message  string `json:"message"`
				}
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ThreadID == "" {
					http.Error(w, "thread_id and message required", http.StatusBadRequest)
					return
				}
				emitter := stream.NewSSEEmitter(sseServer, body.ThreadID, logger.Named("stream"))
				result, err := c.runner.RunTurn(r.Context(), body.ThreadID, body.Message, emitter)
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"content":       result.Response.Content,
					"finish_reason": result.Response.FinishReason,
					"used_fallback": result.UsedFallback,
					"usage":         result.Response.Usage,
				})
			})

			server := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- server.ListenAndServe() }()
			logger.Info("braid serving", zap.String("addr", addr))

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case <-stop:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "listen address")
	return cmd
}

func newTurnCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "turn [message]",
		Short: "Run a single turn on a thread and print the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgFrom(cmd)
			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.close()

			ctx := cmd.Context()
			if threadID == "" {
				project, err := c.conv.CreateProject(ctx, "cli", convstore.Sandbox{ID: "local"})
				if err != nil {
					return err
				}
				thread, err := c.conv.CreateThread(ctx, project.ProjectID)
				if err != nil {
					return err
				}
				threadID = thread.ThreadID
				fmt.Fprintf(cmd.ErrOrStderr(), "thread: %s\n", threadID)
			}

			collector := &stream.Collector{}
			result, err := c.runner.RunTurn(ctx, threadID, args[0], collector)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Response.Content)
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "existing thread id (created when empty)")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the artifact cache",
	}

	cache.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print per-scope usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(cfgFrom(cmd))
			if err != nil {
				return err
			}
			defer c.close()
			stats, err := c.artifacts.Stats(cmd.Context(), "")
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	cache.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired entries and stranded files",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCore(cfgFrom(cmd))
			if err != nil {
				return err
			}
			defer c.close()
			counts, err := c.janitor.SweepNow(cmd.Context())
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(counts, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})

	return cache
}
