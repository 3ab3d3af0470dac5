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

// Package janitor runs the background maintenance sweeps: expired
// artifact pruning on a cron schedule. Sweeps are best-effort; a failed
// run logs and waits for the next tick.
package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/kvstore"
)

// DefaultSchedule prunes every 30 minutes.
const DefaultSchedule = "*/30 * * * *"

// sweepTimeout bounds one prune pass.
const sweepTimeout = 2 * time.Minute

// Janitor owns the cron scheduler.
type Janitor struct {
	cron   *cron.Cron
	store  *kvstore.Store
	logger *zap.Logger
}

// New creates a Janitor over the artifact store.
func New(store *kvstore.Store, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		cron:   cron.New(),
		store:  store,
		logger: logger,
	}
}

// Start registers the prune sweep and starts the scheduler. An empty
// schedule uses DefaultSchedule.
func (j *Janitor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := j.cron.AddFunc(schedule, j.sweep); err != nil {
		return fmt.Errorf("janitor: register sweep: %w", err)
	}
	j.cron.Start()
	j.logger.Info("janitor started", zap.String("schedule", schedule))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("janitor stopped")
}

// SweepNow runs one prune pass immediately.
func (j *Janitor) SweepNow(ctx context.Context) (map[kvstore.Scope]int, error) {
	return j.store.PruneExpired(ctx, "")
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	counts, err := j.store.PruneExpired(ctx, "")
	if err != nil {
		j.logger.Warn("janitor: prune sweep failed", zap.Error(err))
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 {
		j.logger.Info("janitor: pruned expired entries", zap.Int("count", total))
	}
}
