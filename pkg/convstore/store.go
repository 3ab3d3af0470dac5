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

// Package convstore is the authoritative conversation store: threads,
// projects with their sandbox descriptors, and messages ordered by
// created_at. The store only ever receives original message content; the
// compressed and hydrated variants produced during a turn are never
// written back.
package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "github.com/braid-labs/braid/internal/sqlitedriver"
	"github.com/braid-labs/braid/pkg/types"
)

// DefaultBatchSize is the page size for full-thread message loads.
const DefaultBatchSize = 1000

// Sandbox is the project sandbox descriptor.
type Sandbox struct {
	ID         string `json:"id"`
	Pass       string `json:"pass,omitempty"`
	VNCPreview string `json:"vnc_preview,omitempty"`
	SandboxURL string `json:"sandbox_url,omitempty"`
	Token      string `json:"token,omitempty"`
}

// Project groups threads around one workspace sandbox.
type Project struct {
	ProjectID string
	Name      string
	Sandbox   Sandbox
	CreatedAt time.Time
}

// Thread is one conversation.
type Thread struct {
	ThreadID  string
	ProjectID string
	CreatedAt time.Time
}

// StoredMessage is one row of the messages table.
type StoredMessage struct {
	MessageID      string
	ThreadID       string
	Type           string // user, assistant, tool, status
	Content        string
	IsLLMMessage   bool
	Metadata       *types.MessageMetadata
	AgentID        string
	AgentVersionID string
	CreatedAt      time.Time
}

// ToMessage converts a stored row into the in-memory message shape.
func (m *StoredMessage) ToMessage() types.Message {
	return types.Message{
		Role:      m.Type,
		Content:   m.Content,
		MessageID: m.MessageID,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
	}
}

// Store persists conversations in SQLite.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *zap.Logger
}

// Open creates or opens a conversation store at dbPath.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("convstore: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("convstore: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("convstore: set synchronous: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("convstore: enable foreign keys: %w", err)
	}

	store := &Store{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("convstore: init schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		project_id   TEXT PRIMARY KEY,
		name         TEXT,
		sandbox_json TEXT,
		created_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		thread_id  TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(project_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id       TEXT PRIMARY KEY,
		thread_id        TEXT NOT NULL,
		type             TEXT NOT NULL,
		content          TEXT,
		is_llm_message   INTEGER NOT NULL DEFAULT 1,
		metadata_json    TEXT,
		agent_id         TEXT,
		agent_version_id TEXT,
		created_at       INTEGER NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(thread_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_thread_created
		ON messages(thread_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateProject inserts a project with its sandbox descriptor.
func (s *Store) CreateProject(ctx context.Context, name string, sandbox Sandbox) (*Project, error) {
	p := &Project{
		ProjectID: uuid.NewString(),
		Name:      name,
		Sandbox:   sandbox,
		CreatedAt: time.Now().UTC(),
	}
	sandboxJSON, err := json.Marshal(sandbox)
	if err != nil {
		return nil, fmt.Errorf("convstore: encode sandbox: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, name, sandbox_json, created_at) VALUES (?, ?, ?, ?)`,
		p.ProjectID, p.Name, string(sandboxJSON), p.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("convstore: insert project: %w", err)
	}
	return p, nil
}

// GetProject returns a project and its sandbox descriptor.
func (s *Store) GetProject(ctx context.Context, projectID string) (*Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT project_id, name, sandbox_json, created_at FROM projects WHERE project_id = ?`,
		projectID)

	var p Project
	var sandboxJSON string
	var createdMillis int64
	if err := row.Scan(&p.ProjectID, &p.Name, &sandboxJSON, &createdMillis); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("convstore: project %s not found", projectID)
		}
		return nil, fmt.Errorf("convstore: read project: %w", err)
	}
	if sandboxJSON != "" {
		_ = json.Unmarshal([]byte(sandboxJSON), &p.Sandbox)
	}
	p.CreatedAt = time.UnixMilli(createdMillis)
	return &p, nil
}

// CreateThread inserts a thread under a project.
func (s *Store) CreateThread(ctx context.Context, projectID string) (*Thread, error) {
	t := &Thread{
		ThreadID:  uuid.NewString(),
		ProjectID: projectID,
		CreatedAt: time.Now().UTC(),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (thread_id, project_id, created_at) VALUES (?, ?, ?)`,
		t.ThreadID, t.ProjectID, t.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("convstore: insert thread: %w", err)
	}
	return t, nil
}

// GetThread returns a thread row.
func (s *Store) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT thread_id, project_id, created_at FROM threads WHERE thread_id = ?`, threadID)

	var t Thread
	var createdMillis int64
	if err := row.Scan(&t.ThreadID, &t.ProjectID, &createdMillis); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("convstore: thread %s not found", threadID)
		}
		return nil, fmt.Errorf("convstore: read thread: %w", err)
	}
	t.CreatedAt = time.UnixMilli(createdMillis)
	return &t, nil
}

// InsertMessage appends one message to a thread.
func (s *Store) InsertMessage(ctx context.Context, msg StoredMessage) (*StoredMessage, error) {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var metadataJSON string
	if msg.Metadata != nil {
		encoded, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("convstore: encode metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages
		(message_id, thread_id, type, content, is_llm_message, metadata_json, agent_id, agent_version_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.ThreadID, msg.Type, msg.Content,
		boolToInt(msg.IsLLMMessage), metadataJSON, msg.AgentID, msg.AgentVersionID,
		msg.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("convstore: insert message: %w", err)
	}
	return &msg, nil
}

// ListMessages pages through a thread's messages ordered by created_at
// ascending. A batchSize of 0 uses DefaultBatchSize.
func (s *Store) ListMessages(ctx context.Context, threadID string, llmOnly bool, batchSize, offset int) ([]StoredMessage, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	query := `
		SELECT message_id, thread_id, type, content, is_llm_message, metadata_json, agent_id, agent_version_id, created_at
		FROM messages WHERE thread_id = ?`
	args := []any{threadID}
	if llmOnly {
		query += ` AND is_llm_message = 1`
	}
	query += ` ORDER BY created_at ASC, message_id ASC LIMIT ? OFFSET ?`
	args = append(args, batchSize, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("convstore: list messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var isLLM int
		var metadataJSON sql.NullString
		var createdMillis int64
		if err := rows.Scan(&m.MessageID, &m.ThreadID, &m.Type, &m.Content, &isLLM,
			&metadataJSON, &m.AgentID, &m.AgentVersionID, &createdMillis); err != nil {
			return nil, fmt.Errorf("convstore: scan message: %w", err)
		}
		m.IsLLMMessage = isLLM != 0
		m.CreatedAt = time.UnixMilli(createdMillis)
		if metadataJSON.Valid && metadataJSON.String != "" {
			var meta types.MessageMetadata
			if err := json.Unmarshal([]byte(metadataJSON.String), &meta); err == nil {
				m.Metadata = &meta
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LoadAllMessages drains a thread oldest to newest in batches.
func (s *Store) LoadAllMessages(ctx context.Context, threadID string, llmOnly bool) ([]StoredMessage, error) {
	var all []StoredMessage
	for offset := 0; ; offset += DefaultBatchSize {
		batch, err := s.ListMessages(ctx, threadID, llmOnly, DefaultBatchSize, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < DefaultBatchSize {
			return all, nil
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
