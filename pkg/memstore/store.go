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

// Package memstore is the content-addressed memory store: large message
// payloads are zstd-compressed and stored under the SHA-256 of the
// compressed bytes, with a SQLite metadata table and append-only JSON
// operation logs. Messages reference blobs through memory_refs metadata.
package memstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	_ "github.com/braid-labs/braid/internal/sqlitedriver"
)

// Memory types.
const (
	TypeToolOutput = "TOOL_OUTPUT"
	TypeWebScrape  = "WEB_SCRAPE"
	TypeFileList   = "FILE_LIST"
	TypeDocChunk   = "DOC_CHUNK"
)

// Slice and range caps enforced at the tool boundary.
const (
	// MaxSliceLines caps a single line-range fetch.
	MaxSliceLines = 2000

	// MaxByteRange caps a single byte-range fetch.
	MaxByteRange = 65536
)

// Ref is the reference returned by PutText and embedded into message
// metadata as a memory_ref.
type Ref struct {
	MemoryID    string `json:"memory_id"`
	Mime        string `json:"mime"`
	Path        string `json:"path"`
	Compression string `json:"compression"`
	Bytes       int64  `json:"bytes"`
	Title       string `json:"title"`
}

// Meta is a metadata row.
type Meta struct {
	MemoryID    string
	Type        string
	Subtype     string
	Mime        string
	Bytes       int64
	Compression string
	Path        string
	SHA256      string
	Title       string
	Tags        []string
	CreatedAt   time.Time
}

// PutOptions carries the optional PutText parameters.
type PutOptions struct {
	Subtype string
	Mime    string // default text/plain
	Title   string
	Tags    []string
}

// Store is the CAS memory store rooted at {workspace}/.aga_mem.
type Store struct {
	root    string
	db      *sql.DB
	writeMu sync.Mutex // single writer; reads may be concurrent
	logMu   sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger
}

// Open creates or opens a memory store at root.
func Open(root string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(root, "warm"), 0750); err != nil {
		return nil, fmt.Errorf("memstore: create root: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(root, "meta.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("memstore: open metadata db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("memstore: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("memstore: set synchronous: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		memory_id   TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		subtype     TEXT,
		mime        TEXT NOT NULL,
		bytes       INTEGER NOT NULL,
		compression TEXT NOT NULL,
		path        TEXT NOT NULL,
		sha256      TEXT NOT NULL,
		title       TEXT,
		tags_json   TEXT,
		created_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("memstore: init schema: %w", err)
	}

	// Level 6 balances ratio against encode latency for text payloads.
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(6)))
	if err != nil {
		return nil, fmt.Errorf("memstore: create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: create zstd decoder: %w", err)
	}

	return &Store{
		root:    root,
		db:      db,
		encoder: encoder,
		decoder: decoder,
		logger:  logger,
	}, nil
}

// Close releases the metadata database and codec resources.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

// blobPath returns warm/{hash[:2]}/{hash}.zst under root.
func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.root, "warm", hash[:2], hash+".zst")
}

// PutText compresses content, stores the blob if missing, and upserts the
// metadata row keyed by the digest of the compressed bytes.
func (s *Store) PutText(ctx context.Context, content, typ string, opts PutOptions) (*Ref, error) {
	if content == "" {
		return nil, fmt.Errorf("memstore: empty content")
	}
	if typ == "" {
		typ = TypeToolOutput
	}
	mime := opts.Mime
	if mime == "" {
		mime = "text/plain"
	}

	compressed := s.encoder.EncodeAll([]byte(content), nil)
	sum := sha256.Sum256(compressed)
	hash := hex.EncodeToString(sum[:])
	path := s.blobPath(hash)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("memstore: create shard dir: %w", err)
		}
		if err := os.WriteFile(path, compressed, 0600); err != nil {
			return nil, fmt.Errorf("memstore: write blob: %w", err)
		}
	}

	tagsJSON, _ := json.Marshal(opts.Tags)
	relPath, _ := filepath.Rel(s.root, path)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
		(memory_id, type, subtype, mime, bytes, compression, path, sha256, title, tags_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hash, typ, opts.Subtype, mime, int64(len(content)), "zstd", relPath, hash,
		opts.Title, string(tagsJSON), time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("memstore: insert metadata: %w", err)
	}

	s.appendLog("ops.jsonl", map[string]any{
		"op":        "put_text",
		"memory_id": hash,
		"type":      typ,
		"bytes":     len(content),
		"ts":        time.Now().UTC().Format(time.RFC3339),
	})
	s.appendLog("ratios.jsonl", map[string]any{
		"memory_id":  hash,
		"raw":        len(content),
		"compressed": len(compressed),
		"ratio":      float64(len(compressed)) / float64(len(content)),
	})

	return &Ref{
		MemoryID:    hash,
		Mime:        mime,
		Path:        relPath,
		Compression: "zstd",
		Bytes:       int64(len(content)),
		Title:       opts.Title,
	}, nil
}

// GetMeta returns the metadata row for a memory id.
func (s *Store) GetMeta(ctx context.Context, memoryID string) (*Meta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, type, subtype, mime, bytes, compression, path, sha256, title, tags_json, created_at
		FROM memories WHERE memory_id = ?`, memoryID)

	var m Meta
	var tagsJSON string
	var createdMillis int64
	err := row.Scan(&m.MemoryID, &m.Type, &m.Subtype, &m.Mime, &m.Bytes,
		&m.Compression, &m.Path, &m.SHA256, &m.Title, &tagsJSON, &createdMillis)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memstore: memory %s not found", memoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("memstore: read metadata: %w", err)
	}
	if tagsJSON != "" {
		_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
	}
	m.CreatedAt = time.UnixMilli(createdMillis)
	return &m, nil
}

// readBody decompresses the full blob for a memory id.
func (s *Store) readBody(ctx context.Context, memoryID string) ([]byte, error) {
	meta, err := s.GetMeta(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(filepath.Join(s.root, meta.Path))
	if err != nil {
		return nil, fmt.Errorf("memstore: read blob: %w", err)
	}
	body, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: decompress %s: %w", memoryID, err)
	}
	return body, nil
}

// GetSlice returns lines lineStart..lineEnd (1-based, inclusive) of the
// decompressed UTF-8 body.
func (s *Store) GetSlice(ctx context.Context, memoryID string, lineStart, lineEnd int) (string, error) {
	if lineStart < 1 || lineEnd < lineStart {
		return "", fmt.Errorf("memstore: invalid line range %d-%d", lineStart, lineEnd)
	}
	body, err := s.readBody(ctx, memoryID)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(body), "\n")
	if lineStart > len(lines) {
		return "", nil
	}
	if lineEnd > len(lines) {
		lineEnd = len(lines)
	}
	return strings.Join(lines[lineStart-1:lineEnd], "\n"), nil
}

// GetBytes returns a byte range of the decompressed body.
func (s *Store) GetBytes(ctx context.Context, memoryID string, offset, length int) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("memstore: invalid byte range offset=%d length=%d", offset, length)
	}
	body, err := s.readBody(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if offset >= len(body) {
		return nil, nil
	}
	end := offset + length
	if end > len(body) {
		end = len(body)
	}
	return body[offset:end], nil
}

// appendLog appends one JSON line to an operation log. Log failures are
// swallowed: the logs are diagnostic, not authoritative.
func (s *Store) appendLog(name string, record map[string]any) {
	s.logMu.Lock()
	defer s.logMu.Unlock()
	line, err := json.Marshal(record)
	if err != nil {
		return
	}
	f, err := os.OpenFile(filepath.Join(s.root, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		s.logger.Debug("memstore: open op log failed", zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Debug("memstore: append op log failed", zap.Error(err))
	}
}
