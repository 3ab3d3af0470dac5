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

// Package kvstore implements the scope-partitioned, file-backed artifact
// store. Every value lives as a file under {root}/{scope}/{sanitized_key}
// with a per-scope _index.json tracking size, fingerprint and expiry.
package kvstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/braid-labs/braid/pkg/sandbox"
)

const (
	// MaxKeyLength is the longest accepted key.
	MaxKeyLength = 255

	// MaxValueBytes is the largest accepted serialized value (50 MB).
	MaxValueBytes = 50 * 1024 * 1024

	// FingerprintHexLen is the stored SHA-256 prefix length.
	FingerprintHexLen = 16

	indexFileName = "_index.json"
)

// ValueType selects the deserialization applied by Get.
type ValueType string

const (
	AsAuto   ValueType = "auto"
	AsString ValueType = "str"
	AsBytes  ValueType = "bytes"
	AsDict   ValueType = "dict"
)

// Entry is one index row. The on-disk schema matches the persisted-state
// contract: the sanitized key maps to this record inside _index.json.
type Entry struct {
	OriginalKey string         `json:"original_key"`
	Path        string         `json:"path"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	Fingerprint string         `json:"fingerprint"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   *time.Time     `json:"expires_at"`
	TTLHours    int            `json:"ttl_hours"`
	Metadata    map[string]any `json:"metadata"`
}

// EntryInfo is an index row plus the computed fields callers see.
type EntryInfo struct {
	Entry
	Scope     Scope  `json:"scope"`
	Key       string `json:"key"` // sanitized key (filesystem name)
	IsExpired bool   `json:"is_expired"`
}

// PutOptions carries the optional Put parameters.
type PutOptions struct {
	// TTLHours overrides the scope default TTL. Zero means scope default.
	TTLHours int

	// Metadata is stored verbatim on the index row.
	Metadata map[string]any

	// ContentType tags the stored value ("text/plain", "application/json", ...).
	ContentType string
}

// ScopeStats summarizes one scope for Stats.
type ScopeStats struct {
	Scope        Scope   `json:"scope"`
	EntryCount   int     `json:"entry_count"`
	LiveBytes    int64   `json:"live_bytes"`
	QuotaBytes   int64   `json:"quota_bytes"`
	Utilization  float64 `json:"utilization"`
	ExpiredCount int     `json:"expired_count"`
}

// Seeder plants initial content (instruction bundles) into a freshly
// initialized store. Seeding is best-effort: failures are logged, not fatal.
type Seeder func(ctx context.Context, s *Store) error

// Config configures a Store.
type Config struct {
	FS     sandbox.FS
	Root   string // e.g. {workspace}/.kv-cache
	Scopes map[Scope]ScopeConfig

	// TTLOverrideHours mirrors KV_CACHE_TTL_OVERRIDE_HOURS: nil means no
	// override, <=0 disables TTL enforcement globally, >0 replaces the scope
	// default TTL on writes.
	TTLOverrideHours *int

	Logger *zap.Logger
	Seeder Seeder
}

// Store is the scope-partitioned artifact store. Initialization is lazy and
// idempotent: the first operation creates the root, every scope directory,
// and runs the seeder. Per-(scope,key) locks serialize writes to the same
// key; a per-scope lock additionally serializes the whole-index
// read-modify-rewrite so concurrent writes of distinct keys cannot drop
// each other's rows. Plain reads are not locked against writes.
type Store struct {
	fs          sandbox.FS
	root        string
	scopes      map[Scope]ScopeConfig
	ttlOverride *int
	logger      *zap.Logger
	seeder      Seeder

	mu          sync.Mutex
	keyLocks    map[string]*sync.Mutex
	scopeLocks  map[Scope]*sync.Mutex
	initialized bool
}

// New creates a Store. The filesystem is not touched until the first
// operation.
func New(cfg Config) (*Store, error) {
	if cfg.FS == nil {
		return nil, fmt.Errorf("kvstore: filesystem is required")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("kvstore: root is required")
	}
	scopes := cfg.Scopes
	if scopes == nil {
		scopes = DefaultScopeConfigs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scopeLocks := make(map[Scope]*sync.Mutex, len(AllScopes))
	for _, sc := range AllScopes {
		scopeLocks[sc] = &sync.Mutex{}
	}
	return &Store{
		fs:          cfg.FS,
		root:        strings.TrimRight(cfg.Root, "/"),
		scopes:      scopes,
		ttlOverride: cfg.TTLOverrideHours,
		logger:      logger,
		seeder:      cfg.Seeder,
		keyLocks:    make(map[string]*sync.Mutex),
		scopeLocks:  scopeLocks,
	}, nil
}

// Root returns the store root path.
func (s *Store) Root() string { return s.root }

// SanitizeKey maps every character outside [A-Za-z0-9._-] to '_'. The
// sanitized key is the filesystem name; the original is kept in the index.
func SanitizeKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Fingerprint returns the first 16 hex characters of SHA-256 over data.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:FingerprintHexLen]
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return ErrKeyTraversal
	}
	return nil
}

// serialize converts a value to bytes: strings as UTF-8, byte slices
// verbatim, everything else as canonical JSON.
func serialize(value any) ([]byte, string, error) {
	switch v := value.(type) {
	case nil:
		return nil, "", fmt.Errorf("kvstore: nil value")
	case []byte:
		return v, "application/octet-stream", nil
	case string:
		return []byte(v), "text/plain", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("kvstore: serialize value: %w", err)
		}
		return b, "application/json", nil
	}
}

func (s *Store) scopeDir(scope Scope) string {
	return s.root + "/" + string(scope)
}

func (s *Store) entryPath(scope Scope, sanitized string) string {
	return s.scopeDir(scope) + "/" + sanitized
}

func (s *Store) indexPath(scope Scope) string {
	return s.scopeDir(scope) + "/" + indexFileName
}

// ensureInit creates the root and scope directories and runs the seeder.
// Failure to create the artifacts scope is a hard error: offloading depends
// on it existing.
func (s *Store) ensureInit(ctx context.Context) error {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return nil
	}
	s.initialized = true
	seeder := s.seeder
	s.mu.Unlock()

	if err := s.fs.MakeDir(ctx, s.root, 0750); err != nil {
		s.markUninitialized()
		return fmt.Errorf("%w: create root: %v", ErrStore, err)
	}
	for _, scope := range AllScopes {
		if err := s.fs.MakeDir(ctx, s.scopeDir(scope), 0750); err != nil {
			s.markUninitialized()
			if scope == ScopeArtifacts {
				return fmt.Errorf("%w: create artifacts scope (critical): %v", ErrStore, err)
			}
			return fmt.Errorf("%w: create scope %s: %v", ErrStore, scope, err)
		}
	}
	if seeder != nil {
		if err := seeder(ctx, s); err != nil {
			s.logger.Warn("kvstore: instruction seeding failed",
				zap.Error(err))
		}
	}
	return nil
}

func (s *Store) markUninitialized() {
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
}

func (s *Store) lockFor(scope Scope, sanitized string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk := string(scope) + "/" + sanitized
	m, ok := s.keyLocks[lk]
	if !ok {
		m = &sync.Mutex{}
		s.keyLocks[lk] = m
	}
	return m
}

// scopeLock guards the load-index/mutate/write-index sequence for one scope.
// Lock ordering: per-key lock (when taken) always precedes the scope lock.
func (s *Store) scopeLock(scope Scope) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scopeLocks[scope]
	if !ok {
		m = &sync.Mutex{}
		s.scopeLocks[scope] = m
	}
	return m
}

// ttlEnforced reports whether expiry applies at all.
func (s *Store) ttlEnforced() bool {
	return s.ttlOverride == nil || *s.ttlOverride > 0
}

func (s *Store) effectiveTTLHours(scope Scope, requested int) int {
	if s.ttlOverride != nil && *s.ttlOverride > 0 {
		return *s.ttlOverride
	}
	if requested > 0 {
		return requested
	}
	return s.scopes[scope].DefaultTTLHours
}

func (s *Store) loadIndex(ctx context.Context, scope Scope) (map[string]*Entry, error) {
	data, err := s.fs.DownloadFile(ctx, s.indexPath(scope))
	if err != nil {
		// A missing index means an empty scope.
		return map[string]*Entry{}, nil
	}
	idx := map[string]*Entry{}
	if err := json.Unmarshal(data, &idx); err != nil {
		s.logger.Warn("kvstore: corrupt scope index, starting empty",
			zap.String("scope", string(scope)), zap.Error(err))
		return map[string]*Entry{}, nil
	}
	return idx, nil
}

func (s *Store) writeIndex(ctx context.Context, scope Scope, idx map[string]*Entry) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal index: %v", ErrStore, err)
	}
	if err := s.fs.UploadFile(ctx, data, s.indexPath(scope)); err != nil {
		return fmt.Errorf("%w: write index: %v", ErrStore, err)
	}
	return nil
}

func (s *Store) isExpired(e *Entry, now time.Time) bool {
	if !s.ttlEnforced() || e.ExpiresAt == nil {
		return false
	}
	return e.ExpiresAt.Before(now)
}

// Put serializes and stores a value, returning the file path. The quota
// check runs before any file is written: a refused write leaves the store
// byte-identical.
func (s *Store) Put(ctx context.Context, scope Scope, key string, value any, opts PutOptions) (string, error) {
	if !ValidScope(scope) {
		return "", fmt.Errorf("%w: %q", ErrBadScope, scope)
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	if err := s.ensureInit(ctx); err != nil {
		return "", err
	}

	data, detectedType, err := serialize(value)
	if err != nil {
		return "", err
	}
	if int64(len(data)) > MaxValueBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(data))
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = detectedType
	}

	sanitized := SanitizeKey(key)
	lock := s.lockFor(scope, sanitized)
	lock.Lock()
	defer lock.Unlock()
	scLock := s.scopeLock(scope)
	scLock.Lock()
	defer scLock.Unlock()

	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return "", err
	}

	// Quota accounting counts live entries only; an overwrite releases the
	// old entry's bytes.
	now := time.Now().UTC()
	var live int64
	for k, e := range idx {
		if k == sanitized || s.isExpired(e, now) {
			continue
		}
		live += e.SizeBytes
	}
	quota := s.scopes[scope].Quota()
	if live+int64(len(data)) > quota {
		return "", &QuotaError{Scope: scope, Current: live, Requested: int64(len(data)), Quota: quota}
	}

	path := s.entryPath(scope, sanitized)
	if err := s.fs.UploadFile(ctx, data, path); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrStore, path, err)
	}

	ttlHours := s.effectiveTTLHours(scope, opts.TTLHours)
	entry := &Entry{
		OriginalKey: key,
		Path:        path,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Fingerprint: Fingerprint(data),
		CreatedAt:   now,
		TTLHours:    ttlHours,
		Metadata:    opts.Metadata,
	}
	if ttlHours > 0 {
		exp := now.Add(time.Duration(ttlHours) * time.Hour)
		entry.ExpiresAt = &exp
	}
	idx[sanitized] = entry

	if err := s.writeIndex(ctx, scope, idx); err != nil {
		// The file is on disk; the orphaned index state is tolerated until
		// the next prune.
		s.logger.Warn("kvstore: index write failed after file write",
			zap.String("scope", string(scope)),
			zap.String("key", sanitized),
			zap.Error(err))
	}
	return path, nil
}

// Get retrieves and deserializes a value. An expired entry is deleted and
// reported as ErrExpired. A fingerprint mismatch is logged but the read
// proceeds with the file's actual bytes.
func (s *Store) Get(ctx context.Context, scope Scope, key string, as ValueType) (any, error) {
	if !ValidScope(scope) {
		return nil, fmt.Errorf("%w: %q", ErrBadScope, scope)
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}

	sanitized := SanitizeKey(key)
	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return nil, err
	}
	entry, ok := idx[sanitized]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, sanitized)
	}

	now := time.Now().UTC()
	if s.isExpired(entry, now) {
		if err := s.deleteEntry(ctx, scope, sanitized); err != nil {
			s.logger.Warn("kvstore: failed to delete expired entry",
				zap.String("scope", string(scope)),
				zap.String("key", sanitized),
				zap.Error(err))
		}
		return nil, fmt.Errorf("%w: %s/%s", ErrExpired, scope, sanitized)
	}

	data, err := s.fs.DownloadFile(ctx, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrStore, entry.Path, err)
	}

	if fp := Fingerprint(data); fp != entry.Fingerprint {
		s.logger.Warn("kvstore: fingerprint mismatch, returning file bytes",
			zap.String("scope", string(scope)),
			zap.String("key", sanitized),
			zap.String("expected", entry.Fingerprint),
			zap.String("actual", fp))
	}

	return deserialize(data, entry.ContentType, as)
}

func deserialize(data []byte, contentType string, as ValueType) (any, error) {
	switch as {
	case AsBytes:
		return data, nil
	case AsString:
		return string(data), nil
	case AsDict:
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("kvstore: value is not a JSON object: %w", err)
		}
		return m, nil
	case AsAuto, "":
		if contentType == "application/json" {
			var m map[string]any
			if err := json.Unmarshal(data, &m); err == nil {
				return m, nil
			}
		}
		if utf8.Valid(data) {
			return string(data), nil
		}
		return data, nil
	default:
		return nil, fmt.Errorf("kvstore: unknown value type %q", as)
	}
}

// GetString retrieves a value as a string.
func (s *Store) GetString(ctx context.Context, scope Scope, key string) (string, error) {
	v, err := s.Get(ctx, scope, key, AsString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetMetadata returns the index row with computed fields.
func (s *Store) GetMetadata(ctx context.Context, scope Scope, key string) (*EntryInfo, error) {
	if !ValidScope(scope) {
		return nil, fmt.Errorf("%w: %q", ErrBadScope, scope)
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	sanitized := SanitizeKey(key)
	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return nil, err
	}
	entry, ok := idx[sanitized]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, scope, sanitized)
	}
	return &EntryInfo{
		Entry:     *entry,
		Scope:     scope,
		Key:       sanitized,
		IsExpired: s.isExpired(entry, time.Now().UTC()),
	}, nil
}

// Delete removes an entry and its file. Returns false when the key was not
// present.
func (s *Store) Delete(ctx context.Context, scope Scope, key string) (bool, error) {
	if !ValidScope(scope) {
		return false, fmt.Errorf("%w: %q", ErrBadScope, scope)
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	if err := s.ensureInit(ctx); err != nil {
		return false, err
	}
	sanitized := SanitizeKey(key)
	lock := s.lockFor(scope, sanitized)
	lock.Lock()
	defer lock.Unlock()
	scLock := s.scopeLock(scope)
	scLock.Lock()
	defer scLock.Unlock()

	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return false, err
	}
	if _, ok := idx[sanitized]; !ok {
		return false, nil
	}
	if err := s.deleteEntryLocked(ctx, scope, sanitized); err != nil {
		return false, err
	}
	return true, nil
}

// deleteEntry removes the file and rewrites the index without the row,
// taking the per-key and per-scope locks itself.
func (s *Store) deleteEntry(ctx context.Context, scope Scope, sanitized string) error {
	lock := s.lockFor(scope, sanitized)
	lock.Lock()
	defer lock.Unlock()
	scLock := s.scopeLock(scope)
	scLock.Lock()
	defer scLock.Unlock()
	return s.deleteEntryLocked(ctx, scope, sanitized)
}

// deleteEntryLocked requires the per-key and per-scope locks to be held.
func (s *Store) deleteEntryLocked(ctx context.Context, scope Scope, sanitized string) error {
	if err := s.fs.DeleteFile(ctx, s.entryPath(scope, sanitized)); err != nil {
		return fmt.Errorf("%w: delete file: %v", ErrStore, err)
	}
	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return err
	}
	delete(idx, sanitized)
	return s.writeIndex(ctx, scope, idx)
}

// ListKeys returns metadata for entries across one scope (or all scopes when
// scope is empty), newest first. pattern, when non-empty, is a regular
// expression applied to the original (unsanitized) key.
func (s *Store) ListKeys(ctx context.Context, scope Scope, pattern string, includeExpired bool) ([]EntryInfo, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("kvstore: bad pattern: %w", err)
		}
	}

	scopes := AllScopes
	if scope != "" {
		if !ValidScope(scope) {
			return nil, fmt.Errorf("%w: %q", ErrBadScope, scope)
		}
		scopes = []Scope{scope}
	}

	now := time.Now().UTC()
	var out []EntryInfo
	for _, sc := range scopes {
		idx, err := s.loadIndex(ctx, sc)
		if err != nil {
			return nil, err
		}
		for sanitized, entry := range idx {
			if re != nil && !re.MatchString(entry.OriginalKey) {
				continue
			}
			expired := s.isExpired(entry, now)
			if expired && !includeExpired {
				continue
			}
			out = append(out, EntryInfo{
				Entry:     *entry,
				Scope:     sc,
				Key:       sanitized,
				IsExpired: expired,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// PruneExpired deletes expired entries and stranded files (files with no
// index row), returning per-scope deletion counts.
func (s *Store) PruneExpired(ctx context.Context, scope Scope) (map[Scope]int, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	scopes := AllScopes
	if scope != "" {
		if !ValidScope(scope) {
			return nil, fmt.Errorf("%w: %q", ErrBadScope, scope)
		}
		scopes = []Scope{scope}
	}

	now := time.Now().UTC()
	counts := make(map[Scope]int)
	for _, sc := range scopes {
		n, err := s.pruneScope(ctx, sc, now)
		if err != nil {
			return nil, err
		}
		counts[sc] = n
	}
	return counts, nil
}

func (s *Store) pruneScope(ctx context.Context, sc Scope, now time.Time) (int, error) {
	scLock := s.scopeLock(sc)
	scLock.Lock()
	defer scLock.Unlock()

	idx, err := s.loadIndex(ctx, sc)
	if err != nil {
		return 0, err
	}
	n := 0
	for sanitized, entry := range idx {
		if !s.isExpired(entry, now) {
			continue
		}
		if err := s.fs.DeleteFile(ctx, s.entryPath(sc, sanitized)); err != nil {
			s.logger.Warn("kvstore: prune delete failed",
				zap.String("scope", string(sc)),
				zap.String("key", sanitized),
				zap.Error(err))
			continue
		}
		delete(idx, sanitized)
		n++
	}
	// Stranded files: present on disk, absent from the index.
	if files, err := s.fs.ListFiles(ctx, s.scopeDir(sc)); err == nil {
		for _, f := range files {
			if f.IsDir || f.Name == indexFileName {
				continue
			}
			if _, ok := idx[f.Name]; ok {
				continue
			}
			if err := s.fs.DeleteFile(ctx, s.scopeDir(sc)+"/"+f.Name); err == nil {
				n++
			}
		}
	}
	if err := s.writeIndex(ctx, sc, idx); err != nil {
		return 0, err
	}
	return n, nil
}

// Stats reports per-scope totals and quota utilization.
func (s *Store) Stats(ctx context.Context, scope Scope) (map[Scope]ScopeStats, error) {
	if err := s.ensureInit(ctx); err != nil {
		return nil, err
	}
	scopes := AllScopes
	if scope != "" {
		if !ValidScope(scope) {
			return nil, fmt.Errorf("%w: %q", ErrBadScope, scope)
		}
		scopes = []Scope{scope}
	}
	now := time.Now().UTC()
	out := make(map[Scope]ScopeStats)
	for _, sc := range scopes {
		idx, err := s.loadIndex(ctx, sc)
		if err != nil {
			return nil, err
		}
		st := ScopeStats{Scope: sc, QuotaBytes: s.scopes[sc].Quota()}
		for _, entry := range idx {
			if s.isExpired(entry, now) {
				st.ExpiredCount++
				continue
			}
			st.EntryCount++
			st.LiveBytes += entry.SizeBytes
		}
		if st.QuotaBytes > 0 {
			st.Utilization = float64(st.LiveBytes) / float64(st.QuotaBytes)
		}
		out[sc] = st
	}
	return out, nil
}

// ClearScope deletes every entry in a scope, returning the count removed.
func (s *Store) ClearScope(ctx context.Context, scope Scope) (int, error) {
	if !ValidScope(scope) {
		return 0, fmt.Errorf("%w: %q", ErrBadScope, scope)
	}
	if err := s.ensureInit(ctx); err != nil {
		return 0, err
	}
	scLock := s.scopeLock(scope)
	scLock.Lock()
	defer scLock.Unlock()
	idx, err := s.loadIndex(ctx, scope)
	if err != nil {
		return 0, err
	}
	n := 0
	for sanitized := range idx {
		if err := s.fs.DeleteFile(ctx, s.entryPath(scope, sanitized)); err != nil {
			s.logger.Warn("kvstore: clear delete failed",
				zap.String("scope", string(scope)),
				zap.String("key", sanitized),
				zap.Error(err))
			continue
		}
		delete(idx, sanitized)
		n++
	}
	if err := s.writeIndex(ctx, scope, idx); err != nil {
		return n, err
	}
	return n, nil
}
