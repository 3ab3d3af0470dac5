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
	"errors"
	"fmt"
)

// Input validation errors. Never retried; surfaced to the caller as-is.
var (
	// ErrEmptyKey is returned when a key is empty.
	ErrEmptyKey = errors.New("kvstore: key is empty")

	// ErrKeyTooLong is returned when a key exceeds 255 characters.
	ErrKeyTooLong = errors.New("kvstore: key exceeds 255 characters")

	// ErrKeyTraversal is returned when a key contains path-traversal
	// components ("..", leading "/").
	ErrKeyTraversal = errors.New("kvstore: key contains path traversal")

	// ErrValueTooLarge is returned when a serialized value exceeds 50 MB.
	ErrValueTooLarge = errors.New("kvstore: value exceeds 50MB")

	// ErrBadScope is returned for an unknown scope.
	ErrBadScope = errors.New("kvstore: unknown scope")

	// ErrNotFound is returned when a key has no live index entry.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrExpired is returned when an entry's TTL has elapsed. The entry is
	// deleted as a side effect of the read that observed it.
	ErrExpired = errors.New("kvstore: entry expired")

	// ErrStore wraps filesystem failures underneath store operations.
	ErrStore = errors.New("kvstore: storage failure")
)

// QuotaError reports a write refused because it would push a scope past its
// quota. The refused write leaves the store byte-identical.
type QuotaError struct {
	Scope     Scope
	Current   int64
	Requested int64
	Quota     int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("kvstore: scope %s quota exceeded: current=%d requested=%d quota=%d",
		e.Scope, e.Current, e.Requested, e.Quota)
}

// IsQuotaError reports whether err is a quota refusal.
func IsQuotaError(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}
