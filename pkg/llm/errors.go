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

// Package llm carries the provider-agnostic transport helpers: error
// classification, exponential-backoff retry, and the advisory rolling
// token-usage tracker.
package llm

import "strings"

// ErrorClass partitions provider errors by how the orchestrator should
// react.
type ErrorClass int

const (
	// ClassRetryable errors are transient transport failures worth a
	// backoff retry.
	ClassRetryable ErrorClass = iota

	// ClassRateLimit errors are counted separately and may trigger model
	// fallback when retries are exhausted.
	ClassRateLimit

	// ClassBenign errors are user- or account-level conditions; they are
	// surfaced as-is and never trigger fallback.
	ClassBenign
)

// benignMarkers identify control errors that must not trigger fallback.
// Per-attempt HTTP client timeouts report "context deadline exceeded" in
// their text but are transient transport failures: they stay retryable.
// Outer-context cancellation is caught by the ctx.Err() checks in the
// retry loop, not by message matching.
var benignMarkers = []string{
	"not found",
	"cancelled",
	"canceled",
	"stopped by user",
	"billing",
	"credit balance",
	"invalid api key",
	"authentication",
	"unauthorized",
	"permission denied",
}

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
	"overloaded",
}

// Classify buckets a provider error by message content. Providers report
// errors as opaque strings, so substring matching is the only portable
// signal.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassBenign
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range benignMarkers {
		if strings.Contains(msg, marker) {
			return ClassBenign
		}
	}
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ClassRateLimit
		}
	}
	return ClassRetryable
}

// IsBenign reports whether err is a control error that must surface
// unchanged.
func IsBenign(err error) bool { return err != nil && Classify(err) == ClassBenign }

// IsRateLimit reports whether err is a provider throttle.
func IsRateLimit(err error) bool { return err != nil && Classify(err) == ClassRateLimit }
