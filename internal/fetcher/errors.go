// SPDX-License-Identifier: AGPL-3.0-only
package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrInvalidToken means the access token was rejected. No source can be read
// until the user provides a new one.
var ErrInvalidToken = errors.New("access token is invalid or expired")

type RestrictionKind string

const (
	RestrictedPermission  RestrictionKind = "permission"
	RestrictedRateLimit   RestrictionKind = "rate_limit"
	RestrictedUnavailable RestrictionKind = "unavailable"
)

// Restriction describes why a source could not be read.
type Restriction struct {
	Kind   RestrictionKind
	Reason string
	Code   int
}

// Retryable reports whether the same request may succeed later.
func (r *Restriction) Retryable() bool {
	return r.Kind == RestrictedRateLimit
}

// TransportError wraps failures of the request itself: network errors,
// server errors without an API error body and undecodable responses.
type TransportError struct {
	SourceID string
	Status   int
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source %s: transport error (status %d): %v", e.SourceID, e.Status, e.Err)
	}
	return fmt.Sprintf("source %s: transport error: %v", e.SourceID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true}

// classifyAPIError maps a Graph API error body to a restriction, or to
// ErrInvalidToken for code 190.
func classifyAPIError(status int, body *graphErrorBody) (*Restriction, error) {
	e := body.Error
	msg := strings.TrimSpace(e.Message)
	lower := strings.ToLower(msg)

	switch {
	case e.Code == 190:
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, msg)
	case rateLimitCodes[e.Code] || status == http.StatusTooManyRequests:
		return &Restriction{Kind: RestrictedRateLimit, Reason: msg, Code: e.Code}, nil
	case e.Code == 10 || (e.Code >= 200 && e.Code <= 299),
		strings.Contains(lower, "permission"),
		strings.Contains(lower, "private"):
		return &Restriction{Kind: RestrictedPermission, Reason: msg, Code: e.Code}, nil
	default:
		return &Restriction{Kind: RestrictedUnavailable, Reason: msg, Code: e.Code}, nil
	}
}
