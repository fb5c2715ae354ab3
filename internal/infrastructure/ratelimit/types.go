// types.go: Core types, enums, and store interfaces for throttling
package ratelimit

import (
	"context"
	"time"
)

// FailMode decides what a check returns when the counter backend is unreachable.
type FailMode string

const (
	// FailOpen allows the request when the backend fails.
	FailOpen FailMode = "open"
	// FailClosed denies the request when the backend fails.
	FailClosed FailMode = "closed"
)

// orDefault resolves the zero value to FailOpen.
func (m FailMode) orDefault() FailMode {
	if m == FailClosed {
		return FailClosed
	}
	return FailOpen
}

// Category is the coarse usage bucket a request belongs to.
type Category string

const (
	CategoryAI       Category = "ai"
	CategoryUploads  Category = "uploads"
	CategoryWrites   Category = "writes"
	CategoryRequests Category = "requests"
)

// Categories lists every category in evaluation order.
var Categories = []Category{CategoryAI, CategoryUploads, CategoryWrites, CategoryRequests}

// Request is a single fixed-window check, constructed per call.
type Request struct {
	Key           string   `json:"key"`
	Limit         int      `json:"limit"`
	WindowSeconds int      `json:"windowSeconds"`
	FailMode      FailMode `json:"failMode,omitempty"`
}

func (r Request) window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Result is the outcome of a check. The abuse fields are only set by
// CheckWithAbuse when an abuse store is configured.
type Result struct {
	Allowed     bool   `json:"allowed"`
	Remaining   int    `json:"remaining"`
	ResetAt     int64  `json:"resetAt"`
	Limit       int    `json:"limit"`
	Warning     *bool  `json:"warning,omitempty"`
	Banned      *bool  `json:"banned,omitempty"`
	BannedUntil *int64 `json:"bannedUntil,omitempty"`
}

// IsBanned reports whether the result carries an active ban.
func (r Result) IsBanned() bool {
	return r.Banned != nil && *r.Banned
}

// IsWarning reports whether the result carries an abuse warning.
func (r Result) IsWarning() bool {
	return r.Warning != nil && *r.Warning
}

// AbuseState is the persisted violation history of one identity.
type AbuseState struct {
	Violations      int    `json:"violations"`
	LastViolationAt int64  `json:"lastViolationAt"`
	BannedUntil     *int64 `json:"bannedUntil"`
}

// CounterStore performs one read-increment-compare against a fixed window.
// A check whose current count already meets limit is denied and not counted.
// Backend failures are returned as errors wrapping ErrBackendUnavailable.
type CounterStore interface {
	Check(ctx context.Context, key string, limit, windowSeconds int) (Result, error)
}

// AbuseStore persists AbuseState records keyed by identity. Get reports
// found=false for identities that were never recorded.
type AbuseStore interface {
	Get(ctx context.Context, identity string) (state AbuseState, found bool, err error)
	Put(ctx context.Context, identity string, state AbuseState) error
	Delete(ctx context.Context, identity string) error
}

// Clock returns the current time. Stores and the engine take one so tests
// can move time without sleeping.
type Clock func() time.Time

func boolPtr(v bool) *bool { return &v }

func int64Ptr(v int64) *int64 { return &v }
