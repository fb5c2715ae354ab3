package middleware

import (
	"strconv"
	"time"

	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// LimitExceeded is the 429 response body.
type LimitExceeded struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	RetryAfter  int64  `json:"retryAfter"`
	ResetAt     int64  `json:"resetAt"`
	BannedUntil *int64 `json:"bannedUntil,omitempty"`
}

// RetryAfter is the number of seconds until res stops denying, at least 1.
// A ban counts to its end, not to the end of the window.
func RetryAfter(res ratelimit.Result, now time.Time) int64 {
	until := res.ResetAt
	if res.IsBanned() && res.BannedUntil != nil {
		until = *res.BannedUntil
	}
	secs := until - now.Unix()
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Headers renders res as rate limit headers. Retry-After is only present on
// denials.
func Headers(res ratelimit.Result, now time.Time) map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(res.Limit),
		HeaderRemaining: strconv.Itoa(res.Remaining),
		HeaderReset:     strconv.FormatInt(res.ResetAt, 10),
	}
	if !res.Allowed {
		h[HeaderRetryAfter] = strconv.FormatInt(RetryAfter(res, now), 10)
	}
	return h
}

// ExceededBody builds the 429 body for a denied result.
func ExceededBody(res ratelimit.Result, now time.Time) LimitExceeded {
	body := LimitExceeded{
		Error:      "rate_limited",
		Message:    "Too many requests. Please try again later.",
		RetryAfter: RetryAfter(res, now),
		ResetAt:    res.ResetAt,
	}
	if res.IsBanned() {
		body.Error = "banned"
		body.Message = "Access temporarily suspended due to repeated limit violations."
		body.BannedUntil = res.BannedUntil
	}
	return body
}
