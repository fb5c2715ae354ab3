package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

func TestHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	allowed := Headers(ratelimit.Result{Allowed: true, Remaining: 4, Limit: 5, ResetAt: now.Unix() + 300}, now)
	assert.Equal(t, map[string]string{
		HeaderLimit:     "5",
		HeaderRemaining: "4",
		HeaderReset:     "1700000300",
	}, allowed)

	denied := Headers(ratelimit.Result{Allowed: false, Remaining: 0, Limit: 5, ResetAt: now.Unix() + 42}, now)
	assert.Equal(t, "42", denied[HeaderRetryAfter])
	assert.Equal(t, "0", denied[HeaderRemaining])
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	assert.Equal(t, int64(30), RetryAfter(ratelimit.Result{ResetAt: now.Unix() + 30}, now))
	assert.Equal(t, int64(1), RetryAfter(ratelimit.Result{ResetAt: now.Unix()}, now))
	assert.Equal(t, int64(1), RetryAfter(ratelimit.Result{ResetAt: now.Unix() - 10}, now))

	banned, until := true, now.Unix()+86400
	res := ratelimit.Result{ResetAt: now.Unix() + 30, Banned: &banned, BannedUntil: &until}
	assert.Equal(t, int64(86400), RetryAfter(res, now))
}

func TestExceededBody(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	body := ExceededBody(ratelimit.Result{ResetAt: now.Unix() + 10}, now)
	assert.Equal(t, "rate_limited", body.Error)
	assert.Equal(t, int64(10), body.RetryAfter)
	assert.Nil(t, body.BannedUntil)

	banned, until := true, now.Unix()+500
	body = ExceededBody(ratelimit.Result{ResetAt: until, Banned: &banned, BannedUntil: &until}, now)
	assert.Equal(t, "banned", body.Error)
	assert.Equal(t, int64(500), body.RetryAfter)
	assert.Equal(t, &until, body.BannedUntil)
}
