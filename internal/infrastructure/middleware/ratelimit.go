package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Aidin1998/threshold/internal/infrastructure/ratelimit"
)

// UserIDKey is the gin context key an upstream auth layer sets for
// authenticated requests. Endpoint limits key on it before the client IP.
const UserIDKey = "user_id"

// IdentifierFunc resolves the throttling identifier of a request.
type IdentifierFunc func(c *gin.Context) string

// TenantResolver returns the tenant and its tier. ok=false skips the check.
type TenantResolver func(c *gin.Context) (tenantID, tier string, ok bool)

// TargetFunc returns the method and path a request is throttled as.
type TargetFunc func(c *gin.Context) (method, path string)

// Headers a reverse proxy sets on forward-auth subrequests.
const (
	HeaderForwardedMethod = "X-Forwarded-Method"
	HeaderForwardedURI    = "X-Forwarded-Uri"
	HeaderOriginalURI     = "X-Original-URI"
	HeaderTenantID        = "X-Tenant-ID"
	HeaderTenantTier      = "X-Tenant-Tier"
)

// Options configure Throttle.
type Options struct {
	Logger *zap.Logger
	// Trusted clients bypass throttling.
	Trusted *TrustedNetworks
	// Proxies are the peers whose forwarding headers name the client.
	Proxies    *TrustedNetworks
	Identifier IdentifierFunc
	Target     TargetFunc
	// AbuseAware routes endpoint checks through CheckWithAbuse.
	AbuseAware bool
	Clock      ratelimit.Clock
}

// Throttle adapts an Engine to gin handlers.
type Throttle struct {
	engine     *ratelimit.Engine
	logger     *zap.Logger
	trusted    *TrustedNetworks
	proxies    *TrustedNetworks
	identifier IdentifierFunc
	target     TargetFunc
	abuseAware bool
	now        ratelimit.Clock
}

// NewThrottle creates the gin adapter for engine.
func NewThrottle(engine *ratelimit.Engine, opts Options) *Throttle {
	t := &Throttle{
		engine:     engine,
		logger:     opts.Logger,
		trusted:    opts.Trusted,
		proxies:    opts.Proxies,
		identifier: opts.Identifier,
		target:     opts.Target,
		abuseAware: opts.AbuseAware,
		now:        opts.Clock,
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.identifier == nil {
		t.identifier = DefaultIdentifier(t.proxies)
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.target == nil {
		t.target = RequestTarget
	}
	return t
}

// RequestTarget throttles a request as itself.
func RequestTarget(c *gin.Context) (string, string) {
	return c.Request.Method, c.Request.URL.Path
}

// ForwardedTarget throttles a forward-auth subrequest as the original request
// described by the proxy headers, falling back to the subrequest itself.
func ForwardedTarget(c *gin.Context) (string, string) {
	method, path := RequestTarget(c)
	if m := c.GetHeader(HeaderForwardedMethod); m != "" {
		method = m
	}
	if uri := c.GetHeader(HeaderForwardedURI); uri != "" {
		path = uri
	} else if uri := c.GetHeader(HeaderOriginalURI); uri != "" {
		path = uri
	}
	return method, path
}

// HeaderTenant resolves the tenant from X-Tenant-ID and X-Tenant-Tier.
func HeaderTenant(c *gin.Context) (string, string, bool) {
	id, tier := c.GetHeader(HeaderTenantID), c.GetHeader(HeaderTenantTier)
	if id == "" || tier == "" {
		return "", "", false
	}
	return id, tier, true
}

// DefaultIdentifier uses the authenticated user id, falling back to the
// client IP as resolved through proxies.
func DefaultIdentifier(proxies *TrustedNetworks) IdentifierFunc {
	return func(c *gin.Context) string {
		if v, ok := c.Get(UserIDKey); ok {
			if id, ok := v.(string); ok && id != "" {
				return "user:" + id
			}
		}
		return ClientIP(c.Request, proxies)
	}
}

func (t *Throttle) bypass(c *gin.Context) bool {
	return t.trusted.Contains(ClientIP(c.Request, t.proxies))
}

// Endpoint limits requests by the endpoint preset matching method and path.
func (t *Throttle) Endpoint() gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.bypass(c) {
			c.Next()
			return
		}
		id := t.identifier(c)
		method, path := t.target(c)

		var (
			res ratelimit.Result
			err error
		)
		if t.abuseAware {
			preset := t.engine.Tables().MatchEndpoint(method, path)
			res, err = t.engine.CheckWithAbuse(c.Request.Context(), ratelimit.Request{
				Key:           ratelimit.EndpointKey(preset.ID, id),
				Limit:         preset.Limit,
				WindowSeconds: preset.WindowSeconds,
				FailMode:      preset.FailMode,
			}, id)
		} else {
			res, err = t.engine.CheckEndpoint(c.Request.Context(), method, path, id, nil)
		}
		t.respond(c, res, err)
	}
}

// Tenant limits requests by the tenant's tier for the request category.
func (t *Throttle) Tenant(resolve TenantResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.bypass(c) {
			c.Next()
			return
		}
		tenantID, tier, ok := resolve(c)
		if !ok {
			c.Next()
			return
		}
		method, path := t.target(c)
		category := ratelimit.CategorizeRequest(method, path)
		if _, known := t.engine.Tables().Tier(tier, category); !known {
			t.logger.Error("tenant resolved to an unconfigured tier",
				zap.String("tenant", tenantID), zap.String("tier", tier), zap.String("category", string(category)))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate_limit_misconfigured"})
			return
		}
		res, err := t.engine.CheckTenant(c.Request.Context(), tenantID, tier, method, path)
		t.respond(c, res, err)
	}
}

func (t *Throttle) respond(c *gin.Context, res ratelimit.Result, err error) {
	if err != nil {
		t.logger.Error("rate limit check rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rate_limit_misconfigured"})
		return
	}

	now := t.now()
	for k, v := range Headers(res, now) {
		c.Header(k, v)
	}
	if !res.Allowed {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, ExceededBody(res, now))
		return
	}
	c.Next()
}
