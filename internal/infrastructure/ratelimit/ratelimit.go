// ratelimit.go: Engine composing tables, categorizer and stores into the check operations
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Engine is the throttling entry point used by HTTP middleware. It is safe
// for concurrent use; all mutable state lives in the stores.
type Engine struct {
	counter    CounterStore
	abuseStore AbuseStore
	abuse      *AbuseTracker
	notifier   AbuseNotifier
	tables     *Tables
	logger     *zap.Logger
	now        Clock
	namespace  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithAbuseStore enables abuse escalation for CheckWithAbuse.
func WithAbuseStore(store AbuseStore) Option {
	return func(e *Engine) { e.abuseStore = store }
}

// WithNotifier publishes abuse events after each recorded violation.
func WithNotifier(n AbuseNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithTables replaces the built-in tier and endpoint tables.
func WithTables(t *Tables) Option {
	return func(e *Engine) {
		if t != nil {
			e.tables = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.now = c
		}
	}
}

// WithNamespace prefixes every counter key with "{ns}:" so several
// deployments can share one backend.
func WithNamespace(ns string) Option {
	return func(e *Engine) { e.namespace = strings.TrimSuffix(ns, ":") }
}

// NewEngine creates an engine over counter.
func NewEngine(counter CounterStore, opts ...Option) *Engine {
	e := &Engine{
		counter: counter,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tables == nil {
		e.tables = DefaultTables()
	}
	if e.abuseStore != nil {
		e.abuse = NewAbuseTracker(AbuseTrackerConfig{
			Store:    e.abuseStore,
			Logger:   e.logger.Named("abuse"),
			Clock:    e.now,
			Notifier: e.notifier,
		})
	}
	return e
}

// TierKey is the counter key for a tier check.
func TierKey(tier string, category Category, identifier string) string {
	return fmt.Sprintf("tier:%s:%s:%s", tier, category, identifier)
}

// EndpointKey is the counter key for an endpoint check.
func EndpointKey(routeID, identifier string) string {
	return fmt.Sprintf("ep:%s:%s", routeID, identifier)
}

// TenantIdentifier is the identifier used for tenant-wide tier checks.
func TenantIdentifier(tenantID string) string {
	return "tenant:" + tenantID
}

// Abuse returns the tracker, or nil when no abuse store is configured.
func (e *Engine) Abuse() *AbuseTracker { return e.abuse }

// Tables returns the limit tables in use.
func (e *Engine) Tables() *Tables { return e.tables }

// EndpointLimitByID returns the preset with the given route id.
func (e *Engine) EndpointLimitByID(id string) (EndpointPreset, bool) {
	return e.tables.EndpointByID(id)
}

// Check runs req against the counter store as is. The only error is
// ErrInvalidRequest; backend failures resolve through req.FailMode.
func (e *Engine) Check(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	ctx, done := observeCheck(ctx, "check", req.Key)
	res, _ := e.check(ctx, req)
	done(res)
	return res, nil
}

// CheckTier checks identifier against the (tier, category) limit. Tier names
// are case-insensitive. A pair missing from the tier table is a programming
// error and panics; a pair with a zero limit is always denied.
func (e *Engine) CheckTier(ctx context.Context, tier string, category Category, identifier string) (Result, error) {
	return e.checkTier(ctx, "tier", e.tierRequest(tier, category, identifier)), nil
}

// CheckEndpoint checks identifier against the preset matching (method, path).
// Non-nil override fields replace the preset's limit or window; the fail
// mode always comes from the preset.
func (e *Engine) CheckEndpoint(ctx context.Context, method, path, identifier string, override *EndpointOverride) (Result, error) {
	return e.checkPreset(ctx, e.tables.MatchEndpoint(method, path), identifier, override)
}

// CheckRoute is CheckEndpoint for a preset selected by route id instead of
// by method and path. Unknown ids use the default preset.
func (e *Engine) CheckRoute(ctx context.Context, routeID, identifier string, override *EndpointOverride) (Result, error) {
	preset, ok := e.tables.EndpointByID(routeID)
	if !ok {
		preset, _ = e.tables.EndpointByID(DefaultRouteID)
	}
	return e.checkPreset(ctx, preset, identifier, override)
}

func (e *Engine) checkPreset(ctx context.Context, preset EndpointPreset, identifier string, override *EndpointOverride) (Result, error) {
	req := Request{
		Key:           EndpointKey(preset.ID, identifier),
		Limit:         preset.Limit,
		WindowSeconds: preset.WindowSeconds,
		FailMode:      preset.FailMode,
	}
	if override != nil {
		if override.Limit != nil {
			req.Limit = *override.Limit
		}
		if override.WindowSeconds != nil {
			req.WindowSeconds = *override.WindowSeconds
		}
	}
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	ctx, done := observeCheck(ctx, "endpoint", req.Key)
	res, _ := e.check(ctx, req)
	done(res)
	return res, nil
}

// CheckTenant categorizes the request and checks the tenant as a whole
// against its tier.
func (e *Engine) CheckTenant(ctx context.Context, tenantID, tier, method, path string) (Result, error) {
	req := e.tierRequest(tier, CategorizeRequest(method, path), TenantIdentifier(tenantID))
	return e.checkTier(ctx, "tenant", req), nil
}

func (e *Engine) checkTier(ctx context.Context, kind string, req Request) Result {
	ctx, done := observeCheck(ctx, kind, req.Key)
	var res Result
	if req.Limit == 0 {
		res = Result{Allowed: false, Remaining: 0, ResetAt: e.now().Add(req.window()).Unix(), Limit: 0}
	} else {
		res, _ = e.check(ctx, req)
	}
	done(res)
	return res
}

// CheckWithAbuse is Check plus abuse escalation for identity. A banned
// identity is denied without consulting the counter store. A denial records
// a violation and carries its warning and ban fields. Without an abuse store
// it behaves exactly like Check.
func (e *Engine) CheckWithAbuse(ctx context.Context, req Request, identity string) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}
	ctx, done := observeCheck(ctx, "abuse", req.Key)

	if e.abuse == nil {
		res, _ := e.check(ctx, req)
		done(res)
		return res, nil
	}

	state := e.abuse.GetAbuseState(ctx, identity)
	if e.abuse.IsBanned(state) {
		abuseShortCircuits.Inc()
		until := *state.BannedUntil
		res := Result{
			Allowed:     false,
			Remaining:   0,
			ResetAt:     until,
			Limit:       req.Limit,
			Banned:      boolPtr(true),
			BannedUntil: int64Ptr(until),
		}
		e.logger.Debug("banned identity short-circuited",
			zap.String("identity", identity), zap.String("key", req.Key), zap.Int64("banned_until", until))
		done(res)
		return res, nil
	}

	res, backendFailed := e.check(ctx, req)
	// An outage denial is not the caller's fault and is not recorded.
	if !res.Allowed && !backendFailed {
		v := e.abuse.RecordViolation(ctx, identity)
		res.Warning = boolPtr(v.Warning)
		res.Banned = boolPtr(v.Banned)
		res.BannedUntil = v.BannedUntil
	}
	done(res)
	return res, nil
}

// ClearAbuse deletes identity's abuse record. It is a no-op without an
// abuse store.
func (e *Engine) ClearAbuse(ctx context.Context, identity string) error {
	if e.abuse == nil {
		return nil
	}
	return e.abuse.ClearAbuseState(ctx, identity)
}

func (e *Engine) tierRequest(tier string, category Category, identifier string) Request {
	tier = strings.ToLower(tier)
	l, ok := e.tables.Tier(tier, category)
	if !ok {
		panic(fmt.Errorf("%w: %s/%s", ErrUnknownTierCategory, tier, category))
	}
	return Request{
		Key:           TierKey(tier, category, identifier),
		Limit:         l.Limit,
		WindowSeconds: l.WindowSeconds,
		FailMode:      FailOpen,
	}
}

func (e *Engine) storeKey(key string) string {
	if e.namespace == "" {
		return key
	}
	return e.namespace + ":" + key
}

// check calls the counter store and resolves a backend failure through the
// request's fail mode. The bool reports whether the backend failed.
func (e *Engine) check(ctx context.Context, req Request) (Result, bool) {
	res, err := e.counter.Check(ctx, e.storeKey(req.Key), req.Limit, req.WindowSeconds)
	if err != nil {
		return e.failed(req, err), true
	}
	res.Limit = req.Limit
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res, false
}

func (e *Engine) failed(req Request, err error) Result {
	mode := req.FailMode.orDefault()
	backendErrors.WithLabelValues("counter_check", string(mode)).Inc()
	resetAt := e.now().Add(req.window()).Unix()

	fields := []zap.Field{
		zap.String("key", req.Key),
		zap.String("fail_mode", string(mode)),
		zap.Error(err),
	}
	if mode == FailClosed {
		e.logger.Error("counter backend unavailable, denying request", fields...)
		return Result{Allowed: false, Remaining: 0, ResetAt: resetAt, Limit: req.Limit}
	}
	e.logger.Warn("counter backend unavailable, allowing request", fields...)
	return Result{Allowed: true, Remaining: req.Limit, ResetAt: resetAt, Limit: req.Limit}
}
