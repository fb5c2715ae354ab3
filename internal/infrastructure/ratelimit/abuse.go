// abuse.go: Graduated abuse response (warning, then 24h ban) with lazy decay
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// BanThreshold is the violation count at which an identity is banned.
	BanThreshold = 5
	// BanSeconds is how long a ban lasts.
	BanSeconds int64 = 86400
	// DecaySeconds is the quiet period after which history is forgotten.
	DecaySeconds int64 = 86400
)

// Violation is the outcome of recording one violation.
type Violation struct {
	Violations  int    `json:"violations"`
	Warning     bool   `json:"warning"`
	Banned      bool   `json:"banned"`
	BannedUntil *int64 `json:"bannedUntil"`
}

// AbuseEvent is published after a violation has been recorded.
type AbuseEvent struct {
	Identity    string `json:"identity"`
	Violations  int    `json:"violations"`
	Banned      bool   `json:"banned"`
	BannedUntil *int64 `json:"bannedUntil,omitempty"`
	At          int64  `json:"at"`
}

// AbuseNotifier receives abuse events. Failures are logged and never affect
// the check that produced the event.
type AbuseNotifier interface {
	Notify(ctx context.Context, event AbuseEvent) error
}

// AbuseTrackerConfig configures an AbuseTracker.
type AbuseTrackerConfig struct {
	Store    AbuseStore
	Logger   *zap.Logger
	Clock    Clock
	Notifier AbuseNotifier
}

// AbuseTracker records violations per identity and decides bans.
type AbuseTracker struct {
	store    AbuseStore
	logger   *zap.Logger
	now      Clock
	notifier AbuseNotifier
}

// NewAbuseTracker creates a tracker over cfg.Store.
func NewAbuseTracker(cfg AbuseTrackerConfig) *AbuseTracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &AbuseTracker{
		store:    cfg.Store,
		logger:   cfg.Logger,
		now:      cfg.Clock,
		notifier: cfg.Notifier,
	}
}

// GetAbuseState returns the decay-aware state of identity. Unknown
// identities, decayed records and backend failures all read as the zero
// state. A decayed record is left in storage as is.
func (t *AbuseTracker) GetAbuseState(ctx context.Context, identity string) AbuseState {
	st, _ := t.load(ctx, identity)
	return st
}

func (t *AbuseTracker) load(ctx context.Context, identity string) (AbuseState, error) {
	st, found, err := t.store.Get(ctx, identity)
	if err != nil {
		backendErrors.WithLabelValues("abuse_get", string(FailOpen)).Inc()
		t.logger.Warn("abuse store read failed, treating identity as clean",
			zap.String("identity", identity), zap.Error(err))
		return AbuseState{}, err
	}
	if !found || t.now().Unix()-st.LastViolationAt > DecaySeconds {
		return AbuseState{}, nil
	}
	return st, nil
}

// RecordViolation adds one violation and bans the identity once it reaches
// BanThreshold. An existing ban is never shortened. The write is best effort:
// a failed write is logged, and when the prior state could not be read
// nothing is written so a stored ban is not overwritten with a fresh record.
func (t *AbuseTracker) RecordViolation(ctx context.Context, identity string) Violation {
	st, readErr := t.load(ctx, identity)
	now := t.now().Unix()

	st.Violations++
	st.LastViolationAt = now
	v := Violation{Violations: st.Violations, Warning: st.Violations < BanThreshold}
	if st.Violations >= BanThreshold {
		until := now + BanSeconds
		if st.BannedUntil != nil && *st.BannedUntil > until {
			until = *st.BannedUntil
		}
		st.BannedUntil = int64Ptr(until)
		v.Banned = true
		v.BannedUntil = int64Ptr(until)
	}

	severity := "warning"
	if v.Banned {
		severity = "ban"
	}
	abuseViolations.WithLabelValues(severity).Inc()

	if readErr == nil {
		if err := t.store.Put(ctx, identity, st); err != nil {
			backendErrors.WithLabelValues("abuse_put", string(FailOpen)).Inc()
			t.logger.Error("failed to persist abuse violation",
				zap.String("identity", identity), zap.Int("violations", st.Violations), zap.Error(err))
		}
	}

	if v.Banned {
		t.logger.Warn("identity banned",
			zap.String("identity", identity), zap.Int("violations", st.Violations), zap.Int64("banned_until", *v.BannedUntil))
	} else {
		t.logger.Info("abuse warning recorded",
			zap.String("identity", identity), zap.Int("violations", st.Violations))
	}

	if t.notifier != nil {
		event := AbuseEvent{
			Identity:    identity,
			Violations:  v.Violations,
			Banned:      v.Banned,
			BannedUntil: v.BannedUntil,
			At:          now,
		}
		if err := t.notifier.Notify(ctx, event); err != nil {
			t.logger.Warn("abuse notification failed", zap.String("identity", identity), zap.Error(err))
		}
	}
	return v
}

// IsBanned reports whether state carries a ban that has not yet expired.
func (t *AbuseTracker) IsBanned(state AbuseState) bool {
	return state.BannedUntil != nil && *state.BannedUntil > t.now().Unix()
}

// BanRemaining returns the seconds left on an active ban, or 0.
func (t *AbuseTracker) BanRemaining(state AbuseState) int64 {
	if !t.IsBanned(state) {
		return 0
	}
	remaining := *state.BannedUntil - t.now().Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ClearAbuseState deletes the identity's record.
func (t *AbuseTracker) ClearAbuseState(ctx context.Context, identity string) error {
	if err := t.store.Delete(ctx, identity); err != nil {
		backendErrors.WithLabelValues("abuse_delete", string(FailOpen)).Inc()
		t.logger.Error("failed to clear abuse state", zap.String("identity", identity), zap.Error(err))
		return backendError("clear abuse state", err)
	}
	t.logger.Info("abuse state cleared", zap.String("identity", identity))
	return nil
}
