// gorm.go: SQL-backed abuse store
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AbuseRecord is the abuse_states row for one identity.
type AbuseRecord struct {
	Identity        string `gorm:"primaryKey;size:255"`
	Violations      int    `gorm:"not null;default:0"`
	LastViolationAt int64  `gorm:"not null;default:0;index"`
	BannedUntil     *int64
	UpdatedAt       time.Time
}

// TableName implements gorm's Tabler.
func (AbuseRecord) TableName() string { return "abuse_states" }

// GormAbuseStore is an AbuseStore over any gorm dialect.
type GormAbuseStore struct {
	db *gorm.DB
}

// NewGormAbuseStore migrates the abuse_states table and returns the store.
func NewGormAbuseStore(db *gorm.DB) (*GormAbuseStore, error) {
	if err := db.AutoMigrate(&AbuseRecord{}); err != nil {
		return nil, fmt.Errorf("migrate abuse_states: %w", err)
	}
	return &GormAbuseStore{db: db}, nil
}

// Get implements AbuseStore.
func (s *GormAbuseStore) Get(ctx context.Context, identity string) (AbuseState, bool, error) {
	var rec AbuseRecord
	err := s.db.WithContext(ctx).Where("identity = ?", identity).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AbuseState{}, false, nil
	}
	if err != nil {
		return AbuseState{}, false, backendError("sql abuse get", err)
	}
	return AbuseState{
		Violations:      rec.Violations,
		LastViolationAt: rec.LastViolationAt,
		BannedUntil:     rec.BannedUntil,
	}, true, nil
}

// Put implements AbuseStore.
func (s *GormAbuseStore) Put(ctx context.Context, identity string, state AbuseState) error {
	rec := AbuseRecord{
		Identity:        identity,
		Violations:      state.Violations,
		LastViolationAt: state.LastViolationAt,
		BannedUntil:     state.BannedUntil,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"violations", "last_violation_at", "banned_until", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return backendError("sql abuse put", err)
	}
	return nil
}

// Delete implements AbuseStore.
func (s *GormAbuseStore) Delete(ctx context.Context, identity string) error {
	err := s.db.WithContext(ctx).Where("identity = ?", identity).Delete(&AbuseRecord{}).Error
	if err != nil {
		return backendError("sql abuse delete", err)
	}
	return nil
}

// Name implements HealthChecker.
func (s *GormAbuseStore) Name() string { return "sql" }

// HealthCheck implements HealthChecker.
func (s *GormAbuseStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
