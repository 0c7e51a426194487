package callrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/voxgate/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Store persists call records via GORM, grounded on the teacher's
// internal/db.InitDB connection-tuning convention (pool size, idle
// conns, conn max lifetime) adapted to the mysql/TiDB driver the
// teacher's go.mod actually carries (internal/database.MigrateDB's
// vector-index statement is TiDB/MySQL-specific, unlike internal/db's
// stray postgres.Open call — DESIGN.md notes the discrepancy).
type Store struct {
	db *gorm.DB
}

// Open connects and runs AutoMigrate for Record. If cfg.Enabled is
// false, Open returns a Store with a nil db whose methods are no-ops —
// callers don't need a separate feature-flag branch at every call
// site.
func Open(cfg config.CallRecordConfig) (*Store, error) {
	if !cfg.Enabled {
		return &Store{}, nil
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("callrecord: connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("callrecord: underlying db: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("callrecord: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Begin inserts the initial row for a session at connect time.
func (s *Store) Begin(ctx context.Context, sessionID uuid.UUID, kind, callerID string) error {
	if s.db == nil {
		return nil
	}
	rec := Record{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      kind,
		CallerID:  callerID,
		StartedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// End updates the session's row at teardown with the final turn count,
// DTMF outcome, and close reason.
func (s *Store) End(ctx context.Context, sessionID uuid.UUID, turnCount int, dtmfStatus, closeReason string) error {
	if s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&Record{}).
		Where("session_id = ?", sessionID).
		Order("created_at desc").
		Limit(1).
		Updates(map[string]any{
			"ended_at":     time.Now(),
			"turn_count":   turnCount,
			"dtmf_status":  dtmfStatus,
			"close_reason": closeReason,
		}).Error
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
