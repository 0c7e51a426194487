// Package callrecord is the durable historical call-record sink: one
// row per session, written at teardown, covering start/end time, kind,
// turn count, and final DTMF status. It is explicitly out of the scope
// of any analytics pipeline (SPEC_FULL.md's domain-stack note) — just a
// small audit trail a support team can query directly. Grounded on the
// teacher's internal/repository/conversation GORM entity/repository
// pair and internal/database.MigrateDB's AutoMigrate convention.
package callrecord

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Record is one terminated session's summary row.
type Record struct {
	ID         uuid.UUID `gorm:"primaryKey;type:char(36);not null"`
	SessionID  uuid.UUID `gorm:"column:session_id;type:char(36);not null;index"`
	Kind       string    `gorm:"type:varchar(16);not null"`
	CallerID   string    `gorm:"column:caller_id;type:varchar(64)"`
	TurnCount  int       `gorm:"column:turn_count"`
	DTMFStatus string    `gorm:"column:dtmf_status;type:varchar(16)"`
	CloseReason string   `gorm:"column:close_reason;type:varchar(255)"`

	StartedAt time.Time `gorm:"column:started_at;not null"`
	EndedAt   time.Time `gorm:"column:ended_at"`

	CreatedAt time.Time      `gorm:"autoCreateTime(3)"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Record) TableName() string { return "call_records" }
