// models/audit_log.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditAction names the accepted action an audit row records.
type AuditAction string

const (
	AuditCreate AuditAction = "create"
	AuditJoin   AuditAction = "join"
	AuditCommit AuditAction = "commit"
	AuditReveal AuditAction = "reveal"
	AuditCancel AuditAction = "cancel"
)

// AuditLog is an append-only record of every accepted action, written in the
// same transaction as the match row. Nothing in the state machine reads it.
type AuditLog struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	MatchID   string         `gorm:"type:uuid;not null;index" json:"match_id"`
	Action    AuditAction    `gorm:"type:varchar(16);not null" json:"action"`
	Actor     string         `gorm:"type:varchar(128);not null" json:"actor"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time      `gorm:"index;autoCreateTime" json:"created_at"`
}
