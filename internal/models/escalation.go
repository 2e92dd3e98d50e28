package models

import "time"

// EscalationRecord is an audit row written when a simulator session first
// latches an escalation.
type EscalationRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	SessionID string    `gorm:"size:64;not null;index"`
	AgentID   string    `gorm:"size:64;not null;index"`
	AgentName string    `gorm:"size:128"`
	LeadName  string    `gorm:"size:128"`
	Kind      string    `gorm:"size:16;not null;index"` // keyword, sentiment, step, ai
	Value     string    `gorm:"type:text"`
	Step      int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"index"`
}
