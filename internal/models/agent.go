package models

import "time"

// Agent stores an outreach agent's configuration as the simulator consumes
// it. List-valued columns hold raw JSON; older rows may contain a JSON
// string wrapping the list.
type Agent struct {
	ID                   string `gorm:"primaryKey;size:64"`
	Name                 string `gorm:"size:128;not null"`
	Channel              string `gorm:"size:32;default:linkedin"`
	ConversationSteps    string `gorm:"type:text"` // JSON array of steps or strings
	EscalationSentiments string `gorm:"type:text"` // JSON array of sentiment labels
	EscalationKeywords   string `gorm:"type:text"` // comma-separated
	ConnectionStrategy   string `gorm:"size:32"`   // silent, with-intro, icebreaker
	InviteMessage        string `gorm:"type:text"`
	InitialApproach      string `gorm:"type:text"`
	InitialMessage       string `gorm:"type:text"`
	PostAcceptMessage    string `gorm:"type:text"`
	WorkflowEnabled      bool   `gorm:"default:false"`
	WorkflowDefinition   string `gorm:"type:mediumtext"` // JSON, opaque to the simulator
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
