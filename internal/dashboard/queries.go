package dashboard

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/rehearsal/internal/models"
)

// Escalation holds a recorded escalation for display.
type Escalation struct {
	ID        uint      `json:"id"`
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	LeadName  string    `json:"lead_name"`
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	Step      int       `json:"step"`
	CreatedAt time.Time `json:"created_at"`
}

// EscalationFilters holds optional filters for the escalation list.
type EscalationFilters struct {
	AgentID string
	Kind    string
	Limit   int
}

// RecentEscalations returns recorded escalations matching filters, newest
// first.
func RecentEscalations(ctx context.Context, db *gorm.DB, f EscalationFilters) ([]Escalation, error) {
	if db == nil {
		return []Escalation{}, nil
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	var rows []models.EscalationRecord
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]Escalation, len(rows))
	for i, r := range rows {
		result[i] = Escalation{
			ID:        r.ID,
			SessionID: r.SessionID,
			AgentID:   r.AgentID,
			AgentName: r.AgentName,
			LeadName:  r.LeadName,
			Kind:      r.Kind,
			Value:     r.Value,
			Step:      r.Step,
			CreatedAt: r.CreatedAt,
		}
	}
	return result, nil
}

// EscalationCount is the number of recorded escalations of one kind for
// one agent.
type EscalationCount struct {
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"`
	Count   int64  `json:"count"`
}

// EscalationSummary counts recorded escalations by agent and kind.
func EscalationSummary(ctx context.Context, db *gorm.DB) ([]EscalationCount, error) {
	if db == nil {
		return []EscalationCount{}, nil
	}
	var out []EscalationCount
	err := db.WithContext(ctx).Model(&models.EscalationRecord{}).
		Select("agent_id, kind, COUNT(*) AS count").
		Group("agent_id, kind").
		Order("agent_id, kind").
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []EscalationCount{}
	}
	return out, nil
}
