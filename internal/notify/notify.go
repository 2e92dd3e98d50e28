// Package notify fans escalation events out to the places an operator
// watches: chat webhooks, a message broker and the audit table.
package notify

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/zulandar/rehearsal/internal/escalation"
	"github.com/zulandar/rehearsal/internal/models"
)

// Notifier delivers one escalation event.
type Notifier interface {
	Notify(ctx context.Context, ev escalation.Event) error
}

// Color constants by escalation kind.
const (
	ColorKeyword   = "#ff9800"
	ColorSentiment = "#e53935"
	ColorStep      = "#2196f3"
	ColorAI        = "#8e24aa"
)

// KindColor maps an escalation kind to a sidebar color.
func KindColor(k escalation.Kind) string {
	switch k {
	case escalation.KindKeyword:
		return ColorKeyword
	case escalation.KindSentiment:
		return ColorSentiment
	case escalation.KindStep:
		return ColorStep
	default:
		return ColorAI
	}
}

// Field is a key-value pair shown alongside a formatted event.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Formatted is an escalation rendered for chat platforms.
type Formatted struct {
	Title  string
	Body   string
	Color  string
	Fields []Field
}

// Format renders ev for chat.
func Format(ev escalation.Event) Formatted {
	agent := ev.AgentName
	if agent == "" {
		agent = ev.AgentID
	}
	f := Formatted{
		Title: fmt.Sprintf("Escalation in %s", agent),
		Body:  ev.Reason.Value,
		Color: KindColor(ev.Reason.Kind),
		Fields: []Field{
			{Name: "Rule", Value: string(ev.Reason.Kind), Short: true},
			{Name: "Step", Value: strconv.Itoa(ev.Step + 1), Short: true},
			{Name: "Session", Value: ev.SessionID, Short: true},
		},
	}
	if ev.LeadName != "" {
		f.Fields = append(f.Fields, Field{Name: "Lead", Value: ev.LeadName, Short: true})
	}
	return f
}

// Multi delivers to every notifier concurrently and returns the first
// error. One failing target does not stop the others.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev escalation.Event) error {
	var g errgroup.Group
	for _, n := range m {
		g.Go(func() error { return n.Notify(ctx, ev) })
	}
	return g.Wait()
}

// Recorder writes escalation events to the escalation_records table.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a Recorder.
func NewRecorder(db *gorm.DB) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("notify: db is required")
	}
	return &Recorder{db: db}, nil
}

// Notify implements Notifier.
func (r *Recorder) Notify(ctx context.Context, ev escalation.Event) error {
	rec := models.EscalationRecord{
		SessionID: ev.SessionID,
		AgentID:   ev.AgentID,
		AgentName: ev.AgentName,
		LeadName:  ev.LeadName,
		Kind:      string(ev.Reason.Kind),
		Value:     ev.Reason.Value,
		Step:      ev.Step,
		CreatedAt: ev.At,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("notify: record escalation: %w", err)
	}
	return nil
}
