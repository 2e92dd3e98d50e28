package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zulandar/rehearsal/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openAgentTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Agent{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

// ---------------------------------------------------------------------------
// Step normalization
// ---------------------------------------------------------------------------

func TestParseSteps(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   Steps
		wantOK bool
	}{
		{"empty", "", Steps{}, true},
		{"null", "null", Steps{}, true},
		{"objects", `[{"text":"Intro"},{"text":"Handoff","is_escalation":true}]`,
			Steps{{Text: "Intro"}, {Text: "Handoff", IsEscalation: true}}, true},
		{"plain strings", `["Intro","Qualify"]`, Steps{{Text: "Intro"}, {Text: "Qualify"}}, true},
		{"mixed", `["Intro",{"text":"Close","is_escalation":true}]`,
			Steps{{Text: "Intro"}, {Text: "Close", IsEscalation: true}}, true},
		{"legacy json string", `"[\"Intro\",{\"text\":\"Handoff\",\"is_escalation\":true}]"`,
			Steps{{Text: "Intro"}, {Text: "Handoff", IsEscalation: true}}, true},
		{"malformed", `[{"text":`, Steps{}, false},
		{"malformed inner string", `"not json"`, Steps{}, false},
		{"wrong shape", `{"text":"Intro"}`, Steps{}, false},
		{"bad element", `[1,2]`, Steps{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSteps([]byte(tt.raw))
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseSteps mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSteps_At(t *testing.T) {
	s := Steps{{Text: "a"}, {Text: "b", IsEscalation: true}}
	if st, ok := s.At(1); !ok || !st.IsEscalation {
		t.Errorf("At(1) = %+v, %v", st, ok)
	}
	if _, ok := s.At(2); ok {
		t.Error("At(2) should not exist")
	}
	if _, ok := s.At(-1); ok {
		t.Error("At(-1) should not exist")
	}
}

func TestParseKeywords(t *testing.T) {
	got := ParseKeywords(" Preço, cancelar ,, ")
	want := []string{"preço", "cancelar"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseKeywords mismatch (-want +got):\n%s", diff)
	}
	if ParseKeywords("") != nil {
		t.Error("empty list should parse to nil")
	}
}

func TestHandshakeApplies(t *testing.T) {
	for ch, want := range map[string]bool{"": true, "linkedin": true, "LinkedIn": true, "whatsapp": false, "email": false} {
		c := &Config{Channel: ch}
		if got := c.HandshakeApplies(); got != want {
			t.Errorf("HandshakeApplies(%q) = %v, want %v", ch, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// YAML definitions
// ---------------------------------------------------------------------------

const agentsYAML = `
agents:
  - id: sdr-1
    name: Ana SDR
    connection_strategy: with-intro
    invite_message: "Oi {{first_name}}"
    escalation_keywords: "preço,cancelar"
    escalation_sentiments: [negative, angry]
    conversation_steps:
      - Intro
      - text: Handoff
        is_escalation: true
  - id: sdr-2
    name: Legacy
    conversation_steps: '["Intro","Close"]'
`

func TestParseFile(t *testing.T) {
	agents, err := ParseFile([]byte(agentsYAML))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("len = %d, want 2", len(agents))
	}
	want := Steps{{Text: "Intro"}, {Text: "Handoff", IsEscalation: true}}
	if diff := cmp.Diff(want, agents[0].ConversationSteps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Steps{{Text: "Intro"}, {Text: "Close"}}, agents[1].ConversationSteps); diff != "" {
		t.Errorf("legacy steps mismatch (-want +got):\n%s", diff)
	}
	if agents[0].ConnectionStrategy != StrategyWithIntro {
		t.Errorf("ConnectionStrategy = %q", agents[0].ConnectionStrategy)
	}
}

func TestParseFile_MissingID(t *testing.T) {
	_, err := ParseFile([]byte("agents:\n  - name: x\n"))
	if err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestParseFile_MalformedStepsTolerated(t *testing.T) {
	agents, err := ParseFile([]byte("agents:\n  - id: a\n    name: A\n    conversation_steps: '[{bad'\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(agents[0].ConversationSteps) != 0 {
		t.Errorf("steps = %v, want empty", agents[0].ConversationSteps)
	}
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

func TestNewStore_NilDB(t *testing.T) {
	if _, err := NewStore(nil); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestStore_UpsertGetList(t *testing.T) {
	db := openAgentTestDB(t)
	s, _ := NewStore(db)
	ctx := context.Background()

	cfg := &Config{
		ID:                   "sdr-1",
		Name:                 "Ana",
		Channel:              ChannelLinkedIn,
		ConversationSteps:    Steps{{Text: "Intro"}, {Text: "Handoff", IsEscalation: true}},
		EscalationSentiments: []string{"negative"},
		EscalationKeywords:   "cancelar",
		ConnectionStrategy:   StrategySilent,
		WorkflowDefinition:   map[string]any{"nodes": []any{}},
	}
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "sdr-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	cfg.Name = "Ana Updated"
	if err := s.Upsert(ctx, cfg); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "Ana Updated" {
		t.Errorf("List = %+v, want one updated agent", list)
	}
}

func TestStore_GetNotFound(t *testing.T) {
	s, _ := NewStore(openAgentTestDB(t))
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFromModel_LegacyColumns(t *testing.T) {
	cfg := FromModel(models.Agent{
		ID:                   "x",
		ConversationSteps:    `"[\"Intro\"]"`,
		EscalationSentiments: `"[\"negative\"]"`,
		WorkflowDefinition:   `{bad`,
	})
	if diff := cmp.Diff(Steps{{Text: "Intro"}}, cfg.ConversationSteps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"negative"}, cfg.EscalationSentiments); diff != "" {
		t.Errorf("sentiments mismatch (-want +got):\n%s", diff)
	}
	if cfg.WorkflowDefinition != nil {
		t.Errorf("WorkflowDefinition = %v, want nil for malformed JSON", cfg.WorkflowDefinition)
	}
}
