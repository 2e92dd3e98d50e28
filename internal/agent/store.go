package agent

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/zulandar/rehearsal/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no agent exists with the requested ID.
var ErrNotFound = errors.New("agent: not found")

// Store reads and writes agent configurations.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("agent: store: db is required")
	}
	return &Store{db: db}, nil
}

// Get loads a single agent by ID.
func (s *Store) Get(ctx context.Context, id string) (*Config, error) {
	var m models.Agent
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("agent: get %s: %w", id, err)
	}
	return FromModel(m), nil
}

// List returns all agents ordered by name.
func (s *Store) List(ctx context.Context) ([]*Config, error) {
	var rows []models.Agent
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	out := make([]*Config, 0, len(rows))
	for _, r := range rows {
		out = append(out, FromModel(r))
	}
	return out, nil
}

// Upsert inserts or replaces an agent configuration.
func (s *Store) Upsert(ctx context.Context, cfg *Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("agent: upsert: id is required")
	}
	row := cfg.ToModel()
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "channel", "conversation_steps", "escalation_sentiments",
			"escalation_keywords", "connection_strategy", "invite_message",
			"initial_approach", "initial_message", "post_accept_message",
			"workflow_enabled", "workflow_definition", "updated_at",
		}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("agent: upsert %s: %w", cfg.ID, result.Error)
	}
	return nil
}

// File is the on-disk format for agent definitions.
type File struct {
	Agents []*Config `yaml:"agents"`
}

// LoadFile reads agent definitions from a YAML file.
func LoadFile(path string) ([]*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read %s: %w", path, err)
	}
	return ParseFile(data)
}

// ParseFile decodes YAML agent definitions and checks every entry has an ID
// and a name.
func ParseFile(data []byte) ([]*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("agent: parse: %w", err)
	}
	for i, a := range f.Agents {
		if a == nil || a.ID == "" {
			return nil, fmt.Errorf("agent: agents[%d].id is required", i)
		}
		if a.Name == "" {
			return nil, fmt.Errorf("agent: agents[%d].name is required", i)
		}
		if a.ConversationSteps == nil {
			a.ConversationSteps = Steps{}
		}
	}
	return f.Agents, nil
}
