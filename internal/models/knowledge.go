package models

import "time"

// KnowledgeItem is the normalized business record produced from a staging row.
type KnowledgeItem struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Slug                  string    `json:"slug"`
	Description           *string   `json:"description,omitempty"`
	Background            *string   `json:"background,omitempty"`
	Source                *string   `json:"source,omitempty"`
	CategoryID            *string   `json:"category_id,omitempty"`
	PlanningLayerID       *string   `json:"planning_layer_id,omitempty"`
	DomainID              *string   `json:"domain_id,omitempty"`
	DurationMinutes       *int      `json:"duration_minutes,omitempty"`
	TeamSizeMin           *int      `json:"team_size_min,omitempty"`
	TeamSizeMax           *int      `json:"team_size_max,omitempty"`
	DifficultyLevel       *string   `json:"difficulty_level,omitempty"`
	Tags                  []string  `json:"tags,omitempty"`
	IsFeatured            bool      `json:"is_featured"`
	IsFacilitatorRequired bool      `json:"is_facilitator_required"`
	ImportID              *string   `json:"import_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// UseCaseKind distinguishes the two narrative blocks attached to an item.
type UseCaseKind string

const (
	UseCaseGeneric UseCaseKind = "generic"
	UseCaseExample UseCaseKind = "example"
)

// UseCase is a W5H narrative child record of a knowledge item.
type UseCase struct {
	ID              string      `json:"id"`
	KnowledgeItemID string      `json:"knowledge_item_id"`
	Kind            UseCaseKind `json:"use_case_type"`
	Who             *string     `json:"who,omitempty"`
	What            *string     `json:"what,omitempty"`
	When            *string     `json:"when,omitempty"`
	Where           *string     `json:"where,omitempty"`
	Why             *string     `json:"why,omitempty"`
	How             *string     `json:"how,omitempty"`
	HowMuch         *string     `json:"how_much,omitempty"`
	Summary         *string     `json:"summary,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}
