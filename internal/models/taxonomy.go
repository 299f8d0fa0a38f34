package models

import (
	"fmt"
	"time"
)

// TaxonomyKind identifies one of the shared reference tables.
type TaxonomyKind string

const (
	TaxonomyCategory      TaxonomyKind = "category"
	TaxonomyPlanningLayer TaxonomyKind = "planning_layer"
	TaxonomyDomain        TaxonomyKind = "domain"
)

// TaxonomyKinds lists every kind in resolution order.
var TaxonomyKinds = []TaxonomyKind{TaxonomyCategory, TaxonomyDomain, TaxonomyPlanningLayer}

// Table returns the relational table name backing the kind.
func (k TaxonomyKind) Table() string {
	switch k {
	case TaxonomyCategory:
		return "knowledge_categories"
	case TaxonomyPlanningLayer:
		return "planning_layers"
	case TaxonomyDomain:
		return "activity_domains"
	}
	panic(fmt.Sprintf("unknown taxonomy kind %q", string(k)))
}

// Valid reports whether k is a known kind.
func (k TaxonomyKind) Valid() bool {
	switch k {
	case TaxonomyCategory, TaxonomyPlanningLayer, TaxonomyDomain:
		return true
	}
	return false
}

// TaxonomyEntity is a named, slugged reference row (category, planning layer or domain).
type TaxonomyEntity struct {
	ID           string       `json:"id"`
	Kind         TaxonomyKind `json:"kind"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	Description  *string      `json:"description,omitempty"`
	Color        string       `json:"color"`
	DisplayOrder *int         `json:"display_order,omitempty"` // Planning layers only
	CreatedAt    time.Time    `json:"created_at"`
}
