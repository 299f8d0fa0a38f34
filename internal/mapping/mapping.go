// Package mapping translates spreadsheet headers into normalized field names.
package mapping

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Normalized field names produced by the default mapping.
const (
	FieldName                     = "name"
	FieldDescription              = "description"
	FieldBackground               = "background"
	FieldSource                   = "source"
	FieldCategoryName             = "category_name"
	FieldCategoryDescription      = "category_description"
	FieldPlanningLayerName        = "planning_layer_name"
	FieldPlanningLayerDescription = "planning_layer_description"
	FieldDomainName               = "domain_name"
	FieldDomainDescription        = "domain_description"
	FieldDurationMinutes          = "duration_minutes"
	FieldTeamSizeMin              = "team_size_min"
	FieldTeamSizeMax              = "team_size_max"
	FieldDifficultyLevel          = "difficulty_level"
	FieldTags                     = "tags"
	FieldIsFeatured               = "is_featured"
	FieldIsFacilitatorRequired    = "is_facilitator_required"
)

// W5HParts are the narrative parts of a use-case block, in column order.
var W5HParts = []string{"who", "what", "when", "where", "why", "how", "how_much", "summary"}

// Use-case block prefixes on normalized fields (e.g. "generic_who").
const (
	GenericPrefix = "generic_"
	ExamplePrefix = "example_"
)

// RequiredHeaders must be present in every uploaded knowledge item sheet.
var RequiredHeaders = []string{"Knowledge Item", "Category", "Planning Focus", "Domain of Interest"}

// DefaultFieldMappings returns the built-in header to field table.
func DefaultFieldMappings() map[string]string {
	m := map[string]string{
		"Knowledge Item":             FieldName,
		"Description":                FieldDescription,
		"Background":                 FieldBackground,
		"Source":                     FieldSource,
		"Category":                   FieldCategoryName,
		"Category Description":       FieldCategoryDescription,
		"Planning Focus":             FieldPlanningLayerName,
		"Planning Focus Description": FieldPlanningLayerDescription,
		"Domain of Interest":         FieldDomainName,
		"Domain Description":         FieldDomainDescription,
		"Duration (minutes)":         FieldDurationMinutes,
		"Team Size Min":              FieldTeamSizeMin,
		"Team Size Max":              FieldTeamSizeMax,
		"Difficulty Level":           FieldDifficultyLevel,
		"Tags":                       FieldTags,
		"Featured":                   FieldIsFeatured,
		"Requires Facilitator":       FieldIsFacilitatorRequired,
	}
	for _, part := range W5HParts {
		label := headerLabel(part)
		m["Generic "+label] = GenericPrefix + part
		m["Example "+label] = ExamplePrefix + part
	}
	return m
}

// headerLabel turns "how_much" into "How Much".
func headerLabel(part string) string {
	words := strings.Split(part, "_")
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Mapper translates header/value rows into field/value rows.
// A Mapper is immutable after construction and safe for concurrent use.
type Mapper struct {
	fields   map[string]string // Original header -> field
	lookup   map[string]string // Folded header -> field
	required []string
}

// New creates a mapper from a header to field table.
// A nil table selects DefaultFieldMappings.
func New(fieldMappings map[string]string, required []string) *Mapper {
	if fieldMappings == nil {
		fieldMappings = DefaultFieldMappings()
	}
	if required == nil {
		required = RequiredHeaders
	}
	m := &Mapper{
		fields:   maps.Clone(fieldMappings),
		lookup:   make(map[string]string, len(fieldMappings)),
		required: slices.Clone(required),
	}
	// Headers that fold together resolve to the last one in sorted order.
	headers := slices.Sorted(maps.Keys(fieldMappings))
	for _, header := range headers {
		m.lookup[foldHeader(header)] = fieldMappings[header]
	}
	return m
}

// Default returns a mapper over the built-in table.
func Default() *Mapper {
	return New(nil, nil)
}

// FieldMappings returns a copy of the header to field table.
func (m *Mapper) FieldMappings() map[string]string {
	return maps.Clone(m.fields)
}

// Required returns the headers ValidateHeaders checks for.
func (m *Mapper) Required() []string {
	return slices.Clone(m.required)
}

// Field returns the normalized field for a header.
func (m *Mapper) Field(header string) (string, bool) {
	f, ok := m.lookup[foldHeader(header)]
	return f, ok
}

// Map converts a raw header/value row into a field/value row.
// Unmapped headers and blank values are dropped.
func (m *Mapper) Map(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for header, value := range raw {
		field, ok := m.Field(header)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out[field] = value
	}
	return out
}

// ValidateHeaders checks that every required header is present.
func (m *Mapper) ValidateHeaders(headers []string) error {
	present := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		present[foldHeader(h)] = struct{}{}
	}
	var missing []string
	for _, req := range m.required {
		if _, ok := present[foldHeader(req)]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return &MissingHeadersError{Missing: missing}
	}
	return nil
}

// MissingHeadersError lists the required headers absent from an upload.
type MissingHeadersError struct {
	Missing []string
}

func (e *MissingHeadersError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

func foldHeader(h string) string {
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// Overrides is the YAML shape of a mapping file.
//
//	field_mappings:
//	  "Title": name
//	required_headers: ["Title", "Category"]
type Overrides struct {
	FieldMappings   map[string]string `yaml:"field_mappings"`
	RequiredHeaders []string          `yaml:"required_headers"`
}

// LoadFile builds a mapper from the defaults merged with a YAML overrides file.
// An empty path returns the default mapper.
func LoadFile(path string) (*Mapper, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}
	return Parse(data)
}

// Parse builds a mapper from YAML overrides merged over the defaults.
func Parse(data []byte) (*Mapper, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}
	fields := DefaultFieldMappings()
	seen := make(map[string]string, len(o.FieldMappings))
	for header, field := range o.FieldMappings {
		header = strings.TrimSpace(header)
		field = strings.TrimSpace(field)
		if header == "" || field == "" {
			return nil, fmt.Errorf("parse mapping file: empty header or field in %q: %q", header, field)
		}
		folded := foldHeader(header)
		if prev, ok := seen[folded]; ok {
			return nil, fmt.Errorf("parse mapping file: headers %q and %q differ only in case or spacing", prev, header)
		}
		seen[folded] = header
		for def := range fields {
			if foldHeader(def) == folded {
				delete(fields, def)
			}
		}
		fields[header] = field
	}
	required := RequiredHeaders
	if len(o.RequiredHeaders) > 0 {
		required = o.RequiredHeaders
	}
	return New(fields, required), nil
}

// Marshal renders the mapper as a YAML overrides document, sorted by header.
func (m *Mapper) Marshal() ([]byte, error) {
	headers := make([]string, 0, len(m.fields))
	for h := range m.fields {
		headers = append(headers, h)
	}
	sort.Strings(headers)

	fieldsNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, h := range headers {
		fieldsNode.Content = append(fieldsNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: h},
			&yaml.Node{Kind: yaml.ScalarNode, Value: m.fields[h]},
		)
	}
	requiredNode := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range m.required {
		requiredNode.Content = append(requiredNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: r})
	}
	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "field_mappings"}, fieldsNode,
		{Kind: yaml.ScalarNode, Value: "required_headers"}, requiredNode,
	}}
	return yaml.Marshal(doc)
}
