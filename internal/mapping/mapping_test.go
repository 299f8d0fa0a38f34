package mapping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFieldMappings(t *testing.T) {
	m := DefaultFieldMappings()

	assert.Equal(t, FieldName, m["Knowledge Item"])
	assert.Equal(t, FieldCategoryName, m["Category"])
	assert.Equal(t, FieldPlanningLayerName, m["Planning Focus"])
	assert.Equal(t, FieldDomainName, m["Domain of Interest"])
	assert.Equal(t, "generic_how_much", m["Generic How Much"])
	assert.Equal(t, "example_summary", m["Example Summary"])
}

func TestMapperMap(t *testing.T) {
	m := Default()

	got := m.Map(map[string]string{
		"Knowledge Item":     "5 Whys",
		" category ":         "Root Cause Analysis",
		"Domain of Interest": "Problem Solving",
		"Unknown Column":     "ignored",
		"Description":        "   ",
	})

	assert.Equal(t, map[string]string{
		FieldName:         "5 Whys",
		FieldCategoryName: "Root Cause Analysis",
		FieldDomainName:   "Problem Solving",
	}, got)
}

func TestMapperMapDoesNotMutateInput(t *testing.T) {
	raw := map[string]string{"Knowledge Item": "  Spaced  "}
	_ = Default().Map(raw)
	assert.Equal(t, "  Spaced  ", raw["Knowledge Item"])
}

func TestValidateHeaders(t *testing.T) {
	m := Default()

	t.Run("all present", func(t *testing.T) {
		err := m.ValidateHeaders([]string{"Knowledge Item", "category", "Planning  Focus", "Domain of Interest", "Extra"})
		assert.NoError(t, err)
	})

	t.Run("missing listed in order", func(t *testing.T) {
		err := m.ValidateHeaders([]string{"Knowledge Item", "Description"})
		require.Error(t, err)

		var missing *MissingHeadersError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, []string{"Category", "Planning Focus", "Domain of Interest"}, missing.Missing)
		assert.Equal(t, "missing required columns: Category, Planning Focus, Domain of Interest", err.Error())
	})
}

func TestParseOverrides(t *testing.T) {
	m, err := Parse([]byte(`
field_mappings:
  "Title": name
  "Topic": category_name
required_headers: ["Title"]
`))
	require.NoError(t, err)

	f, ok := m.Field("title")
	require.True(t, ok)
	assert.Equal(t, FieldName, f)

	// Defaults survive the merge.
	f, ok = m.Field("Knowledge Item")
	require.True(t, ok)
	assert.Equal(t, FieldName, f)

	assert.NoError(t, m.ValidateHeaders([]string{"Title"}))
	assert.Equal(t, []string{"Title"}, m.Required())
}

func TestParseOverrideReplacesFoldedDefault(t *testing.T) {
	for i := 0; i < 50; i++ {
		m, err := Parse([]byte("field_mappings:\n  \"knowledge item\": description\n"))
		require.NoError(t, err)

		f, ok := m.Field("Knowledge Item")
		require.True(t, ok)
		require.Equal(t, FieldDescription, f)
	}

	m, err := Parse([]byte("field_mappings:\n  \"knowledge  ITEM\": description\n"))
	require.NoError(t, err)
	fields := m.FieldMappings()
	assert.NotContains(t, fields, "Knowledge Item")
	assert.Equal(t, FieldDescription, fields["knowledge  ITEM"])
}

func TestParseOverridesRejectsFoldedDuplicates(t *testing.T) {
	_, err := Parse([]byte("field_mappings:\n  \"Title\": name\n  \"title\": description\n"))
	assert.ErrorContains(t, err, "differ only in case or spacing")
}

func TestNewFoldCollisionIsDeterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := New(map[string]string{"Title": FieldName, "title": FieldDescription}, []string{})
		f, _ := m.Field("TITLE")
		require.Equal(t, FieldDescription, f)
	}
}

func TestParseOverridesRejectsEmptyField(t *testing.T) {
	_, err := Parse([]byte("field_mappings:\n  \"Title\": \"\"\n"))
	assert.Error(t, err)
}

func TestMarshalRoundTripsThroughParse(t *testing.T) {
	data, err := Default().Marshal()
	require.NoError(t, err)

	m, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, DefaultFieldMappings(), m.FieldMappings())
	assert.Equal(t, RequiredHeaders, m.Required())
}
