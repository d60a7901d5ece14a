package external

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func TestCuratedRegistry_Lookup(t *testing.T) {
	registry := NewCuratedRegistry()

	tests := []struct {
		name          string
		input         string
		expectGeneric string
		expectErr     bool
	}{
		{name: "generic name", input: "Warfarin", expectGeneric: "Warfarin"},
		{name: "brand name", input: "coumadin", expectGeneric: "Warfarin"},
		{name: "ingredient", input: "paracetamol", expectGeneric: "Acetaminophen"},
		{name: "surrounding whitespace", input: "  Zoloft ", expectGeneric: "Sertraline"},
		{name: "unknown", input: "Unobtainium", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := registry.Lookup(context.Background(), tt.input)
			if tt.expectErr {
				assert.True(t, errors.Is(err, domain.ErrNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectGeneric, record.GenericName)
			assert.Equal(t, SourceCurated, record.Source)
			assert.NotEmpty(t, record.PharmClasses)
		})
	}
}

func TestCuratedRegistry_Interactions(t *testing.T) {
	registry := NewCuratedRegistry()
	lookup := func(name string) *domain.MedicationRecord {
		record, err := registry.Lookup(context.Background(), name)
		require.NoError(t, err)
		return record
	}

	tests := []struct {
		name           string
		a, b           string
		expectSeverity string
	}{
		{name: "MAOI with SSRI", a: "Phenelzine", b: "Sertraline", expectSeverity: "contraindicated"},
		{name: "order independent", a: "Sertraline", b: "Phenelzine", expectSeverity: "contraindicated"},
		{name: "anticoagulant with NSAID", a: "Warfarin", b: "Ibuprofen", expectSeverity: "major"},
		{name: "PDE5 with nitrate", a: "Viagra", b: "Nitroglycerin", expectSeverity: "contraindicated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := registry.Interactions(context.Background(), lookup(tt.a), lookup(tt.b))
			require.NoError(t, err)
			require.NotEmpty(t, records)
			assert.Equal(t, tt.expectSeverity, records[0].Severity)
			assert.Equal(t, SourceCurated, records[0].Source)
		})
	}

	_, err := registry.Interactions(context.Background(), lookup("Levothyroxine"), lookup("Amoxicillin"))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCuratedRegistry_AnnotateAlternative(t *testing.T) {
	registry := NewCuratedRegistry()
	warfarin, err := registry.Lookup(context.Background(), "Warfarin")
	require.NoError(t, err)
	sertraline, err := registry.Lookup(context.Background(), "Sertraline")
	require.NoError(t, err)

	assert.NotEmpty(t, registry.AnnotateAlternative(warfarin, "Ginkgo biloba"))
	assert.NotEmpty(t, registry.AnnotateAlternative(warfarin, "Fish Oil (Omega-3)"))
	assert.NotEmpty(t, registry.AnnotateAlternative(sertraline, "St. John's Wort"))
	assert.Empty(t, registry.AnnotateAlternative(warfarin, "Peppermint"))
}

func TestTagsForPharmClasses(t *testing.T) {
	assert.ElementsMatch(t, []string{"maoi"}, TagsForPharmClasses([]string{"Monoamine Oxidase Inhibitor [EPC]"}))
	assert.ElementsMatch(t, []string{"ssri", "serotonergic"}, TagsForPharmClasses([]string{"Serotonin Reuptake Inhibitor [EPC]"}))
	assert.ElementsMatch(t, []string{"serotonergic"}, TagsForPharmClasses([]string{"Serotonin and Norepinephrine Reuptake Inhibitor [EPC]"}))
	assert.Empty(t, TagsForPharmClasses([]string{"Thyroid Hormone", "Diabetes Mellitus"}))
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("use with aspirin daily", "aspirin"))
	assert.True(t, containsWord("aspirin", "aspirin"))
	assert.False(t, containsWord("aspirinate", "aspirin"))
	assert.False(t, containsWord("anything", ""))
	assert.True(t, containsWord("st. john's wort extract", "st. john's wort"))
}
