package models

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamlaunch/native/internal/domain"
)

var catalog = []domain.ModelDefinition{
	{ID: "racer", Version: "1.0", Active: false},
	{ID: "racer", Version: "1.1", Active: true},
	{ID: "viewer", Version: "3.2", Active: true},
	{ID: "racer", Version: "2.0-beta", Active: false},
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		version string
		want    domain.ModelDefinition
		ok      bool
	}{
		{name: "exact version", modelID: "racer", version: "1.0", want: catalog[0], ok: true},
		{name: "exact inactive version", modelID: "racer", version: "2.0-beta", want: catalog[3], ok: true},
		{name: "active when no version", modelID: "racer", want: catalog[1], ok: true},
		{name: "other model active", modelID: "viewer", want: catalog[2], ok: true},
		{name: "version mismatch", modelID: "racer", version: "9.9"},
		{name: "version of another model", modelID: "viewer", version: "1.1"},
		{name: "unknown model", modelID: "ghost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(catalog, tt.modelID, tt.version)
			assert.Equal(t, tt.ok, ok)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Select() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelect_NoActiveVersion(t *testing.T) {
	list := []domain.ModelDefinition{{ID: "racer", Version: "1.0"}, {ID: "racer", Version: "1.1"}}
	_, ok := Select(list, "racer", "")
	assert.False(t, ok)
}

func TestSelect_TwoActiveFirstWins(t *testing.T) {
	list := []domain.ModelDefinition{
		{ID: "racer", Version: "2.0", Active: true},
		{ID: "racer", Version: "1.0", Active: true},
	}
	for i := 0; i < 10; i++ {
		got, ok := Select(list, "racer", "")
		require.True(t, ok)
		assert.Equal(t, "2.0", got.Version)
	}
}

func TestSelect_EmptyList(t *testing.T) {
	_, ok := Select(nil, "racer", "")
	assert.False(t, ok)
}

func TestSelection(t *testing.T) {
	s := NewSelection("racer", "")
	assert.False(t, s.Loaded())
	assert.Equal(t, Pending, s.Outcome())

	empty := s.Apply(nil)
	assert.True(t, empty.Loaded())
	assert.Equal(t, 0, empty.Count())
	assert.Equal(t, Pending, empty.Outcome())

	full := s.Apply(catalog)
	m, ok := full.Model()
	require.True(t, ok)
	assert.Equal(t, Selected, full.Outcome())
	assert.Equal(t, catalog[1], m)
	assert.Equal(t, len(catalog), full.Count())

	// the receiver is a value; applying did not change it
	assert.False(t, s.Loaded())

	missing := NewSelection("racer", "7.0").Apply(catalog)
	_, ok = missing.Model()
	assert.False(t, ok)
	assert.Equal(t, Unavailable, missing.Outcome())
}

func TestSelection_CopiesList(t *testing.T) {
	list := append([]domain.ModelDefinition(nil), catalog...)
	s := NewSelection("racer", "").Apply(list)
	list[1].Active = false

	m, ok := s.Model()
	require.True(t, ok)
	assert.True(t, m.Active)
}
