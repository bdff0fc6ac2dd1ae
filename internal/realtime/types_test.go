package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		scope   string
		want    Key
		wantErr error
	}{
		{"projects", KindProjects, "", "projects", nil},
		{"requirements", KindRequirementsByProject, "P1", "requirements:P1", nil},
		{"uuid scope", KindRequirementsByProject, "6f1c2a9e-0b7d-4d51-9f0e-1a2b3c4d5e6f", "requirements:6f1c2a9e-0b7d-4d51-9f0e-1a2b3c4d5e6f", nil},
		{"projects with scope", KindProjects, "P1", "", ErrUnexpectedScope},
		{"requirements without scope", KindRequirementsByProject, "", "", ErrMissingScope},
		{"scope with filter syntax", KindRequirementsByProject, "P1&x=1", "", ErrInvalidScope},
		{"unknown kind", Kind("specs"), "", "", ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := KeyFor(tt.kind, tt.scope)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.kind, got.Kind())
			assert.Equal(t, tt.scope, got.Scope())
		})
	}
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindProjects.Valid())
	assert.True(t, KindRequirementsByProject.Valid())
	assert.False(t, Kind("").Valid())
	assert.True(t, KindRequirementsByProject.Scoped())
	assert.False(t, KindProjects.Scoped())
}

func TestSpecFor(t *testing.T) {
	assert.Equal(t, TableSpec{Schema: "public", Table: "projects"}, SpecFor("", KindProjects, ""))
	assert.Equal(t,
		TableSpec{Schema: "public", Table: "requirements", Filter: "project_id=eq.P1"},
		SpecFor("public", KindRequirementsByProject, "P1"))
}

func TestChangeEvent_RecordID(t *testing.T) {
	assert.Equal(t, "R1", ChangeEvent{New: Record{"id": "R1"}}.RecordID())
	assert.Equal(t, "42", ChangeEvent{New: Record{"id": float64(42)}}.RecordID())
	assert.Equal(t, "1000000", ChangeEvent{New: Record{"id": float64(1000000)}}.RecordID())
	assert.Equal(t, "9007199254740993", ChangeEvent{New: Record{"id": json.Number("9007199254740993")}}.RecordID())
	assert.Equal(t, "R2", ChangeEvent{Old: Record{"id": "R2"}}.RecordID())
	assert.Equal(t, "R3", ChangeEvent{New: Record{"title": "x"}, Old: Record{"id": "R3"}}.RecordID())
	assert.Empty(t, ChangeEvent{}.RecordID())
}

func TestChangeEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		evt     ChangeEvent
		wantErr bool
	}{
		{"insert", ChangeEvent{EventType: EventInsert, Table: "projects", New: Record{"id": 1}}, false},
		{"delete", ChangeEvent{EventType: EventDelete, Table: "projects", Old: Record{"id": 1}}, false},
		{"bad type", ChangeEvent{EventType: "TRUNCATE", Table: "projects", New: Record{"id": 1}}, true},
		{"no table", ChangeEvent{EventType: EventInsert, New: Record{"id": 1}}, true},
		{"delete without old", ChangeEvent{EventType: EventDelete, Table: "projects"}, true},
		{"update without new", ChangeEvent{EventType: EventUpdate, Table: "projects", Old: Record{"id": 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType("update")
	require.NoError(t, err)
	assert.Equal(t, EventUpdate, got)
	assert.Equal(t, "update", got.Subject())

	_, err = ParseEventType("truncate")
	assert.Error(t, err)
	assert.Equal(t, "unknown", EventType("TRUNCATE").Subject())
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"P1", "P1"},
		{float64(7), "7"},
		{float64(1e6), "1000000"},
		{float64(1.5), "1.5"},
		{float32(2.25), "2.25"},
		{json.Number("12345678901234567890"), "12345678901234567890"},
		{int64(-3), "-3"},
		{true, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.in))
		})
	}
}

func TestFilter(t *testing.T) {
	f, err := ParseFilter("project_id=eq.P1")
	require.NoError(t, err)
	assert.Equal(t, Filter{Column: "project_id", Value: "P1"}, f)
	assert.Equal(t, "project_id=eq.P1", f.String())

	assert.True(t, f.Match(ChangeEvent{EventType: EventInsert, New: Record{"project_id": "P1"}}))
	assert.False(t, f.Match(ChangeEvent{EventType: EventInsert, New: Record{"project_id": "P2"}}))
	assert.True(t, f.Match(ChangeEvent{EventType: EventDelete, New: Record{"project_id": "P2"}, Old: Record{"project_id": "P1"}}))
	assert.False(t, f.Match(ChangeEvent{EventType: EventUpdate, New: Record{"title": "x"}}))

	numeric, err := ParseFilter("project_id=eq.7")
	require.NoError(t, err)
	assert.True(t, numeric.Match(ChangeEvent{EventType: EventInsert, New: Record{"project_id": float64(7)}}))

	large, err := ParseFilter("project_id=eq.1234567")
	require.NoError(t, err)
	var evt ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(`{"eventType":"INSERT","new":{"id":1000000,"project_id":1234567}}`), &evt))
	assert.True(t, large.Match(evt))
	assert.Equal(t, "1000000", evt.RecordID())
	assert.True(t, large.Match(ChangeEvent{EventType: EventInsert, New: Record{"project_id": json.Number("1234567")}}))

	all, err := ParseFilter("")
	require.NoError(t, err)
	assert.True(t, all.Empty())
	assert.True(t, all.Match(ChangeEvent{}))

	for _, bad := range []string{"project_id", "=eq.P1", "project_id=neq.P1", "project_id=eq."} {
		_, err := ParseFilter(bad)
		assert.ErrorIs(t, err, ErrInvalidFilter, bad)
	}
}
