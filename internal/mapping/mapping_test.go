package mapping

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strikeoffetl/pkg/records"
)

func TestBuiltins(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"strike_off_objection", "strike_off_objection_attachment"}, Builtins())

	obj, err := Load("strike_off_objection")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"id", "created_on", "created_by_id", "created_by_email", "created_by_full_name",
		"created_by_share_identity", "company_number", "status", "status_changed_on",
		"reason", "action_code", "http_request_id", "links_self",
	}, obj.Columns())
	assert.False(t, obj.Nullable()["id"])
	assert.True(t, obj.Nullable()["reason"])

	att, err := Load("strike_off_objection_attachment")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"id", "strike_off_objection_id", "name", "content_type", "size", "link_self", "link_download",
	}, att.Columns())
	assert.False(t, att.Nullable()["strike_off_objection_id"])
}

func TestLoad_FileAndMissing(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "m.yaml")
	require.NoError(t, os.WriteFile(p, []byte("version: 1\ntable: t\nfields:\n  - {source: a, source_type: string, dest: b, dest_type: string}\n"), 0o644))

	m, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "t", m.Table)

	_, err = Load(filepath.Join(t.TempDir(), "none.yaml"))
	assert.ErrorContains(t, err, "not a builtin")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		doc string
		msg string
	}{
		"bad version":   {"version: 2\ntable: t\nfields:\n  - {source: a, source_type: string, dest: a, dest_type: string}\n", "unsupported version"},
		"no table":      {"version: 1\nfields:\n  - {source: a, source_type: string, dest: a, dest_type: string}\n", "table must not be empty"},
		"no fields":     {"version: 1\ntable: t\n", "no fields"},
		"unknown type":  {"version: 1\ntable: t\nfields:\n  - {source: a, source_type: string, dest: a, dest_type: date}\n", "unknown dest_type"},
		"duplicate col": {"version: 1\ntable: t\nfields:\n  - {source: a, source_type: string, dest: x, dest_type: string}\n  - {source: b, source_type: string, dest: x, dest_type: string}\n", "mapped more than once"},
		"unknown key":   {"version: 1\ntable: t\nfields:\n  - {src: a}\n", "decode"},
	}
	for name, tt := range tests {
		_, err := Parse([]byte(tt.doc))
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), tt.msg, name)
	}
}

func TestApply_Objection(t *testing.T) {
	t.Parallel()

	m, err := Load("strike_off_objection")
	require.NoError(t, err)

	rows := []records.Record{
		{
			"_id":                       "o1",
			"created_on.$date":          "2020-09-13T12:26:40.000Z",
			"created_by.email":          "a@example.com",
			"created_by.share_identity": true,
			"status":                    "OPEN",
			"status_changed_on.$date":   json.Number("1600000000000"),
			"action_code":               json.Number("3"),
			"links.linksMap.self":       "/o/1",
		},
		{
			"_id":                       "o2",
			"created_by.share_identity": "false",
			"action_code":               "12",
		},
	}

	rel, err := m.Apply(rows)
	require.NoError(t, err)
	assert.Equal(t, "strike_off_objection", rel.Name)
	require.Len(t, rel.Rows, 2)

	r0 := rel.Records()[0]
	want := time.Date(2020, 9, 13, 12, 26, 40, 0, time.UTC)
	assert.Equal(t, "o1", r0["id"])
	assert.True(t, want.Equal(r0["created_on"].(time.Time)))
	assert.True(t, want.Equal(r0["status_changed_on"].(time.Time)))
	assert.Equal(t, true, r0["created_by_share_identity"])
	assert.Equal(t, int64(3), r0["action_code"])
	assert.Nil(t, r0["reason"])

	r1 := rel.Records()[1]
	assert.Equal(t, false, r1["created_by_share_identity"])
	assert.Equal(t, int64(12), r1["action_code"])
	assert.Nil(t, r1["created_on"])
}

func TestApply_CoerceFailures(t *testing.T) {
	t.Parallel()

	m, err := Load("strike_off_objection")
	require.NoError(t, err)

	bad := []records.Record{
		{"_id": "o1", "action_code": "twelve"},
		{"_id": "o1", "action_code": json.Number("1.5")},
		{"_id": "o1", "created_by.share_identity": "maybe"},
		{"_id": "o1", "created_on.$date": "yesterday-ish"},
		{"_id": map[string]any{"nested": true}},
	}
	for i, r := range bad {
		_, err := m.Apply([]records.Record{r})
		assert.ErrorIs(t, err, ErrCoerce, "case %d", i)
	}
}

func TestProjection_IsIdempotent(t *testing.T) {
	t.Parallel()

	m, err := Load("strike_off_objection_attachment")
	require.NoError(t, err)

	rows := []records.Record{{
		"attachments.val.id":                      "a1",
		"_id":                                     "o1",
		"attachments.val.name":                    "x.pdf",
		"attachments.val.size":                    json.Number("2048"),
		"attachments.val.links.linksMap.download": "/d",
	}}
	rel, err := m.Apply(rows)
	require.NoError(t, err)

	again, err := m.Projection().Apply(rel.Records())
	require.NoError(t, err)
	assert.Equal(t, rel, again)
}

func TestCasters(t *testing.T) {
	t.Parallel()

	v, err := toInt(float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = toInt("010x")
	assert.ErrorIs(t, err, ErrCoerce)

	v, err = toInt("010")
	require.NoError(t, err)
	assert.Equal(t, int64(10), v, "base 10, not octal")

	v, err = toBoolean(json.Number("1"))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = toString(json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = toString(int64(5))
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	v, err = toTimestamp("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = toTimestamp("2021-03-04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC), v)
}
