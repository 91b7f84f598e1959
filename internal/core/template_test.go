package core

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapLookup map[string]any

func (m mapLookup) Get(key string) (any, bool) {
	v, ok := m[key]
	return v, ok
}

func (m mapLookup) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func TestSprigRenderer_Render(t *testing.T) {
	global := mapLookup{
		"app.port":  "8080",
		"app.name":  "shop",
		"db_url":    "jdbc:mysql://db",
		"app.debug": "true",
	}

	tests := []struct {
		name       string
		local      map[string]any
		text       string
		want       string
		unresolved []string
	}{
		{
			name: "nested dotted keys",
			text: "port={{ .app.port }} name={{ .app.name }}",
			want: "port=8080 name=shop",
		},
		{
			name: "prop helper",
			text: `{{ prop "app.port" }}/{{ .db_url }}`,
			want: "8080/jdbc:mysql://db",
		},
		{
			name:  "local layer wins",
			local: map[string]any{"db_url": "local"},
			text:  "{{ .db_url }}",
			want:  "local",
		},
		{
			name:       "unresolved field is kept literally",
			text:       "a={{ .missing.key }} b={{ .app.port }}",
			want:       "a=${missing.key} b=8080",
			unresolved: []string{"missing.key"},
		},
		{
			name:       "unresolved prop",
			text:       `{{ prop "nope" }}`,
			want:       "${nope}",
			unresolved: []string{"nope"},
		},
		{
			name: "sprig functions",
			text: `{{ .app.name | upper }} {{ propOr "absent" "x" }}`,
			want: "SHOP x",
		},
		{
			name:       "missing field is false in a condition",
			text:       "{{ if .debug }}DEBUG ON{{ else }}debug off{{ end }}",
			want:       "debug off",
			unresolved: []string{"debug"},
		},
		{
			name:       "missing field falls back to default",
			text:       `port={{ .port | default "80" }}`,
			want:       "port=80",
			unresolved: []string{"port"},
		},
		{
			name:       "missing nested field skips with body",
			text:       "{{ with .feature.flag }}on{{ else }}none{{ end }}",
			want:       "none",
			unresolved: []string{"feature.flag"},
		},
		{
			name:       "condition and print of the same missing field",
			text:       "{{ if .x }}set{{ end }}[{{ .x }}]",
			want:       "[${x}]",
			unresolved: []string{"x"},
		},
		{
			name:       "missing field piped through a function",
			text:       "{{ .nope | upper }}",
			want:       "${NOPE}",
			unresolved: []string{"nope"},
		},
		{
			name:       "present field in a condition",
			text:       "{{ if .app.debug }}on{{ end }} {{ $.app.name }} {{ $.gone }}",
			want:       "on shop ${gone}",
			unresolved: []string{"gone"},
		},
		{
			name: "range body fields are not root references",
			text: `{{ range $i, $v := list "a" "b" }}{{ $v }}{{ end }}`,
			want: "ab",
		},
	}

	r := &SprigRenderer{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx := NewLayeredContext(tt.local, global)
			unresolved, err := r.Render(tt.name, tt.text, ctx, &buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.String())
			if tt.unresolved == nil {
				assert.Empty(t, unresolved)
			} else {
				assert.Equal(t, tt.unresolved, unresolved)
			}
		})
	}
}

func TestSprigRenderer_ParseError(t *testing.T) {
	r := &SprigRenderer{}
	var buf bytes.Buffer
	_, err := r.Render("bad", "{{ .a ", NewLayeredContext(nil, mapLookup{}), &buf)
	assert.Error(t, err)
	assert.Empty(t, buf.String())
}

func TestLayeredContext(t *testing.T) {
	ctx := NewLayeredContext(map[string]any{"a": 1}, mapLookup{"a": 2, "b": 3})
	ctx.Put("c", 4)

	v, ok := ctx.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, _ = ctx.Get("b")
	assert.Equal(t, 3, v)

	_, ok = ctx.Get("zzz")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, ctx.Keys())
}
