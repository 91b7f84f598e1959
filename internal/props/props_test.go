package props

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih-ucgun/autoconfig/internal/crypto"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLayering(t *testing.T) {
	s := New()
	s.SetDefault("shop", "default")
	s.SetDefault("shop", "ignored")
	s.SetDefault("port", "80")

	path := writeFile(t, "app.properties", "shop=from-file\nhost=example.org\n")
	require.NoError(t, s.LoadFile(path))
	require.NoError(t, s.ParseAssignment("host=override"))

	v, ok := s.Get("shop")
	require.True(t, ok)
	assert.Equal(t, "from-file", v)

	v, _ = s.Get("host")
	assert.Equal(t, "override", v)

	v, _ = s.Get("port")
	assert.Equal(t, "80", v)

	_, ok = s.Get("absent")
	assert.False(t, ok)

	assert.Equal(t, []string{"host", "port", "shop"}, s.Keys())
}

func TestParseAssignmentInvalid(t *testing.T) {
	s := New()
	assert.Error(t, s.ParseAssignment("novalue"))
	assert.Error(t, s.ParseAssignment("=x"))
	assert.NoError(t, s.ParseAssignment("empty="))
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "props.yaml", "app:\n  name: shop\n  port: 8080\n  hosts:\n    - a\n    - b\n")
	s := New()
	require.NoError(t, s.LoadFile(path))

	v, _ := s.Get("app.name")
	assert.Equal(t, "shop", v)
	v, _ = s.Get("app.port")
	assert.Equal(t, "8080", v)
	v, _ = s.Get("app.hosts")
	assert.Equal(t, "a,b", v)
}

func TestInterpolation(t *testing.T) {
	s := New()
	s.Set("app.host", "example.org")
	s.Set("app.port", "8080")
	s.Set("url", "http://${app.host}:${app.port}/")
	s.Set("next", "${app.port + 1}")
	s.Set("unknown", "x-${nothing.here}")
	s.Set("loop.a", "${loop.b}")
	s.Set("loop.b", "${loop.a}")

	v, _ := s.Get("url")
	assert.Equal(t, "http://example.org:8080/", v)

	v, _ = s.Get("next")
	assert.Equal(t, 8081, v)

	v, _ = s.Get("unknown")
	assert.Equal(t, "x-${nothing.here}", v)

	v, _ = s.Get("loop.a")
	assert.Equal(t, "${loop.a}", v)
}

func TestEncryptedValues(t *testing.T) {
	c, err := crypto.NewCipher("master")
	require.NoError(t, err)
	sealed, err := c.Encrypt("s3cret")
	require.NoError(t, err)

	s := New()
	s.Set("db.password", sealed)
	assert.Error(t, s.Check())

	v, _ := s.Get("db.password")
	assert.Equal(t, sealed, v)

	s.WithCipher(c)
	require.NoError(t, s.Check())
	v, _ = s.Get("db.password")
	assert.Equal(t, "s3cret", v)

	raw, _ := s.Raw("db.password")
	assert.Equal(t, sealed, raw)
}

func TestDescriptorDefaultsAndRequired(t *testing.T) {
	d := descriptor.New("META-INF/auto-config.xml", "test")
	d.Properties = []descriptor.Property{
		{Name: "shop", DefaultValue: "demo"},
		{Name: "db.url", Required: true},
		{Name: "db.user", Required: true, DefaultValue: "sa"},
	}

	s := New()
	s.ApplyDescriptorDefaults(d)
	s.Set("shop", "live")

	v, _ := s.Get("shop")
	assert.Equal(t, "live", v)
	assert.Equal(t, []string{"db.url"}, s.MissingRequired(d))

	s.Set("db.url", "jdbc:h2:mem")
	assert.Empty(t, s.MissingRequired(d))
}
