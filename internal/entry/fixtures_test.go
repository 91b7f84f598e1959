package entry

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

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
	sort.Strings(keys)
	return keys
}

type zfile struct {
	name   string
	body   []byte
	method uint16
}

func file(name, body string) zfile {
	return zfile{name: name, body: []byte(body), method: zip.Deflate}
}

func stored(name string, body []byte) zfile {
	return zfile{name: name, body: body, method: zip.Store}
}

func dir(name string) zfile {
	return zfile{name: name, method: zip.Store}
}

func zipBytes(t *testing.T, files ...zfile) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: f.method})
		require.NoError(t, err)
		if !strings.HasSuffix(f.name, "/") {
			_, err = w.Write(f.body)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeZip(t *testing.T, path string, files ...zfile) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, zipBytes(t, files...), 0o644))
}

type archive struct {
	names   []string
	files   map[string]*zip.File
	content map[string][]byte
}

func openArchive(t *testing.T, data []byte) archive {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	a := archive{files: make(map[string]*zip.File), content: make(map[string][]byte)}
	for _, f := range zr.File {
		a.names = append(a.names, f.Name)
		a.files[f.Name] = f
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		a.content[f.Name] = body
	}
	return a
}

func readArchive(t *testing.T, path string) archive {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return openArchive(t, data)
}

func (a archive) count(name string) int {
	n := 0
	for _, x := range a.names {
		if x == name {
			n++
		}
	}
	return n
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temporary file left behind: %s", e.Name())
	}
}

const warDescriptor = `<?xml version="1.0" encoding="UTF-8"?>
<config description="shop web app">
  <group name="app">
    <property name="app.name" defaultValue="shop" required="true"/>
  </group>
  <script>
    <generate template="WEB-INF/web.xml.vm" destfile="WEB-INF/web.xml"/>
  </script>
</config>`

const jarDescriptor = `<config>
  <script>
    <generate template="config.properties.vm" destfile="config.properties" charset="UTF-8"/>
  </script>
</config>`

func innerJar(t *testing.T) []byte {
	return zipBytes(t,
		dir("META-INF/"),
		file("META-INF/auto-config.xml", jarDescriptor),
		file("config.properties.vm", "name={{ .app.name }}\n"),
		file("com/example/App.class", "\xca\xfe\xba\xbe"),
	)
}

func appWar(t *testing.T, path string) {
	writeZip(t, path,
		dir("META-INF/"),
		file("META-INF/auto-config.xml", warDescriptor),
		dir("WEB-INF/"),
		file("WEB-INF/web.xml.vm", `<?xml version="1.0" encoding="UTF-8"?><web-app name="{{ .app.name }}"/>`),
		file("WEB-INF/web.xml", `<web-app name="literal"/>`),
		file("META-INF/auto-config.xml.log", "stale log"),
		dir("WEB-INF/lib/"),
		stored("WEB-INF/lib/inner.jar", innerJar(t)),
		stored("WEB-INF/lib/plain.jar", zipBytes(t, file("x.txt", "plain"))),
		stored("images/logo.png", []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 3}),
		file("index.html", "<h1>{{ not a template }}</h1>"),
	)
}
