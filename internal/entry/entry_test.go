package entry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		isDir     bool
		hasWebInf bool
		want      Kind
	}{
		{"app.war", false, false, KindWar},
		{"lib/a.JAR", false, false, KindJar},
		{"x.ear", false, false, KindEar},
		{"x.rar", false, false, KindRar},
		{"bundle.zip", false, false, KindZip},
		{"readme.txt", false, false, KindUnknown},
		{"exploded", true, true, KindWebDirectory},
		{"exploded.war", true, false, KindDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.name, tt.isDir, tt.hasWebInf))
		})
	}
	assert.True(t, KindWar.IsArchive())
	assert.False(t, KindWebDirectory.IsArchive())
}

func newEntry(t *testing.T, path string, opts Options) Entry {
	t.Helper()
	res, err := resource.FromFile(path)
	require.NoError(t, err)
	e, err := New(res, opts)
	require.NoError(t, err)
	return e
}

func TestNewRejectsUnknownFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	res, err := resource.FromFile(path)
	require.NoError(t, err)

	_, err = New(res, Options{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestScanArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.war")
	appWar(t, path)

	e := newEntry(t, path, Options{})
	assert.Equal(t, KindWar, e.Kind())
	require.NoError(t, e.Scan(context.Background()))

	gen := e.Generator()
	require.NotNil(t, gen)
	assert.True(t, gen.IsTemplateFile("WEB-INF/web.xml.vm"))
	assert.True(t, gen.IsDestFile("WEB-INF/web.xml"))
	assert.True(t, gen.IsDescriptorLogFile("META-INF/auto-config.xml.log"))

	children := e.Children()
	require.Len(t, children, 1, "packages without descriptors are filtered out")
	inner := children[0]
	assert.Equal(t, "WEB-INF/lib/inner.jar", inner.Resource().Name)
	assert.Equal(t, KindJar, inner.Kind())
	assert.True(t, inner.Generator().IsDestFile("config.properties"))

	_, err := inner.Generate(context.Background(), mapLookup{})
	assert.True(t, core.IsKind(err, core.KindState))
}

func TestGenerateWarInPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.war")
	appWar(t, path)
	before := readArchive(t, path)

	e := newEntry(t, path, Options{})
	ok, err := e.Generate(context.Background(), mapLookup{"app.name": "shop"})
	require.NoError(t, err)
	assert.True(t, ok)

	after := readArchive(t, path)

	assert.Equal(t, 1, after.count("WEB-INF/web.xml"))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?><web-app name="shop"/>`, string(after.content["WEB-INF/web.xml"]))
	assert.Equal(t, before.content["WEB-INF/web.xml.vm"], after.content["WEB-INF/web.xml.vm"])

	log := string(after.content["META-INF/auto-config.xml.log"])
	assert.Contains(t, log, "WEB-INF/web.xml.vm => WEB-INF/web.xml [UTF-8 -> UTF-8]")
	assert.NotContains(t, log, "stale")
	assert.Equal(t, 1, after.count("META-INF/auto-config.xml.log"))

	for _, name := range []string{"images/logo.png", "index.html", "WEB-INF/lib/plain.jar", "META-INF/auto-config.xml"} {
		b, a := before.files[name], after.files[name]
		require.NotNil(t, a, name)
		assert.Equal(t, b.Method, a.Method, name)
		assert.Equal(t, b.CRC32, a.CRC32, name)
		assert.Equal(t, b.CompressedSize64, a.CompressedSize64, name)
		assert.Equal(t, before.content[name], after.content[name], name)
	}
	assert.Equal(t, 1, after.count("WEB-INF/"))

	inner := openArchive(t, after.content["WEB-INF/lib/inner.jar"])
	assert.Equal(t, "name=shop\n", string(inner.content["config.properties"]))
	assert.Equal(t, before.files["WEB-INF/lib/inner.jar"].Method, after.files["WEB-INF/lib/inner.jar"].Method)
	assert.Zero(t, after.files["WEB-INF/lib/inner.jar"].Flags&0x8, "stored jar must not use a data descriptor")
	assert.Contains(t, string(inner.content["META-INF/auto-config.xml.log"]), "config.properties.vm => config.properties")
	assert.Equal(t, "\xca\xfe\xba\xbe", string(inner.content["com/example/App.class"]))

	assertNoTempFiles(t, dir)
}

func TestGenerateToOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.war")
	appWar(t, path)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	out := filepath.Join(dir, "dist", "app-prod.war")
	e := newEntry(t, path, Options{})
	e.SetOutput(out)

	ok, err := e.Generate(context.Background(), mapLookup{"app.name": "prod"})
	require.NoError(t, err)
	assert.True(t, ok)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)

	generated := readArchive(t, out)
	assert.Contains(t, string(generated.content["WEB-INF/web.xml"]), `name="prod"`)
	assertNoTempFiles(t, filepath.Dir(out))
}

func TestGenerateUnresolvedIsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.war")
	appWar(t, path)

	e := newEntry(t, path, Options{})
	ok, err := e.Generate(context.Background(), mapLookup{})
	require.NoError(t, err)
	assert.False(t, ok)

	after := readArchive(t, path)
	assert.Contains(t, string(after.content["WEB-INF/web.xml"]), `name="${app.name}"`)
	assert.Contains(t, string(after.content["META-INF/auto-config.xml.log"]), "unresolved: app.name")
}

type lockedFS struct {
	core.RealFS
	failures int
	calls    int
}

func (f *lockedFS) Rename(oldpath, newpath string) error {
	f.calls++
	if f.failures < 0 || f.calls <= f.failures {
		return errors.New("the process cannot access the file because it is being used by another process")
	}
	return os.Rename(oldpath, newpath)
}

func TestAtomicReplaceRetries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.war")
	appWar(t, path)

	fsys := &lockedFS{failures: 2}
	e := newEntry(t, path, Options{FS: fsys, ReplaceAttempts: 5, ReplacePause: time.Millisecond})
	ok, err := e.Generate(context.Background(), mapLookup{"app.name": "shop"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, fsys.calls)

	after := readArchive(t, path)
	assert.Contains(t, string(after.content["WEB-INF/web.xml"]), `name="shop"`)
	assertNoTempFiles(t, dir)
}

func TestAtomicReplaceExhausted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.war")
	appWar(t, path)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	fsys := &lockedFS{failures: -1}
	e := newEntry(t, path, Options{FS: fsys, ReplaceAttempts: 3, ReplacePause: time.Millisecond})
	_, err = e.Generate(context.Background(), mapLookup{"app.name": "shop"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindReplace))
	assert.Contains(t, err.Error(), path)
	assert.Equal(t, 3, fsys.calls)

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)
	assertNoTempFiles(t, dir)
}

func TestMissingTemplateFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.jar")
	writeZip(t, path,
		file("META-INF/auto-config.xml", `<config><script><generate template="absent.vm" destfile="absent.txt"/></script></config>`),
		file("data.txt", "data"),
	)
	original, err := os.ReadFile(path)
	require.NoError(t, err)

	e := newEntry(t, path, Options{})
	_, err = e.Generate(context.Background(), mapLookup{})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindMissingTemplate))
	assert.Contains(t, err.Error(), "absent.vm")
	assert.Contains(t, err.Error(), "lib.jar!/META-INF/auto-config.xml")

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, current)
	assertNoTempFiles(t, dir)
}

func TestLazyDoubleDutyInArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.war")
	writeZip(t, path,
		file("META-INF/auto-config.xml", `<config><script>
			<generate template="WEB-INF/web.xml.vm" destfile="WEB-INF/web.xml" charset="UTF-8"/>
			<generate template="WEB-INF/web.xml" destfile="WEB-INF/web-summary.txt" charset="UTF-8"/>
		</script></config>`),
		file("WEB-INF/web.xml", "<web-app>{{ .env }}</web-app>"),
		file("WEB-INF/web.xml.vm", "<generated>{{ .env }}</generated>"),
	)

	e := newEntry(t, path, Options{})
	ok, err := e.Generate(context.Background(), mapLookup{"env": "prod"})
	require.NoError(t, err)
	assert.True(t, ok)

	after := readArchive(t, path)
	assert.Equal(t, 1, after.count("WEB-INF/web.xml"))
	assert.Equal(t, "<generated>prod</generated>", string(after.content["WEB-INF/web.xml"]))
	assert.Equal(t, "<web-app>prod</web-app>", string(after.content["WEB-INF/web-summary.txt"]))
	assert.Equal(t, "<web-app>{{ .env }}</web-app>", string(after.content["META-INF/WEB-INF/web.xml"]))
	assert.Equal(t, 1, after.count("META-INF/"))
	assert.Equal(t, 1, after.count("META-INF/WEB-INF/"))
}

func TestGenerateCancelled(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.war")
	appWar(t, path)

	e := newEntry(t, path, Options{})
	require.NoError(t, e.Scan(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Generate(ctx, mapLookup{"app.name": "shop"})
	assert.ErrorIs(t, err, context.Canceled)
	assertNoTempFiles(t, dir)
}

type recordingBackup struct{ paths []string }

func (b *recordingBackup) Backup(path string) (string, error) {
	b.paths = append(b.paths, path)
	return path + ".bak", nil
}

func TestBackupBeforeReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.war")
	appWar(t, path)

	backup := &recordingBackup{}
	e := newEntry(t, path, Options{Backup: backup})
	_, err := e.Generate(context.Background(), mapLookup{"app.name": "shop"})
	require.NoError(t, err)
	assert.Equal(t, []string{path}, backup.paths)
}
