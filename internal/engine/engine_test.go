package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih-ucgun/autoconfig/internal/backup"
	"github.com/melih-ucgun/autoconfig/internal/config"
	"github.com/melih-ucgun/autoconfig/internal/consts"
	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/crypto"
	"github.com/melih-ucgun/autoconfig/internal/remote"
)

const descriptorXML = `<config>
  <group name="app">
    <property name="app.name" defaultValue="shop"/>
  </group>
  <script>
    <generate template="WEB-INF/app.properties.vm" destfile="WEB-INF/app.properties" charset="UTF-8"/>
  </script>
</config>`

func writeWar(t *testing.T, path, template string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"META-INF/auto-config.xml":  descriptorXML,
		"WEB-INF/app.properties.vm": template,
		"index.html":                "<h1>hello</h1>",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func readEntry(t *testing.T, path, name string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	t.Fatalf("%s not found in %s", name, path)
	return ""
}

func isolate(t *testing.T) {
	t.Setenv(consts.EnvHome, t.TempDir())
	t.Setenv(consts.EnvMasterKey, "")
}

func newRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	r, err := NewRunner(opts)
	require.NoError(t, err)
	return r
}

func TestRunPropertyPrecedence(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	propsFile := filepath.Join(dir, "prod.properties")
	require.NoError(t, os.WriteFile(propsFile, []byte("app.port=8443\n"), 0o644))

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"descriptor default", Options{}, "name=shop"},
		{"config property", Options{Config: withProps(map[string]string{"app.name": "cfg"})}, "name=cfg"},
		{"override", Options{Config: withProps(map[string]string{"app.name": "cfg"}), Overrides: []string{"app.name=cli"}}, "name=cli"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			war := filepath.Join(t.TempDir(), "app.war")
			writeWar(t, war, "name={{ .app.name }}\nport={{ .app.port }}\n")

			tt.opts.PropertyFiles = []string{propsFile}
			results, err := newRunner(t, tt.opts).Run(context.Background(), []string{war})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.True(t, results[0].Succeeded, results[0].Message)

			got := readEntry(t, war, "WEB-INF/app.properties")
			assert.Contains(t, got, tt.want)
			assert.Contains(t, got, "port=8443")
		})
	}
}

func withProps(p map[string]string) *config.Config {
	cfg := config.Default()
	cfg.Properties = p
	return cfg
}

func TestRunIncompleteAndFailure(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	war := filepath.Join(dir, "app.war")
	writeWar(t, war, "port={{ .app.port }}\n")
	missing := filepath.Join(dir, "gone.war")

	results, err := newRunner(t, Options{}).Run(context.Background(), []string{war, missing})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Succeeded)
	assert.False(t, results[0].Failed)
	assert.Contains(t, readEntry(t, war, "WEB-INF/app.properties"), "${app.port}")

	assert.True(t, results[1].Failed)
	assert.True(t, core.IsKind(results[1].Error, core.KindIO))
}

func TestRunOutputNeedsSinglePackage(t *testing.T) {
	isolate(t)
	_, err := newRunner(t, Options{Output: "out.war"}).Run(context.Background(), []string{"a.war", "b.war"})
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindConfig))
}

func TestRunEncryptedProperty(t *testing.T) {
	isolate(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := crypto.NewCipher(key)
	require.NoError(t, err)
	secret, err := c.Encrypt("s3cr3t")
	require.NoError(t, err)

	war := filepath.Join(t.TempDir(), "app.war")
	writeWar(t, war, "password={{ .db.password }}\n")

	r := newRunner(t, Options{MasterKey: key, Overrides: []string{"db.password=" + secret}})
	results, err := r.Run(context.Background(), []string{war})
	require.NoError(t, err)
	assert.True(t, results[0].Succeeded, results[0].Message)
	assert.Equal(t, "password=s3cr3t\n", readEntry(t, war, "WEB-INF/app.properties"))

	noKey := newRunner(t, Options{Overrides: []string{"db.password=" + secret}})
	results, err = noKey.Run(context.Background(), []string{war})
	require.NoError(t, err)
	assert.True(t, results[0].Failed)
}

type dirStore struct {
	root    string
	uploads int
	closed  bool
}

func (s *dirStore) Download(_ context.Context, loc remote.Location, localPath string) error {
	return core.CopyFile(&core.RealFS{}, filepath.Join(s.root, loc.Path), localPath)
}

func (s *dirStore) Upload(_ context.Context, loc remote.Location, localPath string) error {
	s.uploads++
	return core.CopyFile(&core.RealFS{}, localPath, filepath.Join(s.root, loc.Path))
}

func (s *dirStore) Close() error {
	s.closed = true
	return nil
}

func TestRunRemotePackage(t *testing.T) {
	isolate(t)
	store := &dirStore{root: t.TempDir()}
	served := filepath.Join(store.root, "apps", "app.war")
	writeWar(t, served, "name={{ .app.name }}\n")

	r := newRunner(t, Options{Overrides: []string{"app.name=remote"}})
	r.open = func(context.Context, remote.Location, config.RemoteConfig, func(string) (string, error)) (remote.Store, error) {
		return store, nil
	}

	results, err := r.Run(context.Background(), []string{"sftp://deploy@app01/apps/app.war"})
	require.NoError(t, err)
	assert.True(t, results[0].Succeeded, results[0].Message)
	assert.Equal(t, 1, store.uploads)
	assert.True(t, store.closed)
	assert.Equal(t, "name=remote\n", readEntry(t, served, "WEB-INF/app.properties"))
}

func TestRunRemotePackageKeepsNoBackup(t *testing.T) {
	isolate(t)
	store := &dirStore{root: t.TempDir()}
	writeWar(t, filepath.Join(store.root, "apps", "app.war"), "name={{ .app.name }}\n")
	local := filepath.Join(t.TempDir(), "local.war")
	writeWar(t, local, "name={{ .app.name }}\n")

	cfg := config.Default()
	cfg.Backup.Enabled = true
	cfg.Backup.Dir = t.TempDir()
	r := newRunner(t, Options{Config: cfg})
	r.open = func(context.Context, remote.Location, config.RemoteConfig, func(string) (string, error)) (remote.Store, error) {
		return store, nil
	}

	results, err := r.Run(context.Background(), []string{"s3://bucket/apps/app.war"})
	require.NoError(t, err)
	assert.True(t, results[0].Succeeded, results[0].Message)
	assert.Equal(t, 1, store.uploads)

	m, err := backup.NewManager(cfg.Backup.Dir)
	require.NoError(t, err)
	runs, err := m.Runs()
	require.NoError(t, err)
	assert.Empty(t, runs)

	results, err = r.Run(context.Background(), []string{local})
	require.NoError(t, err)
	assert.True(t, results[0].Succeeded, results[0].Message)
	runs, err = m.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Items, 1)
	abs, err := filepath.Abs(local)
	require.NoError(t, err)
	assert.Equal(t, abs, runs[0].Items[0].Original)
}

func TestRunCancelled(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRunner(t, Options{}).Run(ctx, []string{"a.war"})
	assert.ErrorIs(t, err, context.Canceled)
}
