package entry

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
	"github.com/melih-ucgun/autoconfig/internal/generator"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

// zipEntry is an archive package. A nested entry lives inside its parent's
// archive and is only ever scanned and generated through the parent.
type zipEntry struct {
	res    resource.Resource
	kind   Kind
	opts   Options
	output string
	nested bool

	gen      *generator.Generator
	children []*zipEntry
	byName   map[string]*zipEntry
}

func newZipEntry(res resource.Resource, kind Kind, opts Options) *zipEntry {
	return &zipEntry{res: res, kind: kind, opts: opts}
}

func (e *zipEntry) Resource() resource.Resource     { return e.res }
func (e *zipEntry) Kind() Kind                      { return e.kind }
func (e *zipEntry) Generator() *generator.Generator { return e.gen }
func (e *zipEntry) Output() string                  { return e.output }
func (e *zipEntry) SetOutput(path string)           { e.output = path }

func (e *zipEntry) Children() []Entry {
	out := make([]Entry, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c)
	}
	return out
}

func (e *zipEntry) empty() bool {
	return e.gen.Empty() && len(e.children) == 0
}

func (e *zipEntry) Scan(ctx context.Context) (err error) {
	if e.nested {
		return core.NewError(core.KindState, "scan", e.res.URL, fmt.Errorf("nested package is scanned by its parent"))
	}
	f, err := e.opts.FS.Open(e.res.File)
	if err != nil {
		return core.WrapIO("open archive", e.res.File, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.WrapIO("stat archive", e.res.File, err)
	}
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return core.WrapIO("read archive", e.res.File, err)
	}
	return e.scan(ctx, zr)
}

func (e *zipEntry) scan(ctx context.Context, zr *zip.Reader) error {
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	b := e.opts.builder()
	e.children = nil
	e.byName = make(map[string]*zipEntry)

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := f.Name
		if isDirName(name) {
			continue
		}

		switch {
		case matchAny(e.opts.DescriptorPatterns, name):
			if err := e.addDescriptor(b, f); err != nil {
				return err
			}
		case matchAny(e.opts.PackagePatterns, name):
			child, err := e.scanChild(ctx, f)
			if err != nil {
				return err
			}
			if child != nil {
				e.children = append(e.children, child)
				e.byName[name] = child
			}
		}
	}

	gen, err := b.Init()
	if err != nil {
		return err
	}
	e.gen = gen
	e.opts.Logger.Debug("scanned archive", "package", e.res.URL,
		"descriptors", len(gen.Descriptors()), "templates", len(gen.TemplateNames()), "packages", len(e.children))
	return nil
}

func (e *zipEntry) addDescriptor(b *generator.Builder, f *zip.File) (err error) {
	rc, err := f.Open()
	if err != nil {
		return core.WrapIO("open descriptor", f.Name, err)
	}
	defer rc.Close()
	_, err = b.AddDescriptor(e.res.Child(f.Name, true), rc)
	return err
}

func (e *zipEntry) scanChild(ctx context.Context, f *zip.File) (*zipEntry, error) {
	data, err := readEntry(f)
	if err != nil {
		return nil, core.WrapIO("read nested package", f.Name, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		e.opts.Logger.Debug("not an archive, kept as plain file", "entry", f.Name, "error", err)
		return nil, nil
	}

	kind := Classify(f.Name, false, false)
	if kind == KindUnknown {
		kind = KindZip
	}
	child := &zipEntry{res: e.res.Child(f.Name, true), kind: kind, opts: e.opts, nested: true}
	if err := child.scan(ctx, zr); err != nil {
		return nil, err
	}
	if child.empty() {
		return nil, nil
	}
	return child, nil
}

// Generate writes the rewritten archive to a temporary file next to the
// target and moves it into place. The source is left untouched on failure.
func (e *zipEntry) Generate(ctx context.Context, props core.Lookup) (ok bool, err error) {
	if e.nested {
		return false, core.NewError(core.KindState, "generate", e.res.URL, fmt.Errorf("nested package is generated by its parent"))
	}
	if e.gen == nil {
		if err := e.Scan(ctx); err != nil {
			return false, err
		}
	}

	target := e.res.File
	inPlace := e.output == "" || samePath(e.output, e.res.File)
	if !inPlace {
		target = e.output
		if err := e.opts.FS.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return false, core.WrapIO("create output directory", filepath.Dir(target), err)
		}
	}

	tmp := tempPath(target)
	defer func() {
		if err != nil {
			if rerr := e.opts.FS.Remove(tmp); rerr != nil && !isNotExist(rerr) {
				e.opts.Logger.Warn("could not remove temporary archive", "path", tmp, "error", rerr)
			}
		}
	}()

	ok, err = e.writeTemp(ctx, tmp, props)
	if err != nil {
		return false, err
	}

	if inPlace && e.opts.Backup != nil {
		backup, err := e.opts.Backup.Backup(e.res.File)
		if err != nil {
			return false, core.WrapIO("backup", e.res.File, err)
		}
		e.opts.Logger.Debug("backed up archive", "path", e.res.File, "backup", backup)
	}

	if err := replaceFile(ctx, e.opts.FS, tmp, target, e.opts.ReplaceAttempts, e.opts.ReplacePause, e.opts.Logger); err != nil {
		return false, err
	}
	e.opts.Logger.Info("generated", "package", e.res.File, "output", target, "complete", ok)
	return ok, nil
}

func (e *zipEntry) writeTemp(ctx context.Context, tmp string, props core.Lookup) (ok bool, err error) {
	src, err := e.opts.FS.Open(e.res.File)
	if err != nil {
		return false, core.WrapIO("open archive", e.res.File, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return false, core.WrapIO("stat archive", e.res.File, err)
	}
	zr, err := zip.NewReader(src, info.Size())
	if err != nil {
		return false, core.WrapIO("read archive", e.res.File, err)
	}

	out, err := e.opts.FS.Create(tmp)
	if err != nil {
		return false, core.WrapIO("create temporary archive", tmp, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = core.WrapIO("close temporary archive", tmp, cerr)
		}
	}()

	ok, err = e.rewrite(ctx, zr, out, props)
	if err != nil {
		return false, err
	}
	if err := out.Sync(); err != nil {
		return false, core.WrapIO("sync temporary archive", tmp, err)
	}
	return ok, nil
}

// rewrite copies zr into w, rendering templates on the way. w is borrowed:
// the zip writer is finalized but w itself is never closed here.
func (e *zipEntry) rewrite(ctx context.Context, zr *zip.Reader, w io.Writer, props core.Lookup) (bool, error) {
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	sess, err := e.gen.StartSession(props, e.opts.sessionOptions())
	if err != nil {
		return false, err
	}
	defer sess.Close()

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	cb := newZipCallback(zw, zr)

	ok := true
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		name := f.Name
		child := e.byName[name]

		switch {
		case child != nil:
			childOK, err := e.rewriteChild(ctx, child, f, cb, props)
			if err != nil {
				return false, err
			}
			ok = ok && childOK

		case e.gen.IsTemplateFile(name) && e.gen.IsDestFile(name):
			data, err := readEntry(f)
			if err != nil {
				return false, core.WrapIO("read template", name, err)
			}
			if err := sess.AddLazyItem(name, data); err != nil {
				return false, err
			}

		case e.gen.IsTemplateFile(name):
			data, err := readEntry(f)
			if err != nil {
				return false, core.WrapIO("read template", name, err)
			}
			if err := cb.copyRaw(f); err != nil {
				return false, err
			}
			rendered, err := sess.GenerateRules(cb.shadowed(name, e.gen.Rules(name)), generator.WithSource(cb, data))
			if err != nil {
				return false, err
			}
			ok = ok && rendered

		case e.gen.IsDestFile(name):
			e.opts.Logger.Trace("superseded by generated file", "entry", name)

		case e.gen.IsDescriptorLogFile(name):
			// Regenerated after the pass.

		case isDirName(name):
			if err := cb.copyRaw(f); err != nil {
				return false, err
			}

		default:
			if err := cb.copyRaw(f); err != nil {
				return false, err
			}
		}
	}

	lazyOK, err := sess.GenerateLazyItems(cb)
	if err != nil {
		return false, err
	}
	if err := sess.WriteLogs(cb); err != nil {
		return false, err
	}
	if err := sess.CheckNonprocessedTemplates(); err != nil {
		return false, err
	}
	if err := zw.Close(); err != nil {
		return false, core.WrapIO("finalize archive", e.res.URL, err)
	}
	return ok && lazyOK && sess.Succeeded(), nil
}

func (e *zipEntry) rewriteChild(ctx context.Context, child *zipEntry, f *zip.File, cb *zipCallback, props core.Lookup) (bool, error) {
	data, err := readEntry(f)
	if err != nil {
		return false, core.WrapIO("read nested package", f.Name, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false, core.WrapIO("read nested package", f.Name, err)
	}

	hdr := f.FileHeader
	if hdr.Method != zip.Store {
		hdr.CRC32 = 0
		hdr.CompressedSize64 = 0
		hdr.UncompressedSize64 = 0
		w, err := cb.createHeader(&hdr)
		if err != nil {
			return false, err
		}
		return child.rewrite(ctx, zr, w, props)
	}

	// Stored entries must carry their sizes and CRC in the local header;
	// jar stream readers reject a stored entry followed by a data descriptor.
	var buf bytes.Buffer
	ok, err := child.rewrite(ctx, zr, &buf, props)
	if err != nil {
		return false, err
	}
	hdr.CRC32 = crc32.ChecksumIEEE(buf.Bytes())
	hdr.CompressedSize64 = uint64(buf.Len())
	hdr.UncompressedSize64 = uint64(buf.Len())
	hdr.Flags &^= 0x8
	w, err := cb.createRaw(&hdr)
	if err != nil {
		return false, err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return false, core.WrapIO("write nested package", f.Name, err)
	}
	return ok, nil
}

// zipCallback stores generated files in the output archive. Every name is
// written at most once; parent directories of generated files are added
// when the input archive has none.
type zipCallback struct {
	zw      *zip.Writer
	files   map[string]*zip.File
	written map[string]struct{}
}

func newZipCallback(zw *zip.Writer, zr *zip.Reader) *zipCallback {
	c := &zipCallback{
		zw:      zw,
		files:   make(map[string]*zip.File, len(zr.File)),
		written: make(map[string]struct{}),
	}
	for _, f := range zr.File {
		if _, dup := c.files[f.Name]; !dup {
			c.files[f.Name] = f
		}
	}
	return c
}

// shadowed drops the rules that name reaches by plain path when the
// archive also holds the rule's qualified template. That entry renders them.
func (c *zipCallback) shadowed(name string, rules []*descriptor.GenerateRule) []*descriptor.GenerateRule {
	out := rules[:0:0]
	for _, r := range rules {
		if r.QualifiedTemplate != name {
			if _, ok := c.files[r.QualifiedTemplate]; ok {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (c *zipCallback) OpenTemplate(rule *descriptor.GenerateRule) (io.ReadCloser, error) {
	for _, name := range []string{rule.QualifiedTemplate, rule.Template} {
		if f, ok := c.files[name]; ok {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("template %s not in archive", rule.Template)
}

func (c *zipCallback) CreateDest(rule *descriptor.GenerateRule) (io.WriteCloser, error) {
	return c.create(rule.Destfile)
}

func (c *zipCallback) CopyTemplate(name string, data []byte) error {
	if _, done := c.written[name]; done {
		return nil
	}
	return c.writeFile(name, data)
}

func (c *zipCallback) WriteLog(name string, data []byte) error {
	return c.writeFile(name, data)
}

func (c *zipCallback) Previous(dest string) ([]byte, bool) {
	f, ok := c.files[dest]
	if !ok {
		return nil, false
	}
	data, err := readEntry(f)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *zipCallback) writeFile(name string, data []byte) (err error) {
	w, err := c.create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = w.Write(data)
	return err
}

func (c *zipCallback) create(name string) (io.WriteCloser, error) {
	if _, done := c.written[name]; done {
		return nil, fmt.Errorf("entry %s already written", name)
	}
	if err := c.ensureParents(name); err != nil {
		return nil, err
	}
	w, err := c.createHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return nil, err
	}
	return nopWriteCloser{w}, nil
}

func (c *zipCallback) createHeader(hdr *zip.FileHeader) (io.Writer, error) {
	w, err := c.zw.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("create entry %s: %w", hdr.Name, err)
	}
	c.written[hdr.Name] = struct{}{}
	return w, nil
}

func (c *zipCallback) createRaw(hdr *zip.FileHeader) (io.Writer, error) {
	w, err := c.zw.CreateRaw(hdr)
	if err != nil {
		return nil, fmt.Errorf("create entry %s: %w", hdr.Name, err)
	}
	c.written[hdr.Name] = struct{}{}
	return w, nil
}

func (c *zipCallback) ensureParents(name string) error {
	dir := path.Dir(name)
	if dir == "." || dir == "/" {
		return nil
	}
	if err := c.ensureParents(dir); err != nil {
		return err
	}
	dirName := dir + "/"
	if _, ok := c.files[dirName]; ok {
		return nil
	}
	if _, ok := c.written[dirName]; ok {
		return nil
	}
	_, err := c.createHeader(&zip.FileHeader{Name: dirName, Method: zip.Store, Modified: time.Now()})
	return err
}

// copyRaw copies an entry with its original header and compressed bytes.
func (c *zipCallback) copyRaw(f *zip.File) error {
	if _, done := c.written[f.Name]; done {
		return nil
	}
	if err := c.zw.Copy(f); err != nil {
		return core.WrapIO("copy entry", f.Name, err)
	}
	c.written[f.Name] = struct{}{}
	return nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func readEntry(f *zip.File) (data []byte, err error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); err == nil {
			err = cerr
		}
	}()
	return io.ReadAll(rc)
}

func isDirName(name string) bool {
	return strings.HasSuffix(name, "/")
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == bb
}
