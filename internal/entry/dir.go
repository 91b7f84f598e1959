package entry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
	"github.com/melih-ucgun/autoconfig/internal/generator"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

// dirEntry is an unpacked package. Templates are read from the directory
// and destinations are written under the output root, which defaults to
// the directory itself. A separate output root first receives a copy of
// every file outside the nested packages.
type dirEntry struct {
	res    resource.Resource
	kind   Kind
	opts   Options
	output string

	gen      *generator.Generator
	children []dirChild
}

type dirChild struct {
	rel string
	Entry
}

func newDirEntry(res resource.Resource, kind Kind, opts Options) *dirEntry {
	return &dirEntry{res: res, kind: kind, opts: opts}
}

func (e *dirEntry) Resource() resource.Resource     { return e.res }
func (e *dirEntry) Kind() Kind                      { return e.kind }
func (e *dirEntry) Generator() *generator.Generator { return e.gen }
func (e *dirEntry) Output() string                  { return e.output }
func (e *dirEntry) SetOutput(path string)           { e.output = path }

func (e *dirEntry) Children() []Entry {
	out := make([]Entry, 0, len(e.children))
	for _, c := range e.children {
		out = append(out, c.Entry)
	}
	return out
}

func (e *dirEntry) Scan(ctx context.Context) error {
	b := e.opts.builder()
	e.children = nil
	root := e.res.File

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matchAny(e.opts.PackagePatterns, rel) {
			if err := e.scanChild(ctx, rel); err != nil {
				return err
			}
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !matchAny(e.opts.DescriptorPatterns, rel) {
			return nil
		}
		return e.addDescriptor(b, rel)
	})
	if err != nil {
		return core.WrapIO("scan directory", root, err)
	}

	gen, err := b.Init()
	if err != nil {
		return err
	}
	e.gen = gen
	e.opts.Logger.Debug("scanned directory", "package", root,
		"descriptors", len(gen.Descriptors()), "templates", len(gen.TemplateNames()), "packages", len(e.children))
	return nil
}

func (e *dirEntry) addDescriptor(b *generator.Builder, rel string) (err error) {
	res := e.res.Child(rel, false)
	f, err := e.opts.FS.Open(res.File)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = b.AddDescriptor(res, f)
	return err
}

func (e *dirEntry) scanChild(ctx context.Context, rel string) error {
	child, err := New(e.res.Child(rel, false), e.opts)
	if err != nil {
		e.opts.Logger.Debug("not a package, skipped", "path", rel, "error", err)
		return nil
	}
	if err := child.Scan(ctx); err != nil {
		var ioErr *core.Error
		if errors.As(err, &ioErr) && ioErr.Kind == core.KindIO && child.Kind().IsArchive() {
			e.opts.Logger.Debug("unreadable archive, skipped", "path", rel, "error", err)
			return nil
		}
		return err
	}
	if child.Generator().Empty() && len(child.Children()) == 0 {
		return nil
	}
	e.children = append(e.children, dirChild{rel: rel, Entry: child})
	return nil
}

func (e *dirEntry) Generate(ctx context.Context, props core.Lookup) (bool, error) {
	if e.gen == nil {
		if err := e.Scan(ctx); err != nil {
			return false, err
		}
	}
	out := e.output
	if out == "" {
		out = e.res.File
	}
	if filepath.Clean(out) != filepath.Clean(e.res.File) {
		if err := e.mirror(ctx, out); err != nil {
			return false, err
		}
	}

	ok, err := e.generateOwn(ctx, out, props)
	if err != nil {
		return false, err
	}

	for _, c := range e.children {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if e.output != "" {
			childOut, err := securejoin.SecureJoin(e.output, c.rel)
			if err != nil {
				return false, core.WrapIO("resolve output", c.rel, err)
			}
			c.SetOutput(childOut)
		}
		childOK, err := c.Generate(ctx, props)
		if err != nil {
			return false, err
		}
		ok = ok && childOK
	}
	return ok, nil
}

// mirror copies the package tree to out, leaving nested packages to their
// own Generate.
func (e *dirEntry) mirror(ctx context.Context, out string) error {
	root := e.res.File
	skip := make(map[string]struct{}, len(e.children))
	for _, c := range e.children {
		skip[c.rel] = struct{}{}
	}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if filepath.Clean(p) == filepath.Clean(out) {
			return fs.SkipDir
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if _, ok := skip[rel]; ok {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		dst, err := securejoin.SecureJoin(out, rel)
		if err != nil {
			return err
		}
		return core.CopyFile(e.opts.FS, p, dst)
	})
	if err != nil {
		return core.WrapIO("copy package", root, err)
	}
	return nil
}

func (e *dirEntry) generateOwn(ctx context.Context, out string, props core.Lookup) (bool, error) {
	sess, err := e.gen.StartSession(props, e.opts.sessionOptions())
	if err != nil {
		return false, err
	}
	defer sess.Close()

	cb := &dirCallback{fsys: e.opts.FS, root: e.res.File, out: out, cache: make(map[string][]byte)}
	if err := cb.preload(e.gen); err != nil {
		return false, err
	}
	ok := true
	for _, name := range e.gen.TemplateNames() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := cb.copyAside(e.gen.Rules(name)); err != nil {
			return false, err
		}

		var rules []*descriptor.GenerateRule
		for _, r := range e.gen.Rules(name) {
			if r.Template != name {
				continue
			}
			if _, err := cb.resolve(r); err != nil {
				// Reported by the completeness check below.
				e.opts.Logger.Debug("template not found", "template", r.Template, "descriptor", r.Descriptor().Location)
				continue
			}
			rules = append(rules, r)
		}
		rendered, err := sess.GenerateRules(rules, cb)
		if err != nil {
			return false, err
		}
		ok = ok && rendered
	}

	if err := sess.WriteLogs(cb); err != nil {
		return false, err
	}
	if err := sess.CheckNonprocessedTemplates(); err != nil {
		return false, err
	}
	ok = ok && sess.Succeeded()
	e.opts.Logger.Info("generated", "package", e.res.File, "output", out, "complete", ok)
	return ok, nil
}

// dirCallback reads templates below root and writes below out. Template
// bytes are cached for the whole session, so a destination written by one
// rule never changes the source another rule reads.
type dirCallback struct {
	fsys  core.FileSystem
	root  string
	out   string
	cache map[string][]byte
}

// preload reads every template that is also a destination before anything
// is written.
func (c *dirCallback) preload(gen *generator.Generator) error {
	for _, name := range gen.TemplateNames() {
		for _, r := range gen.Rules(name) {
			if r.Template != name {
				continue
			}
			if !gen.IsDestFile(r.Template) && !gen.IsDestFile(r.QualifiedTemplate) {
				continue
			}
			p, err := c.resolve(r)
			if err != nil {
				continue
			}
			if _, err := c.read(p); err != nil {
				return core.WrapIO("read template", p, err)
			}
		}
	}
	return nil
}

func (c *dirCallback) read(p string) ([]byte, error) {
	if data, ok := c.cache[p]; ok {
		return data, nil
	}
	data, err := c.fsys.ReadFile(p)
	if err != nil {
		return nil, err
	}
	c.cache[p] = data
	return data, nil
}

func (c *dirCallback) resolve(rule *descriptor.GenerateRule) (string, error) {
	for _, rel := range []string{rule.QualifiedTemplate, rule.Template} {
		p, err := securejoin.SecureJoin(c.root, rel)
		if err != nil {
			return "", err
		}
		if info, err := c.fsys.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("template %s: %w", rule.Template, fs.ErrNotExist)
}

// copyAside preserves templates that are rendered onto themselves at the
// rule's qualified path before anything is written.
func (c *dirCallback) copyAside(rules []*descriptor.GenerateRule) error {
	for _, r := range rules {
		if r.Template != r.Destfile || r.QualifiedTemplate == r.Template {
			continue
		}
		qualified, err := securejoin.SecureJoin(c.root, r.QualifiedTemplate)
		if err != nil {
			return core.WrapIO("resolve template", r.QualifiedTemplate, err)
		}
		if _, err := c.fsys.Stat(qualified); err == nil {
			continue
		}
		src, err := securejoin.SecureJoin(c.root, r.Template)
		if err != nil {
			return core.WrapIO("resolve template", r.Template, err)
		}
		data, err := c.read(src)
		if err != nil {
			if isNotExist(err) {
				continue
			}
			return core.WrapIO("read template", src, err)
		}
		if err := c.CopyTemplate(r.QualifiedTemplate, data); err != nil {
			return core.WrapIO("copy template", r.QualifiedTemplate, err)
		}
	}
	return nil
}

func (c *dirCallback) OpenTemplate(rule *descriptor.GenerateRule) (io.ReadCloser, error) {
	p, err := c.resolve(rule)
	if err != nil {
		return nil, err
	}
	data, err := c.read(p)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *dirCallback) CreateDest(rule *descriptor.GenerateRule) (io.WriteCloser, error) {
	p, err := c.target(rule.Destfile)
	if err != nil {
		return nil, err
	}
	return c.fsys.Create(p)
}

func (c *dirCallback) CopyTemplate(name string, data []byte) error {
	return c.writeFile(name, data)
}

func (c *dirCallback) WriteLog(name string, data []byte) error {
	return c.writeFile(name, data)
}

func (c *dirCallback) Previous(dest string) ([]byte, bool) {
	p, err := securejoin.SecureJoin(c.out, dest)
	if err != nil {
		return nil, false
	}
	data, err := c.fsys.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *dirCallback) writeFile(name string, data []byte) error {
	p, err := c.target(name)
	if err != nil {
		return err
	}
	return c.fsys.WriteFile(p, data, 0o644)
}

func (c *dirCallback) target(name string) (string, error) {
	p, err := securejoin.SecureJoin(c.out, name)
	if err != nil {
		return "", err
	}
	if err := c.fsys.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	return p, nil
}
