// Package entry scans packages for descriptors and nested packages and
// rewrites them with generated files.
package entry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/melih-ucgun/autoconfig/internal/consts"
	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/generator"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

// Entry is one package in the scan tree.
type Entry interface {
	Resource() resource.Resource
	Kind() Kind
	// Children are the nested packages that have something to generate.
	Children() []Entry
	// Generator is nil until Scan has run.
	Generator() *generator.Generator
	Output() string
	// SetOutput writes the result to path instead of replacing the source.
	SetOutput(path string)
	Scan(ctx context.Context) error
	// Generate renders every template of the package and its children. It
	// returns false when any render left references unresolved.
	Generate(ctx context.Context, props core.Lookup) (bool, error)
}

// Backup keeps a copy of an archive before it is replaced in place.
type Backup interface {
	Backup(path string) (string, error)
}

type Options struct {
	DescriptorPatterns []string
	PackagePatterns    []string
	DuplicatePolicy    generator.DuplicatePolicy
	Renderer           core.Renderer
	DefaultCharset     string
	Diff               bool
	ReplaceAttempts    int
	ReplacePause       time.Duration
	Backup             Backup
	FS                 core.FileSystem
	Logger             core.Logger
}

func (o Options) withDefaults() Options {
	if len(o.DescriptorPatterns) == 0 {
		o.DescriptorPatterns = consts.DefaultDescriptorPatterns
	}
	if len(o.PackagePatterns) == 0 {
		o.PackagePatterns = consts.DefaultPackagePatterns
	}
	if o.Renderer == nil {
		o.Renderer = &core.SprigRenderer{}
	}
	if o.DefaultCharset == "" {
		o.DefaultCharset = consts.DefaultCharset
	}
	if o.ReplaceAttempts <= 0 {
		o.ReplaceAttempts = consts.DefaultReplaceAttempts
	}
	if o.ReplacePause <= 0 {
		o.ReplacePause = consts.DefaultReplacePause
	}
	if o.FS == nil {
		o.FS = &core.RealFS{}
	}
	if o.Logger == nil {
		o.Logger = core.NopLogger{}
	}
	return o
}

func (o Options) sessionOptions() generator.SessionOptions {
	return generator.SessionOptions{
		Renderer:       o.Renderer,
		DefaultCharset: o.DefaultCharset,
		Diff:           o.Diff,
		Logger:         o.Logger,
	}
}

func (o Options) builder() *generator.Builder {
	return generator.NewBuilder(generator.BuilderOptions{Policy: o.DuplicatePolicy, Logger: o.Logger})
}

// New inspects the local file behind res and returns the matching entry.
func New(res resource.Resource, opts Options) (Entry, error) {
	if !res.HasFile() {
		return nil, core.NewError(core.KindConfig, "open package", res.URL, fmt.Errorf("not a local file"))
	}
	opts = opts.withDefaults()

	info, err := opts.FS.Stat(res.File)
	if err != nil {
		return nil, core.WrapIO("open package", res.File, err)
	}

	hasWebInf := false
	if info.IsDir() {
		if wi, err := opts.FS.Stat(filepath.Join(res.File, "WEB-INF")); err == nil && wi.IsDir() {
			hasWebInf = true
		}
	}

	kind := Classify(res.File, info.IsDir(), hasWebInf)
	switch {
	case kind == KindUnknown:
		return nil, core.NewError(core.KindConfig, "open package", res.File, fmt.Errorf("unsupported package type"))
	case kind.IsArchive():
		return newZipEntry(res, kind, opts), nil
	default:
		return newDirEntry(res, kind, opts), nil
	}
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Walk visits e and its children depth first.
func Walk(e Entry, fn func(e Entry, depth int) error) error {
	return walk(e, 0, fn)
}

func walk(e Entry, depth int, fn func(Entry, int) error) error {
	if err := fn(e, depth); err != nil {
		return err
	}
	for _, c := range e.Children() {
		if err := walk(c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return err != nil && os.IsNotExist(err)
}
