// Package generator indexes the generate rules of one package and renders
// them in sessions.
package generator

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
	"github.com/melih-ucgun/autoconfig/internal/resource"
)

// DuplicatePolicy decides what happens when two descriptors of one package
// declare the same destination.
type DuplicatePolicy int

const (
	// DuplicateKeepFirst keeps the earliest registered rule and drops the rest.
	DuplicateKeepFirst DuplicatePolicy = iota
	// DuplicateFail makes Init fail.
	DuplicateFail
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep-first", "first":
		return DuplicateKeepFirst, nil
	case "fail", "error":
		return DuplicateFail, nil
	default:
		return DuplicateKeepFirst, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

func (p DuplicatePolicy) String() string {
	if p == DuplicateFail {
		return "fail"
	}
	return "keep-first"
}

// Diagnostic records a rule dropped during Init.
type Diagnostic struct {
	Level      core.LogLevel
	Descriptor string
	Rule       string
	Message    string
}

type BuilderOptions struct {
	Policy DuplicatePolicy
	Logger core.Logger
}

// Builder collects descriptors. Only Init turns them into a queryable
// Generator.
type Builder struct {
	opts        BuilderOptions
	descriptors []*descriptor.Descriptor
	gen         *Generator
}

func NewBuilder(opts BuilderOptions) *Builder {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	return &Builder{opts: opts}
}

// AddDescriptor parses one descriptor. res.Name is its package-relative
// path and res.URL its location.
func (b *Builder) AddDescriptor(res resource.Resource, r io.Reader) (*descriptor.Descriptor, error) {
	if b.gen != nil {
		return nil, core.NewError(core.KindState, "add descriptor", res.Name, core.ErrAlreadyInitialized)
	}
	d, err := descriptor.Parse(res.Name, res.URL, r)
	if err != nil {
		return nil, core.NewError(core.KindConfig, "parse descriptor", res.URL, err)
	}
	b.descriptors = append(b.descriptors, d)
	return d, nil
}

// Register adds an already parsed descriptor.
func (b *Builder) Register(d *descriptor.Descriptor) error {
	if b.gen != nil {
		return core.NewError(core.KindState, "register descriptor", d.Name, core.ErrAlreadyInitialized)
	}
	b.descriptors = append(b.descriptors, d)
	return nil
}

// Len is the number of registered descriptors.
func (b *Builder) Len() int { return len(b.descriptors) }

// Init validates and indexes every rule. Calling it again returns the same
// Generator.
func (b *Builder) Init() (*Generator, error) {
	if b.gen != nil {
		return b.gen, nil
	}

	g := &Generator{
		descriptors: b.descriptors,
		templates:   make(map[string][]*descriptor.GenerateRule),
		qualified:   make(map[string][]*descriptor.GenerateRule),
		dests:       make(map[string]*descriptor.GenerateRule),
		logs:        make(map[string]*descriptor.Descriptor),
		logger:      b.opts.Logger,
	}

	for _, d := range b.descriptors {
		g.logs[d.LogName()] = d
		for _, rule := range append([]*descriptor.GenerateRule(nil), d.Rules...) {
			if err := g.index(d, rule, b.opts.Policy); err != nil {
				return nil, err
			}
		}
	}

	b.gen = g
	return g, nil
}

func (g *Generator) index(d *descriptor.Descriptor, rule *descriptor.GenerateRule, policy DuplicatePolicy) error {
	drop := func(level core.LogLevel, msg string) {
		d.RemoveRule(rule)
		diag := Diagnostic{Level: level, Descriptor: d.Location, Rule: rule.String(), Message: msg}
		g.diagnostics = append(g.diagnostics, diag)
		switch level {
		case core.LevelWarn:
			g.logger.Warn(msg, "descriptor", d.Location, "rule", rule.String())
		case core.LevelInfo:
			g.logger.Info(msg, "descriptor", d.Location, "rule", rule.String())
		}
	}

	template, templateOK := normalize(rule.Template)
	dest, destOK := normalize(rule.Destfile)
	if template == "" && templateOK {
		drop(core.LevelWarn, "template is blank, rule ignored")
		return nil
	}
	if dest == "" && destOK {
		drop(core.LevelWarn, "destfile is blank, rule ignored")
		return nil
	}

	rule.Template, templateOK = anchor(d.Base, template, templateOK)
	rule.QualifiedTemplate, _ = anchor(d.Dir, template, templateOK)
	rule.Destfile, destOK = anchor(d.Base, dest, destOK)
	if !templateOK || !destOK {
		drop(core.LevelWarn, "path escapes the package root, rule ignored")
		return nil
	}

	if existing, ok := g.dests[rule.Destfile]; ok {
		if existing.Descriptor() == d {
			d.RemoveRule(rule)
			return nil
		}
		if policy == DuplicateFail {
			return core.NewError(core.KindConfig, "index rule", rule.Destfile,
				fmt.Errorf("destination already generated by %s", existing.Descriptor().Location))
		}
		drop(core.LevelInfo, fmt.Sprintf("duplicated destfile, already generated by %s", existing.Descriptor().Location))
		return nil
	}

	g.dests[rule.Destfile] = rule
	g.templates[rule.Template] = append(g.templates[rule.Template], rule)
	g.qualified[rule.QualifiedTemplate] = append(g.qualified[rule.QualifiedTemplate], rule)
	return nil
}

// normalize turns a rule path into forward-slash, dot-relative form. The
// boolean is false when the path climbs above its anchor.
func normalize(p string) (string, bool) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return "", true
	}
	p = strings.TrimLeft(p, "/")
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", true
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return cleaned, false
	}
	return cleaned, true
}

func anchor(base, p string, ok bool) (string, bool) {
	if !ok {
		return p, false
	}
	if base == "" {
		return p, true
	}
	return path.Join(base, p), true
}
