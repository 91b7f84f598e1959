package generator

import (
	"sort"
	"sync"

	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
)

// Generator is the indexed, read-only view of a package's rules returned by
// Builder.Init.
type Generator struct {
	descriptors []*descriptor.Descriptor
	templates   map[string][]*descriptor.GenerateRule
	qualified   map[string][]*descriptor.GenerateRule
	dests       map[string]*descriptor.GenerateRule
	logs        map[string]*descriptor.Descriptor
	diagnostics []Diagnostic
	logger      core.Logger

	mu     sync.Mutex
	active *Session
}

// IsTemplateFile reports whether name is a template, either by its plain or
// its descriptor-qualified path.
func (g *Generator) IsTemplateFile(name string) bool {
	if _, ok := g.templates[name]; ok {
		return true
	}
	_, ok := g.qualified[name]
	return ok
}

func (g *Generator) IsDestFile(name string) bool {
	_, ok := g.dests[name]
	return ok
}

func (g *Generator) IsDescriptorLogFile(name string) bool {
	_, ok := g.logs[name]
	return ok
}

// Rules returns the rules rendered from name. Rules matched by the qualified
// path come first.
func (g *Generator) Rules(name string) []*descriptor.GenerateRule {
	var out []*descriptor.GenerateRule
	seen := make(map[*descriptor.GenerateRule]struct{})
	for _, set := range [][]*descriptor.GenerateRule{g.qualified[name], g.templates[name]} {
		for _, r := range set {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}

// Rule returns the rule producing dest.
func (g *Generator) Rule(dest string) (*descriptor.GenerateRule, bool) {
	r, ok := g.dests[dest]
	return r, ok
}

// TemplateNames returns the plain template paths, sorted.
func (g *Generator) TemplateNames() []string {
	names := make([]string, 0, len(g.templates))
	for n := range g.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Destinations returns every indexed destination, sorted.
func (g *Generator) Destinations() []string {
	names := make([]string, 0, len(g.dests))
	for n := range g.dests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (g *Generator) Descriptors() []*descriptor.Descriptor {
	return g.descriptors
}

func (g *Generator) Diagnostics() []Diagnostic {
	return g.diagnostics
}

// Empty reports whether the package has nothing to generate.
func (g *Generator) Empty() bool {
	return len(g.descriptors) == 0
}

// StartSession opens the only session the generator may have at a time.
func (g *Generator) StartSession(props core.Lookup, opts SessionOptions) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil {
		return nil, core.NewError(core.KindState, "start session", "", core.ErrSessionActive)
	}
	s := newSession(g, props, opts)
	g.active = s
	return s, nil
}

func (g *Generator) release(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == s {
		g.active = nil
	}
}
