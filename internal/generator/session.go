package generator

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/melih-ucgun/autoconfig/internal/charset"
	"github.com/melih-ucgun/autoconfig/internal/consts"
	"github.com/melih-ucgun/autoconfig/internal/core"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
)

// Callback is the storage side of a session: the archive or directory the
// package lives in. The session never holds a stream beyond one call.
type Callback interface {
	// OpenTemplate returns the template source of rule.
	OpenTemplate(rule *descriptor.GenerateRule) (io.ReadCloser, error)
	// CreateDest returns the sink for rule's destination.
	CreateDest(rule *descriptor.GenerateRule) (io.WriteCloser, error)
	// CopyTemplate stores a verbatim copy of a template under name.
	CopyTemplate(name string, data []byte) error
	// WriteLog stores the generation log of one descriptor.
	WriteLog(name string, data []byte) error
}

// PreviousContent is implemented by callbacks that can return what a
// destination held before this run. Used for diff reports.
type PreviousContent interface {
	Previous(dest string) ([]byte, bool)
}

type SessionOptions struct {
	Renderer core.Renderer
	// DefaultCharset applies when a template neither declares nor sniffs one.
	DefaultCharset string
	// Diff appends a diff of every changed destination to the descriptor log.
	Diff   bool
	Logger core.Logger
}

// Session is one generation run over a package.
type Session struct {
	gen       *Generator
	props     core.Lookup
	opts      SessionOptions
	logs      map[*descriptor.Descriptor]*bytes.Buffer
	processed map[string]struct{}
	copied    map[string]struct{}
	lazy      []*LazyItem
	success   bool
	closed    bool
}

func newSession(g *Generator, props core.Lookup, opts SessionOptions) *Session {
	if opts.Renderer == nil {
		opts.Renderer = &core.SprigRenderer{}
	}
	if opts.DefaultCharset == "" {
		opts.DefaultCharset = consts.DefaultCharset
	}
	if opts.Logger == nil {
		opts.Logger = g.logger
	}
	s := &Session{
		gen:       g,
		props:     props,
		opts:      opts,
		logs:      make(map[*descriptor.Descriptor]*bytes.Buffer),
		processed: make(map[string]struct{}),
		copied:    make(map[string]struct{}),
		success:   true,
	}
	s.checkRequired()
	return s
}

// checkRequired logs required properties that have no value. They are
// warnings only; the render itself reports what stays unresolved.
func (s *Session) checkRequired() {
	for _, d := range s.gen.descriptors {
		ctx := core.NewLayeredContext(d.Context, s.props)
		for _, p := range d.Properties {
			if !p.Required {
				continue
			}
			if v, ok := ctx.Get(p.Name); ok && strings.TrimSpace(fmt.Sprint(v)) != "" {
				continue
			}
			s.opts.Logger.Warn("required property has no value", "property", p.Name, "descriptor", d.Location)
			fmt.Fprintf(s.logBuffer(d), "missing required property %s\n", p.Name)
		}
	}
}

// Close releases the session so the generator can start another one.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.lazy = nil
	s.gen.release(s)
	return nil
}

// Succeeded is false once any render left references unresolved.
func (s *Session) Succeeded() bool { return s.success }

// IsProcessed reports whether dest was produced in this session.
func (s *Session) IsProcessed(dest string) bool {
	_, ok := s.processed[dest]
	return ok
}

// Generate renders every rule of template. It returns false when any of
// them left references unresolved.
func (s *Session) Generate(template string, cb Callback) (bool, error) {
	return s.GenerateRules(s.gen.Rules(template), cb)
}

// GenerateRules renders a subset of rules chosen by the caller.
func (s *Session) GenerateRules(rules []*descriptor.GenerateRule, cb Callback) (bool, error) {
	if s.closed {
		return false, core.NewError(core.KindState, "generate", "", core.ErrSessionClosed)
	}
	ok := true
	for _, rule := range rules {
		ruleOK, err := s.generateRule(rule, cb)
		if err != nil {
			return false, err
		}
		ok = ok && ruleOK
	}
	return ok, nil
}

func (s *Session) generateRule(rule *descriptor.GenerateRule, cb Callback) (bool, error) {
	d := rule.Descriptor()
	location := d.Location

	data, err := readTemplate(rule, cb)
	if err != nil {
		return false, core.WrapIO("read template", rule.Template, err)
	}

	in, out := charset.Resolve(rule.Charset, rule.OutputCharset, data, s.opts.DefaultCharset)
	text, err := charset.Decode(data, in)
	if err != nil {
		return false, core.NewError(core.KindTemplate, "decode template", rule.Template, err)
	}

	ctx := core.NewLayeredContext(d.Context, s.props)
	var rendered strings.Builder
	unresolved, err := s.opts.Renderer.Render(rule.Template, text, ctx, &rendered)
	if err != nil {
		return false, core.NewError(core.KindTemplate, "render template", rule.Template,
			fmt.Errorf("%s: %w", location, err))
	}

	encoded, err := charset.Encode(rendered.String(), out)
	if err != nil {
		return false, core.NewError(core.KindTemplate, "encode destination", rule.Destfile, err)
	}

	var diff string
	if s.opts.Diff {
		if pc, ok := cb.(PreviousContent); ok {
			if prev, found := pc.Previous(rule.Destfile); found {
				if prevText, err := charset.Decode(prev, out); err == nil {
					diff = core.GenerateDiff(rule.Destfile, prevText, rendered.String())
				}
			}
		}
	}

	if err := writeDest(rule, cb, encoded); err != nil {
		return false, core.WrapIO("write destination", rule.Destfile, err)
	}

	s.processed[rule.Destfile] = struct{}{}

	buf := s.logBuffer(d)
	fmt.Fprintf(buf, "%s => %s [%s -> %s]", rule.Template, rule.Destfile, in, out)
	if len(unresolved) > 0 {
		fmt.Fprintf(buf, " unresolved: %s", strings.Join(unresolved, ", "))
	}
	buf.WriteString("\n")
	if diff != "" {
		buf.WriteString(diff)
	}

	if len(unresolved) > 0 {
		s.success = false
		s.opts.Logger.Warn("unresolved references",
			"template", rule.Template, "dest", rule.Destfile, "descriptor", location,
			"names", strings.Join(unresolved, ","))
		return false, nil
	}
	s.opts.Logger.Debug("generated", "template", rule.Template, "dest", rule.Destfile, "in", in, "out", out)
	return true, nil
}

func readTemplate(rule *descriptor.GenerateRule, cb Callback) (data []byte, err error) {
	rc, err := cb.OpenTemplate(rule)
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

func writeDest(rule *descriptor.GenerateRule, cb Callback, data []byte) (err error) {
	w, err := cb.CreateDest(rule)
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

func (s *Session) logBuffer(d *descriptor.Descriptor) *bytes.Buffer {
	buf, ok := s.logs[d]
	if !ok {
		buf = &bytes.Buffer{}
		s.logs[d] = buf
	}
	return buf
}

// CheckNonprocessedTemplates fails when an indexed destination was never
// produced, naming its template and descriptor.
func (s *Session) CheckNonprocessedTemplates() error {
	for _, dest := range s.gen.Destinations() {
		if _, ok := s.processed[dest]; ok {
			continue
		}
		rule := s.gen.dests[dest]
		return core.NewError(core.KindMissingTemplate, "check templates", rule.Template,
			fmt.Errorf("template not found, required by %s to generate %s", rule.Descriptor().Location, dest))
	}
	return nil
}

// WriteLogs stores one <descriptor>.log per descriptor that logged anything.
func (s *Session) WriteLogs(cb Callback) error {
	for _, d := range s.gen.descriptors {
		buf, ok := s.logs[d]
		if !ok || buf.Len() == 0 {
			continue
		}
		if err := cb.WriteLog(d.LogName(), buf.Bytes()); err != nil {
			return core.WrapIO("write log", d.LogName(), err)
		}
	}
	return nil
}

// WithSource wraps cb so templates are read from data instead of cb.
func WithSource(cb Callback, data []byte) Callback {
	return &sourceCallback{Callback: cb, data: data}
}

type sourceCallback struct {
	Callback
	data []byte
}

func (c *sourceCallback) OpenTemplate(*descriptor.GenerateRule) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.data)), nil
}

func (c *sourceCallback) Previous(dest string) ([]byte, bool) {
	if pc, ok := c.Callback.(PreviousContent); ok {
		return pc.Previous(dest)
	}
	return nil, false
}
