// Package descriptor models auto-config.xml manifests: declared properties
// and the generate rules that map templates to destination files.
package descriptor

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/melih-ucgun/autoconfig/internal/charset"
	"github.com/melih-ucgun/autoconfig/internal/consts"
)

// Property is a property declared by a descriptor.
type Property struct {
	Name         string
	DefaultValue string
	Description  string
	Required     bool
	Group        string
}

// GenerateRule renders Template into Destfile. Both paths are package
// relative once the generator has normalized them; QualifiedTemplate is the
// template anchored at the descriptor's own directory.
type GenerateRule struct {
	Template          string
	QualifiedTemplate string
	Destfile          string
	Charset           string
	OutputCharset     string

	descriptor *Descriptor
}

// Descriptor returns the descriptor owning the rule.
func (r *GenerateRule) Descriptor() *Descriptor { return r.descriptor }

func (r *GenerateRule) String() string {
	return fmt.Sprintf("%s => %s", r.Template, r.Destfile)
}

// Descriptor is one parsed auto-config.xml.
type Descriptor struct {
	// Name is the package-relative path of the descriptor file.
	Name string
	// Location is where the descriptor was read from, for diagnostics.
	Location    string
	Description string
	// Dir is the directory holding the descriptor.
	Dir string
	// Base anchors template and destination paths.
	Base       string
	Context    map[string]any
	Properties []Property
	Rules      []*GenerateRule
}

// LogName is the reserved package entry the generation log is written to.
func (d *Descriptor) LogName() string {
	return d.Name + consts.LogFileSuffix
}

// AddRule appends a rule owned by d.
func (d *Descriptor) AddRule(template, destfile, charset, outputCharset string) *GenerateRule {
	rule := &GenerateRule{
		Template:      template,
		Destfile:      destfile,
		Charset:       charset,
		OutputCharset: outputCharset,
		descriptor:    d,
	}
	d.Rules = append(d.Rules, rule)
	return rule
}

// RemoveRule drops an invalid rule.
func (d *Descriptor) RemoveRule(rule *GenerateRule) {
	for i, r := range d.Rules {
		if r == rule {
			d.Rules = append(d.Rules[:i], d.Rules[i+1:]...)
			return
		}
	}
}

// New creates an empty descriptor for the package-relative name.
func New(name, location string) *Descriptor {
	name = strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	dir, base := Anchors(name)
	return &Descriptor{
		Name:     name,
		Location: location,
		Dir:      dir,
		Base:     base,
		Context:  make(map[string]any),
	}
}

// Anchors returns the directory holding the descriptor and the base its
// rule paths are relative to: the directory above the first META-INF or
// WEB-INF segment, or the descriptor's directory when there is none.
func Anchors(name string) (dir, base string) {
	dir = path.Dir(name)
	if dir == "." || dir == "/" {
		dir = ""
	}
	if dir == "" {
		return "", ""
	}
	segments := strings.Split(dir, "/")
	for i, s := range segments {
		if strings.EqualFold(s, "META-INF") || strings.EqualFold(s, "WEB-INF") {
			return dir, strings.Join(segments[:i], "/")
		}
	}
	return dir, dir
}

type xmlConfig struct {
	XMLName     xml.Name      `xml:"config"`
	Description string        `xml:"description,attr"`
	Groups      []xmlGroup    `xml:"group"`
	Generates   []xmlGenerate `xml:"script>generate"`
	Context     []xmlEntry    `xml:"context>entry"`
}

type xmlGroup struct {
	Name       string        `xml:"name,attr"`
	Properties []xmlProperty `xml:"property"`
}

type xmlProperty struct {
	Name         string `xml:"name,attr"`
	DefaultValue string `xml:"defaultValue,attr"`
	Description  string `xml:"description,attr"`
	Required     string `xml:"required,attr"`
}

type xmlGenerate struct {
	Template      string `xml:"template,attr"`
	Destfile      string `xml:"destfile,attr"`
	Charset       string `xml:"charset,attr"`
	OutputCharset string `xml:"outputCharset,attr"`
}

type xmlEntry struct {
	Key   string `xml:"key,attr"`
	Value string `xml:"value,attr"`
}

// Parse reads one descriptor. Rule paths are kept as written; the
// generator normalizes them during init.
func Parse(name, location string, r io.Reader) (*Descriptor, error) {
	var cfg xmlConfig
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", location, err)
	}

	d := New(name, location)
	d.Description = cfg.Description
	for _, g := range cfg.Groups {
		for _, p := range g.Properties {
			if strings.TrimSpace(p.Name) == "" {
				continue
			}
			d.Properties = append(d.Properties, Property{
				Name:         strings.TrimSpace(p.Name),
				DefaultValue: p.DefaultValue,
				Description:  p.Description,
				Required:     strings.EqualFold(p.Required, "true"),
				Group:        g.Name,
			})
		}
	}
	for _, g := range cfg.Generates {
		d.AddRule(g.Template, g.Destfile, g.Charset, g.OutputCharset)
	}
	for _, e := range cfg.Context {
		if e.Key != "" {
			d.Context[e.Key] = e.Value
		}
	}
	return d, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := charset.Lookup(label)
	if err != nil {
		return nil, err
	}
	return enc.NewDecoder().Reader(input), nil
}
