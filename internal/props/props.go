// Package props holds the merged property set a generation run renders
// against: descriptor defaults, then property files, then command line
// overrides.
package props

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/melih-ucgun/autoconfig/internal/crypto"
	"github.com/melih-ucgun/autoconfig/internal/descriptor"
)

type layer int

const (
	layerDefault layer = iota
	layerFile
	layerOverride
)

var refPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Set is a layered key/value store. Values may reference other keys or
// expressions as ${...}; encrypted values are opened with the cipher.
type Set struct {
	layers [3]map[string]string
	cipher *crypto.Cipher
}

func New() *Set {
	s := &Set{}
	for i := range s.layers {
		s.layers[i] = make(map[string]string)
	}
	return s
}

// WithCipher sets the cipher used for ENC[AES256:...] values.
func (s *Set) WithCipher(c *crypto.Cipher) *Set {
	s.cipher = c
	return s
}

// Set stores an override. Overrides win over everything else.
func (s *Set) Set(key, value string) {
	s.layers[layerOverride][key] = value
}

// SetDefault stores a value that any file or override replaces.
func (s *Set) SetDefault(key, value string) {
	if _, ok := s.layers[layerDefault][key]; !ok {
		s.layers[layerDefault][key] = value
	}
}

// ParseAssignment applies a "key=value" override as given on the command line.
func (s *Set) ParseAssignment(assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("invalid property assignment %q, expected key=value", assignment)
	}
	s.Set(key, value)
	return nil
}

// LoadFile merges a property file. YAML files are flattened into dotted
// keys; anything else is read as key=value lines.
func (s *Set) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read property file %s: %w", path, err)
	}

	var values map[string]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		values, err = parseYAML(data)
	default:
		values, err = godotenv.Parse(bytes.NewReader(data))
	}
	if err != nil {
		return fmt.Errorf("parse property file %s: %w", path, err)
	}

	for k, v := range values {
		s.layers[layerFile][k] = v
	}
	return nil
}

func parseYAML(data []byte) (map[string]string, error) {
	var root map[string]any
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	flatten("", root, out)
	return out, nil
}

func flatten(prefix string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case nil:
		out[prefix] = ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(parts, ",")
	default:
		out[prefix] = fmt.Sprint(t)
	}
}

// ApplyDescriptorDefaults registers the default values a descriptor declares.
func (s *Set) ApplyDescriptorDefaults(d *descriptor.Descriptor) {
	for _, p := range d.Properties {
		if p.DefaultValue != "" {
			s.SetDefault(p.Name, p.DefaultValue)
		}
	}
}

// MissingRequired lists the required properties of d that have no value.
func (s *Set) MissingRequired(d *descriptor.Descriptor) []string {
	var missing []string
	for _, p := range d.Properties {
		if !p.Required {
			continue
		}
		if v, ok := s.Raw(p.Name); !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// Raw returns the stored value of key without interpolation or decryption.
func (s *Set) Raw(key string) (string, bool) {
	for i := len(s.layers) - 1; i >= 0; i-- {
		if v, ok := s.layers[i][key]; ok {
			return v, true
		}
	}
	return "", false
}

func (s *Set) Keys() []string {
	seen := make(map[string]struct{})
	for _, l := range s.layers {
		for k := range l {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the resolved value of key. A value that is exactly one
// expression keeps the expression's type; otherwise the result is a string.
// References that cannot be resolved are left as written.
func (s *Set) Get(key string) (any, bool) {
	if _, ok := s.Raw(key); !ok {
		return nil, false
	}
	return s.resolve(key, map[string]bool{}), true
}

// Check opens every encrypted value and reports the first failure.
func (s *Set) Check() error {
	for _, k := range s.Keys() {
		raw, _ := s.Raw(k)
		if !crypto.IsEncrypted(raw) {
			continue
		}
		if s.cipher == nil {
			return fmt.Errorf("property %s is encrypted but no master key is configured", k)
		}
		if _, err := s.cipher.Decrypt(raw); err != nil {
			return fmt.Errorf("property %s: %w", k, err)
		}
	}
	return nil
}

func (s *Set) resolve(key string, visiting map[string]bool) any {
	raw, _ := s.Raw(key)
	if crypto.IsEncrypted(raw) && s.cipher != nil {
		if plain, err := s.cipher.Decrypt(raw); err == nil {
			return plain
		}
		return raw
	}
	if visiting[key] {
		return raw
	}
	visiting[key] = true
	defer delete(visiting, key)

	if m := refPattern.FindStringSubmatchIndex(raw); m != nil && m[0] == 0 && m[1] == len(raw) {
		if v, ok := s.evaluate(raw[m[2]:m[3]], visiting); ok {
			return v
		}
		return raw
	}

	return refPattern.ReplaceAllStringFunc(raw, func(ref string) string {
		if v, ok := s.evaluate(ref[2:len(ref)-1], visiting); ok {
			return fmt.Sprint(v)
		}
		return ref
	})
}

func (s *Set) evaluate(inner string, visiting map[string]bool) (any, bool) {
	name := strings.TrimSpace(inner)
	if _, ok := s.Raw(name); ok {
		if visiting[name] {
			return nil, false
		}
		return s.resolve(name, visiting), true
	}

	env := s.env(visiting)
	program, err := expr.Compile(name, expr.Env(env))
	if err != nil {
		return nil, false
	}
	out, err := expr.Run(program, env)
	if err != nil || out == nil {
		return nil, false
	}
	return out, true
}

// env exposes every key not currently being resolved to expressions, both
// flat and as nested maps for dotted keys. Scalars are typed where they
// parse as numbers or booleans.
func (s *Set) env(visiting map[string]bool) map[string]any {
	env := make(map[string]any)
	for _, k := range s.Keys() {
		if visiting[k] {
			continue
		}
		raw, _ := s.Raw(k)
		if crypto.IsEncrypted(raw) {
			continue
		}
		v := typed(raw)
		if !strings.Contains(k, ".") {
			if _, exists := env[k]; !exists {
				env[k] = v
			}
			continue
		}
		cur := env
		parts := strings.Split(k, ".")
		for i, p := range parts {
			if i == len(parts)-1 {
				if _, exists := cur[p]; !exists {
					cur[p] = v
				}
				break
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				if _, exists := cur[p]; exists {
					break
				}
				next = make(map[string]any)
				cur[p] = next
			}
			cur = next
		}
	}
	return env
}

func typed(raw string) any {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	return raw
}
