package core

import (
	"bytes"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/Masterminds/sprig/v3"
)

// Lookup is a read-only variable source.
type Lookup interface {
	Get(key string) (any, bool)
	Keys() []string
}

// Context is the variable scope a template is rendered against.
type Context interface {
	Lookup
	Put(key string, value any)
}

// LayeredContext resolves keys in its local layer first and falls back to
// the parent lookup. Put only ever writes the local layer.
type LayeredContext struct {
	local  map[string]any
	parent Lookup
}

func NewLayeredContext(local map[string]any, parent Lookup) *LayeredContext {
	l := make(map[string]any, len(local))
	for k, v := range local {
		l[k] = v
	}
	return &LayeredContext{local: l, parent: parent}
}

func (c *LayeredContext) Get(key string) (any, bool) {
	if v, ok := c.local[key]; ok {
		return v, true
	}
	if c.parent == nil {
		return nil, false
	}
	return c.parent.Get(key)
}

func (c *LayeredContext) Put(key string, value any) {
	c.local[key] = value
}

func (c *LayeredContext) Keys() []string {
	seen := make(map[string]struct{}, len(c.local))
	for k := range c.local {
		seen[k] = struct{}{}
	}
	if c.parent != nil {
		for _, k := range c.parent.Keys() {
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

// Renderer renders one template against a context. A render that leaves
// references unresolved still succeeds; the names are returned so the caller
// can decide what that means.
type Renderer interface {
	Render(name, text string, ctx Context, w io.Writer) (unresolved []string, err error)
}

// SprigRenderer is the text/template + sprig implementation of Renderer.
//
// Dotted keys ("app.port") are reachable as nested fields ({{ .app.port }})
// and through the prop helper ({{ prop "app.port" }}). An unresolved field
// printed by an action is written back literally as ${name}; everywhere else
// (if/with/range pipes, function arguments, default) it stays nil. Every
// unresolved name is reported either way. propOr supplies a fallback without
// reporting.
type SprigRenderer struct{}

func (r *SprigRenderer) Render(name, text string, ctx Context, w io.Writer) ([]string, error) {
	missing := make(map[string]struct{})

	funcs := sprig.TxtFuncMap()
	funcs["prop"] = func(key string) any {
		if v, ok := ctx.Get(key); ok {
			return v
		}
		missing[key] = struct{}{}
		return "${" + key + "}"
	}
	funcs["propOr"] = func(key string, fallback any) any {
		if v, ok := ctx.Get(key); ok {
			return v
		}
		return fallback
	}
	funcs[placeholderFunc] = placeholder

	// missingkey=zero keeps optional values working with sprig's 'default'.
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, err
	}

	data := buildData(ctx)
	var absent [][]string
	for _, ref := range fieldRefs(tmpl) {
		if !hasPath(data, ref) {
			absent = append(absent, ref)
		}
	}
	if len(absent) > 0 {
		keys := make(map[string]struct{}, len(absent))
		for _, ref := range absent {
			key := strings.Join(ref, ".")
			missing[key] = struct{}{}
			keys[key] = struct{}{}
			ensureParents(data, ref)
		}
		if err := markPrinted(tmpl, keys); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return nil, err
	}

	unresolved := make([]string, 0, len(missing))
	for k := range missing {
		unresolved = append(unresolved, k)
	}
	sort.Strings(unresolved)
	return unresolved, nil
}

// buildData flattens the context into template data: every key is present
// verbatim and, where it does not clash, also as a nested map path.
func buildData(ctx Context) map[string]any {
	data := make(map[string]any)
	keys := ctx.Keys()
	sort.Strings(keys)
	for _, k := range keys {
		v, ok := ctx.Get(k)
		if !ok {
			continue
		}
		if _, exists := data[k]; !exists {
			data[k] = v
		}
		if strings.Contains(k, ".") {
			setPath(data, strings.Split(k, "."), v)
		}
	}
	return data
}

func hasPath(data map[string]any, path []string) bool {
	cur := data
	for i, p := range path {
		v, ok := cur[p]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			return true
		}
		next, ok := v.(map[string]any)
		if !ok {
			// A non-map value may still expose fields or methods.
			return true
		}
		cur = next
	}
	return true
}

// ensureParents creates the intermediate maps of path so a missing leaf
// evaluates to nil under missingkey=zero instead of failing on a nil parent.
func ensureParents(data map[string]any, path []string) {
	cur := data
	for _, p := range path[:len(path)-1] {
		v, ok := cur[p]
		if !ok {
			next := make(map[string]any)
			cur[p] = next
			cur = next
			continue
		}
		next, ok := v.(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

func setPath(data map[string]any, path []string, value any) {
	cur := data
	for i, p := range path {
		if i == len(path)-1 {
			if _, exists := cur[p]; !exists {
				cur[p] = value
			}
			return
		}
		v, ok := cur[p]
		if !ok {
			next := make(map[string]any)
			cur[p] = next
			cur = next
			continue
		}
		next, ok := v.(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

// fieldRefs collects the root-relative field chains referenced by the
// template (.a.b and $.a.b). Fields inside range/with bodies are skipped
// because dot is rebound there.
func fieldRefs(tmpl *template.Template) [][]string {
	var refs [][]string
	seen := make(map[string]struct{})
	add := func(ident []string) {
		if len(ident) == 0 {
			return
		}
		key := strings.Join(ident, ".")
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, append([]string(nil), ident...))
	}

	var walk func(n parse.Node, rootDot bool)
	walk = func(n parse.Node, rootDot bool) {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return
			}
			for _, c := range n.Nodes {
				walk(c, rootDot)
			}
		case *parse.ActionNode:
			walk(n.Pipe, rootDot)
		case *parse.PipeNode:
			if n == nil {
				return
			}
			for _, c := range n.Cmds {
				walk(c, rootDot)
			}
		case *parse.CommandNode:
			for _, a := range n.Args {
				walk(a, rootDot)
			}
		case *parse.FieldNode:
			if rootDot {
				add(n.Ident)
			}
		case *parse.VariableNode:
			if len(n.Ident) > 1 && n.Ident[0] == "$" {
				add(n.Ident[1:])
			}
		case *parse.ChainNode:
			walk(n.Node, rootDot)
		case *parse.IfNode:
			walk(n.Pipe, rootDot)
			walk(n.List, rootDot)
			walk(n.ElseList, rootDot)
		case *parse.RangeNode:
			walk(n.Pipe, rootDot)
			walk(n.List, false)
			walk(n.ElseList, rootDot)
		case *parse.WithNode:
			walk(n.Pipe, rootDot)
			walk(n.List, false)
			walk(n.ElseList, rootDot)
		case *parse.TemplateNode:
			walk(n.Pipe, rootDot)
		}
	}

	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			walk(t.Tree.Root, true)
		}
	}
	return refs
}

const placeholderFunc = "autoconfigPlaceholder"

// nilAware lists the functions that give nil a meaning of its own. A
// pipeline feeding a missing field into one of them is left alone.
var nilAware = map[string]bool{
	"default":  true,
	"empty":    true,
	"coalesce": true,
	"ternary":  true,
	"required": true,
	"kindIs":   true,
	"kindOf":   true,
	"typeIs":   true,
	"typeOf":   true,
}

func placeholder(key string, v any) any {
	if v == nil {
		return "${" + key + "}"
	}
	return v
}

// markPrinted rewrites every action that prints one of the missing keys so
// the value passes through the placeholder function right after it is
// read. Conditions and function arguments are not touched.
func markPrinted(tmpl *template.Template, missing map[string]struct{}) error {
	var walk func(n parse.Node, rootDot bool) error
	walk = func(n parse.Node, rootDot bool) error {
		switch n := n.(type) {
		case *parse.ListNode:
			if n == nil {
				return nil
			}
			for _, c := range n.Nodes {
				if err := walk(c, rootDot); err != nil {
					return err
				}
			}
		case *parse.ActionNode:
			if n.Pipe == nil || len(n.Pipe.Decl) > 0 {
				return nil
			}
			key := printedRef(n.Pipe.Cmds, rootDot)
			if _, ok := missing[key]; !ok || feedsNilAware(n.Pipe.Cmds[1:]) {
				return nil
			}
			cmd, err := placeholderCmd(key)
			if err != nil {
				return err
			}
			cmds := append([]*parse.CommandNode{n.Pipe.Cmds[0], cmd}, n.Pipe.Cmds[1:]...)
			n.Pipe.Cmds = cmds
		case *parse.IfNode:
			if err := walk(n.List, rootDot); err != nil {
				return err
			}
			return walk(n.ElseList, rootDot)
		case *parse.RangeNode:
			if err := walk(n.List, false); err != nil {
				return err
			}
			return walk(n.ElseList, rootDot)
		case *parse.WithNode:
			if err := walk(n.List, false); err != nil {
				return err
			}
			return walk(n.ElseList, rootDot)
		}
		return nil
	}

	for _, t := range tmpl.Templates() {
		if t.Tree == nil {
			continue
		}
		if err := walk(t.Tree.Root, true); err != nil {
			return err
		}
	}
	return nil
}

// printedRef returns the dotted key a pipeline starts with when its first
// command is a bare root field.
func printedRef(cmds []*parse.CommandNode, rootDot bool) string {
	if len(cmds) == 0 || len(cmds[0].Args) != 1 {
		return ""
	}
	switch a := cmds[0].Args[0].(type) {
	case *parse.FieldNode:
		if rootDot {
			return strings.Join(a.Ident, ".")
		}
	case *parse.VariableNode:
		if len(a.Ident) > 1 && a.Ident[0] == "$" {
			return strings.Join(a.Ident[1:], ".")
		}
	}
	return ""
}

func feedsNilAware(cmds []*parse.CommandNode) bool {
	for _, c := range cmds {
		if len(c.Args) == 0 {
			continue
		}
		if id, ok := c.Args[0].(*parse.IdentifierNode); ok && nilAware[id.Ident] {
			return true
		}
	}
	return false
}

// placeholderCmd parses the command that substitutes ${key} for a nil value.
func placeholderCmd(key string) (*parse.CommandNode, error) {
	t, err := template.New(placeholderFunc).
		Funcs(template.FuncMap{placeholderFunc: placeholder}).
		Parse("{{ " + placeholderFunc + " " + strconv.Quote(key) + " }}")
	if err != nil {
		return nil, err
	}
	action := t.Tree.Root.Nodes[0].(*parse.ActionNode)
	return action.Pipe.Cmds[0], nil
}
