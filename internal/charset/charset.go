// Package charset resolves, sniffs and converts the character sets declared
// by generate rules.
package charset

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"

	"github.com/melih-ucgun/autoconfig/internal/consts"
)

var encodingAttr = regexp.MustCompile(`encoding\s*=\s*["']([A-Za-z0-9._:\-]+)["']`)

// Sniff looks for an encoding="..." attribute in the first SniffLimit bytes.
// It returns "" when none is declared.
func Sniff(head []byte) string {
	if len(head) > consts.SniffLimit {
		head = head[:consts.SniffLimit]
	}
	m := encodingAttr.FindSubmatch(head)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// Resolve picks the input and output charsets for a template: declared
// values win, then the sniffed encoding, then fallback.
func Resolve(declaredIn, declaredOut string, head []byte, fallback string) (in, out string) {
	in = strings.TrimSpace(declaredIn)
	if in == "" {
		in = Sniff(head)
	}
	if in == "" {
		in = fallback
	}
	out = strings.TrimSpace(declaredOut)
	if out == "" {
		out = in
	}
	return in, out
}

// Lookup returns the encoding registered under an IANA name.
func Lookup(name string) (encoding.Encoding, error) {
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

// Decode converts data in the named charset to a UTF-8 string. A leading
// UTF-8 byte order mark is dropped.
func Decode(data []byte, name string) (string, error) {
	enc, err := Lookup(name)
	if err != nil {
		return "", err
	}
	if enc == unicode.UTF8 {
		return strings.TrimPrefix(string(data), "\ufeff"), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), nil
}

// Encode converts s into the named charset. Characters the charset cannot
// represent are replaced rather than failing the render.
func Encode(s, name string) ([]byte, error) {
	enc, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if enc == unicode.UTF8 {
		return []byte(s), nil
	}
	out, err := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return out, nil
}
