// Package resource names the things autoconfig reads: packages and the
// descriptors inside them.
package resource

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Resource is a logical name plus where to fetch it from. File is set only
// when the resource is a file or directory on the local disk.
type Resource struct {
	Name string
	URL  string
	File string
}

// FromFile builds a resource for a local path.
func FromFile(p string) (Resource, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Resource{}, fmt.Errorf("resolve %s: %w", p, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return Resource{
		Name: filepath.Base(abs),
		URL:  u.String(),
		File: abs,
	}, nil
}

// Child returns the resource for name, relative to r. Children of a
// directory stay on disk; children of an archive are addressed with the
// "!/" separator used by jar URLs.
func (r Resource) Child(name string, inArchive bool) Resource {
	name = strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
	if !inArchive && r.File != "" {
		p := filepath.Join(r.File, filepath.FromSlash(name))
		return Resource{
			Name: name,
			URL:  strings.TrimSuffix(r.URL, "/") + "/" + name,
			File: p,
		}
	}
	return Resource{
		Name: name,
		URL:  r.URL + "!/" + name,
	}
}

// HasFile reports whether the resource is backed by a local file.
func (r Resource) HasFile() bool { return r.File != "" }

func (r Resource) String() string { return r.URL }
