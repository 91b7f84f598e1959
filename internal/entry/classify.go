package entry

import (
	"path"
	"strings"
)

// Kind is what a package looks like on disk.
type Kind int

const (
	KindUnknown Kind = iota
	KindDirectory
	// KindWebDirectory is an exploded web application (has WEB-INF).
	KindWebDirectory
	KindJar
	KindWar
	KindEar
	KindRar
	KindZip
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindWebDirectory:
		return "web-directory"
	case KindJar:
		return "jar"
	case KindWar:
		return "war"
	case KindEar:
		return "ear"
	case KindRar:
		return "rar"
	case KindZip:
		return "zip"
	default:
		return "unknown"
	}
}

// IsArchive reports whether packages of this kind are zip files.
func (k Kind) IsArchive() bool {
	return k >= KindJar
}

// Classify decides the kind of a package from its name, whether it is a
// directory and whether it holds a WEB-INF directory.
func Classify(name string, isDir, hasWebInf bool) Kind {
	if isDir {
		if hasWebInf {
			return KindWebDirectory
		}
		return KindDirectory
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".jar":
		return KindJar
	case ".war":
		return KindWar
	case ".ear":
		return KindEar
	case ".rar":
		return KindRar
	case ".zip":
		return KindZip
	default:
		return KindUnknown
	}
}
