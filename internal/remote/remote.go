// Package remote fetches packages from SFTP servers and S3 buckets into a
// local working directory and publishes the generated result back.
package remote

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/melih-ucgun/autoconfig/internal/config"
)

// Location is a parsed remote package URL: sftp://user@host:port/path or
// s3://bucket/key.
type Location struct {
	Raw    string
	Scheme string
	User   string
	Host   string
	Port   int
	// Path is the remote file path for sftp and the object key for s3.
	Path   string
	Bucket string
}

// Name is the file name of the remote package.
func (l Location) Name() string { return path.Base(l.Path) }

func (l Location) String() string { return l.Raw }

// IsRemote reports whether raw is a URL this package handles.
func IsRemote(raw string) bool {
	return strings.HasPrefix(raw, "sftp://") || strings.HasPrefix(raw, "s3://")
}

func Parse(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("invalid remote url %q: %w", raw, err)
	}

	loc := Location{Raw: raw, Scheme: u.Scheme}
	switch u.Scheme {
	case "sftp":
		loc.Host = u.Hostname()
		if u.User != nil {
			loc.User = u.User.Username()
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Location{}, fmt.Errorf("invalid port in %q", raw)
			}
			loc.Port = port
		}
		loc.Path = u.Path
	case "s3":
		loc.Bucket = u.Host
		loc.Path = strings.TrimPrefix(u.Path, "/")
	default:
		return Location{}, fmt.Errorf("unsupported remote scheme %q", u.Scheme)
	}

	if loc.Host == "" && loc.Bucket == "" {
		return Location{}, fmt.Errorf("remote url %q has no host", raw)
	}
	if loc.Path == "" || strings.HasSuffix(loc.Path, "/") {
		return Location{}, fmt.Errorf("remote url %q does not name a file", raw)
	}
	return loc, nil
}

// Store moves package files between a remote location and the local disk.
type Store interface {
	Download(ctx context.Context, loc Location, localPath string) error
	// Upload replaces the remote file with localPath.
	Upload(ctx context.Context, loc Location, localPath string) error
	Close() error
}

// Open connects to the store serving loc. reveal opens encrypted secrets
// from the configuration; it may be nil.
func Open(ctx context.Context, loc Location, cfg config.RemoteConfig, reveal func(string) (string, error)) (Store, error) {
	if reveal == nil {
		reveal = func(s string) (string, error) { return s, nil }
	}
	switch loc.Scheme {
	case "sftp":
		return DialSFTP(ctx, loc, cfg.SFTP, reveal)
	case "s3":
		return NewS3Store(cfg.S3, reveal)
	default:
		return nil, fmt.Errorf("unsupported remote scheme %q", loc.Scheme)
	}
}

// Checkout downloads loc into dir, keeping the remote file name so the
// package kind can still be told from the extension.
func Checkout(ctx context.Context, store Store, loc Location, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	local := filepath.Join(dir, loc.Name())
	if err := store.Download(ctx, loc, local); err != nil {
		return "", err
	}
	return local, nil
}
