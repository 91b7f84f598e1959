package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/melih-ucgun/autoconfig/internal/config"
)

// SFTPStore reads and writes packages over SFTP.
type SFTPStore struct {
	ssh    *ssh.Client
	client *sftp.Client
}

// NewSFTPStore wraps an existing client. Closing the store closes it.
func NewSFTPStore(client *sftp.Client) *SFTPStore {
	return &SFTPStore{client: client}
}

// DialSFTP opens an SSH connection to loc.Host and starts an SFTP session.
// Host keys are verified against known_hosts.
func DialSFTP(ctx context.Context, loc Location, cfg config.SFTPConfig, reveal func(string) (string, error)) (*SFTPStore, error) {
	var authMethods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath)
		if err != nil {
			return nil, err
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		password, err := reveal(cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("sftp password: %w", err)
		}
		authMethods = append(authMethods, ssh.Password(password))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no sftp credentials configured for %s", loc.Host)
	}

	hostKeyCallback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	user := loc.User
	if user == "" {
		user = cfg.User
	}
	port := loc.Port
	if port == 0 {
		port = cfg.Port
	}
	if port == 0 {
		port = 22
	}

	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}

	addr := net.JoinHostPort(loc.Host, strconv.Itoa(port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed, host key could not be verified or login was refused: %w", addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("start sftp session: %w", err)
	}
	return &SFTPStore{ssh: sshClient, client: client}, nil
}

func loadSigner(keyPath string) (ssh.Signer, error) {
	if strings.HasPrefix(keyPath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		keyPath = filepath.Join(home, keyPath[2:])
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}
	return signer, nil
}

func hostKeyCallback(cfg config.SFTPConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHostsPath := cfg.KnownHosts
	if knownHostsPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("home directory not found: %w", err)
		}
		knownHostsPath = filepath.Join(homeDir, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("could not load known_hosts (%s): %w. Connect once with ssh to record the host key", knownHostsPath, err)
	}
	return cb, nil
}

func (s *SFTPStore) Download(ctx context.Context, loc Location, localPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := s.client.Open(loc.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", loc, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := src.WriteTo(dst); err != nil {
		return fmt.Errorf("download %s: %w", loc, err)
	}
	return nil
}

// Upload writes to a temporary file next to the target and renames it into
// place, so readers never see a partial package.
func (s *SFTPStore) Upload(ctx context.Context, loc Location, localPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := s.client.MkdirAll(path.Dir(loc.Path)); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	tmp := path.Join(path.Dir(loc.Path), "."+path.Base(loc.Path)+"."+uuid.NewString()+".tmp")
	defer func() {
		if err != nil {
			_ = s.client.Remove(tmp)
		}
	}()

	if err := s.write(tmp, src); err != nil {
		return fmt.Errorf("upload %s: %w", loc, err)
	}

	if err := s.client.PosixRename(tmp, loc.Path); err != nil {
		// Servers without the posix-rename extension refuse to rename over
		// an existing file.
		if rerr := s.client.Remove(loc.Path); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("replace %s: %w", loc, err)
		}
		if err := s.client.Rename(tmp, loc.Path); err != nil {
			return fmt.Errorf("replace %s: %w", loc, err)
		}
	}
	return nil
}

func (s *SFTPStore) write(name string, src io.Reader) (err error) {
	dst, err := s.client.Create(name)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	_, err = dst.ReadFrom(src)
	return err
}

func (s *SFTPStore) Close() error {
	err := s.client.Close()
	if s.ssh != nil {
		if serr := s.ssh.Close(); err == nil {
			err = serr
		}
	}
	return err
}
