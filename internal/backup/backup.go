// Package backup keeps copies of archives before they are replaced and
// records each run so it can be rolled back.
package backup

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/melih-ucgun/autoconfig/internal/consts"
	"github.com/melih-ucgun/autoconfig/internal/core"
)

const manifestName = "manifest.json"

// Item is one archive copied during a run.
type Item struct {
	Original string `json:"original"`
	Backup   string `json:"backup"`
}

// Run is the manifest written next to the copies of one run.
type Run struct {
	ID      string    `json:"id"`
	Started time.Time `json:"started"`
	Items   []Item    `json:"items"`
}

// Manager copies files into BaseDir/<run id>/ before they are modified.
// It is safe for concurrent use.
type Manager struct {
	BaseDir string
	RunID   string
	fs      core.FileSystem

	mu  sync.Mutex
	run Run
}

// NewManager uses the default backup directory when baseDir is empty.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		dir, err := consts.GetBackupDir()
		if err != nil {
			return nil, err
		}
		baseDir = dir
	}
	id := uuid.NewString()
	return &Manager{
		BaseDir: baseDir,
		RunID:   id,
		fs:      &core.RealFS{},
		run:     Run{ID: id, Started: time.Now()},
	}, nil
}

// Backup copies sourcePath and returns where the copy went. A missing source
// is not an error; there is nothing to keep.
func (m *Manager) Backup(sourcePath string) (string, error) {
	info, err := m.fs.Stat(sourcePath)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("backup source '%s' is a directory, not supported", sourcePath)
	}

	// The hash keeps same-named archives from different directories apart.
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return "", err
	}
	pathHash := fmt.Sprintf("%x", sha256.Sum256([]byte(abs)))[:12]
	backupPath := filepath.Join(m.BaseDir, m.RunID, pathHash+"-"+filepath.Base(sourcePath))

	if err := core.CopyFile(m.fs, sourcePath, backupPath); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", sourcePath, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.Items = append(m.run.Items, Item{Original: abs, Backup: backupPath})
	if err := m.saveLocked(); err != nil {
		return backupPath, err
	}
	return backupPath, nil
}

func (m *Manager) saveLocked() error {
	data, err := json.MarshalIndent(m.run, "", "  ")
	if err != nil {
		return err
	}
	return m.fs.WriteFile(filepath.Join(m.BaseDir, m.RunID, manifestName), data, 0o644)
}

// Restore copies a backup over targetPath.
func (m *Manager) Restore(backupPath, targetPath string) error {
	if _, err := m.fs.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found at %s: %w", backupPath, err)
	}
	return core.CopyFile(m.fs, backupPath, targetPath)
}

// Runs lists the recorded runs, newest first.
func (m *Manager) Runs() ([]Run, error) {
	entries, err := os.ReadDir(m.BaseDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var runs []Run
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := m.load(e.Name())
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

func (m *Manager) load(id string) (Run, error) {
	data, err := m.fs.ReadFile(filepath.Join(m.BaseDir, id, manifestName))
	if err != nil {
		return Run{}, err
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, fmt.Errorf("corrupt manifest for run %s: %w", id, err)
	}
	return run, nil
}

// Rollback restores every archive of run id, newest copy last. An empty id
// means the most recent run.
func (m *Manager) Rollback(id string) (Run, error) {
	if id == "" {
		runs, err := m.Runs()
		if err != nil {
			return Run{}, err
		}
		if len(runs) == 0 {
			return Run{}, fmt.Errorf("no backups in %s", m.BaseDir)
		}
		id = runs[0].ID
	}
	run, err := m.load(id)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: %w", id, err)
	}
	// Reverse order: if an archive was replaced twice, the first copy wins.
	for i := len(run.Items) - 1; i >= 0; i-- {
		item := run.Items[i]
		if err := m.Restore(item.Backup, item.Original); err != nil {
			return run, err
		}
	}
	return run, nil
}
