package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Storage error taxonomy.
var (
	ErrNotFound   = errors.New("session file not found")
	ErrPermission = errors.New("session file permission denied")
)

// CorruptError reports a session file that exists but cannot be decoded.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt session file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Save writes the session snapshot to path as indented JSON, atomically via
// temp file + rename.
func Save(path string, s *ChatSession) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", ErrPermission, path)
		}
		return fmt.Errorf("write session tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// Load reads a session snapshot from path into a fresh ChatSession.
func Load(path string) (*ChatSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("%w: %s", ErrPermission, path)
		default:
			return nil, fmt.Errorf("read session: %w", err)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}

	s := &ChatSession{}
	s.Restore(snap)
	return s, nil
}

// CleanName sanitizes a user-supplied or model-generated session name:
// surrounding quotes stripped, spaces replaced with underscores.
func CleanName(name string) string {
	cleaned := strings.TrimSpace(name)
	cleaned = strings.Trim(cleaned, `"`)
	cleaned = strings.ReplaceAll(cleaned, " ", "_")
	return cleaned
}

// DefaultName derives a save name for an untitled session.
func DefaultName() string {
	u := uuid.New().String()
	return "sess_" + strings.ReplaceAll(u[:8], "-", "")
}

// SavedInfo describes one saved session file.
type SavedInfo struct {
	Name     string
	Modified time.Time
	Model    string
}

// ListSaved returns saved sessions in dir, most recently modified first.
// The model name is read from each file; unreadable files are skipped.
func ListSaved(dir string) ([]SavedInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list sessions dir: %w", err)
	}

	var infos []SavedInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info := SavedInfo{Name: entry.Name(), Modified: fi.ModTime(), Model: "unknown"}
		if s, err := Load(filepath.Join(dir, entry.Name())); err == nil {
			info.Model = s.ActiveModel()
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Modified.After(infos[j].Modified)
	})

	return infos, nil
}
