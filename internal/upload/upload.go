// Package upload stores incoming documents in the ingestion directory under
// collision-resistant names.
package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\-.]`)

// Upload describes one stored file.
type Upload struct {
	Name string `json:"filename"`
	Path string `json:"file_path"`
	Size int64  `json:"size"`
}

// Manager writes uploads into a directory and remembers what it stored.
type Manager struct {
	dir   string
	log   logrus.FieldLogger
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	uploaded map[string]struct{}
}

// NewManager creates dir if needed.
func NewManager(dir string, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Manager{
		dir:      dir,
		log:      log.WithField("component", "upload"),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		uploaded: make(map[string]struct{}),
	}, nil
}

// Dir returns the ingestion directory.
func (m *Manager) Dir() string { return m.dir }

// Save copies r into the ingestion directory under a unique name derived
// from filename. An existing file is never overwritten.
func (m *Manager) Save(filename string, r io.Reader) (Upload, error) {
	name := UniqueName(filename, m.now(), m.newID())
	path := filepath.Join(m.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Upload{}, fmt.Errorf("upload %s: %w", filename, err)
	}

	m.mu.Lock()
	m.uploaded[name] = struct{}{}
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"file": name, "bytes": n}).Info("document uploaded")
	return Upload{Name: name, Path: path, Size: n}, nil
}

// Uploaded lists the names stored by this manager since creation or the
// last Clear.
func (m *Manager) Uploaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.uploaded))
	for name := range m.uploaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clear removes every regular file directly under the ingestion directory
// and returns how many were removed.
func (m *Manager) Clear() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, fmt.Errorf("clear upload dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil {
			return removed, fmt.Errorf("clear upload dir: %w", err)
		}
		removed++
	}

	m.mu.Lock()
	m.uploaded = make(map[string]struct{})
	m.mu.Unlock()
	m.log.WithField("files", removed).Info("upload dir cleared")
	return removed, nil
}

// UniqueName builds <clean>_<unix seconds>_<first 8 chars of id><ext> from the
// base name of filename. Characters other than letters, digits, '_', '-' and
// '.' become '_'.
func UniqueName(filename string, now time.Time, id string) string {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	ext := filepath.Ext(base)
	stem := unsafeChars.ReplaceAllString(strings.TrimSuffix(base, ext), "_")
	if stem == "" {
		stem = "file"
	}
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%d_%s%s", stem, now.Unix(), id, unsafeChars.ReplaceAllString(ext, "_"))
}
