// Package index owns the similarity-searchable vector index and its on-disk
// artifact pair. Vector i in the index and metadata[i] always describe the
// same passage; every operation preserves insertion order.
package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kb/internal/domain"
)

// Options configures a Manager.
type Options struct {
	// Dir holds the artifact files.
	Dir string
	// Name is the artifact name used when Save or Load get an empty name.
	Name string
	// UseAccelerator enables the worker-pool backend when it is available.
	UseAccelerator bool
	// Workers sizes the worker pool; 0 means one per CPU.
	Workers int
	// SearchK is the result count used when Search gets k <= 0.
	SearchK int
}

// Manager builds, persists, reloads and searches one inner-product index.
// Vectors are not normalized here: callers that want cosine similarity must
// pass unit-length vectors.
type Manager struct {
	opts  Options
	log   logrus.FieldLogger
	accel accelerator
	now   func() time.Time

	mu       sync.RWMutex
	index    backend
	metadata []domain.Metadata
}

// NewManager creates the index directory and probes the accelerator once.
func NewManager(opts Options, log logrus.FieldLogger) (*Manager, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Dir == "" {
		opts.Dir = "./index"
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.SearchK <= 0 {
		opts.SearchK = 5
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	log = log.WithField("component", "index")
	accel := probeAccelerator(opts.UseAccelerator, opts.Workers)
	if accel.available() {
		log.WithField("workers", accel.workers).Debug("worker-pool accelerator available")
	} else {
		log.WithField("reason", accel.reason).Debug("accelerator unavailable, using flat index")
	}
	return &Manager{opts: opts, log: log, accel: accel, now: time.Now}, nil
}

// Build replaces the in-memory index with vectors and their metadata. The two
// slices must have equal, non-zero length and all vectors the same dimension.
// Every metadata map gets an indexed_at timestamp.
func (m *Manager) Build(vectors [][]float32, metadatas []domain.Metadata) error {
	if len(vectors) != len(metadatas) {
		return fmt.Errorf("%w: %d vectors but %d metadata entries", domain.ErrBuild, len(vectors), len(metadatas))
	}
	if len(vectors) == 0 {
		return fmt.Errorf("%w: no vectors to index", domain.ErrBuild)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return fmt.Errorf("%w: zero-dimension vectors", domain.ErrBuild)
	}
	flat := newFlatIndex(dim)
	if err := flat.add(vectors); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrBuild, err)
	}

	stamp := m.now().Format(time.RFC3339Nano)
	stored := make([]domain.Metadata, len(metadatas))
	for i, md := range metadatas {
		if md != nil {
			md[domain.MetaIndexedAt] = stamp
		}
		c := md.Clone()
		c[domain.MetaIndexedAt] = stamp
		cm, err := canonical(c)
		if err != nil {
			return fmt.Errorf("%w: metadata %d: %w", domain.ErrBuild, i, err)
		}
		stored[i] = cm
	}

	b := m.place(flat)
	m.mu.Lock()
	old := m.index
	m.index, m.metadata = b, stored
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	m.log.WithFields(logrus.Fields{"vectors": len(stored), "dimension": dim, "backend": b.name()}).Info("index built")
	return nil
}

// Save writes the index and metadata artifacts for name. Both files are
// written to temporary paths first and then renamed into place.
func (m *Manager) Save(name string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return fmt.Errorf("%w: %w", domain.ErrPersist, domain.ErrInvalidState)
	}
	indexPath, metaPath := m.paths(name)
	tmpIndex, tmpMeta := indexPath+".tmp", metaPath+".tmp"
	cleanup := func() {
		_ = os.Remove(tmpIndex)
		_ = os.Remove(tmpMeta)
	}

	if err := writeIndexFile(tmpIndex, m.index.portable()); err != nil {
		cleanup()
		return fmt.Errorf("%w: write %s: %w", domain.ErrPersist, filepath.Base(indexPath), err)
	}
	if err := writeMetaFile(tmpMeta, m.metadata); err != nil {
		cleanup()
		return fmt.Errorf("%w: write %s: %w", domain.ErrPersist, filepath.Base(metaPath), err)
	}
	if err := os.Rename(tmpIndex, indexPath); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", domain.ErrPersist, err)
	}
	if err := os.Rename(tmpMeta, metaPath); err != nil {
		cleanup()
		return fmt.Errorf("%w: %w", domain.ErrPersist, err)
	}
	m.log.WithField("path", indexPath).Info("index saved")
	return nil
}

// Load reads the artifacts for name. It returns false without error when
// either file is missing, and an error wrapping domain.ErrLoad when the files
// exist but cannot be decoded.
func (m *Manager) Load(name string) (bool, error) {
	indexPath, metaPath := m.paths(name)
	for _, p := range []string{indexPath, metaPath} {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				m.log.WithField("path", p).Debug("index artifact not found")
				return false, nil
			}
			return false, fmt.Errorf("%w: %w", domain.ErrLoad, err)
		}
	}

	flat, err := readIndexFile(indexPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", domain.ErrLoad, filepath.Base(indexPath), err)
	}
	metadata, err := readMetaFile(metaPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", domain.ErrLoad, filepath.Base(metaPath), err)
	}
	if flat.count() != len(metadata) {
		m.log.WithFields(logrus.Fields{
			"vectors":  flat.count(),
			"metadata": len(metadata),
		}).Warn("index and metadata counts differ, unmatched hits will be dropped from results")
	}

	b := m.place(flat)
	m.mu.Lock()
	old := m.index
	m.index, m.metadata = b, metadata
	m.mu.Unlock()
	if old != nil {
		old.close()
	}
	m.log.WithFields(logrus.Fields{"vectors": flat.count(), "backend": b.name()}).Info("index loaded")
	return true, nil
}

// Search returns up to k hits for query ordered by descending inner product.
// k <= 0 selects the configured default. Hits without an aligned metadata
// entry are skipped, so fewer than k results is a valid outcome.
func (m *Manager) Search(query []float32, k int) ([]domain.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return nil, domain.ErrInvalidState
	}
	if k <= 0 {
		k = m.opts.SearchK
	}
	if len(query) != m.index.dimension() {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", domain.ErrDimension, len(query), m.index.dimension())
	}
	// slots past the vector count would only hold padding
	k = min(k, m.index.count())
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}

	hits := m.index.search(query, k)
	results := make([]domain.SearchResult, 0, len(hits))
	for i, h := range hits {
		if h.id < 0 || h.id >= len(m.metadata) {
			continue
		}
		results = append(results, domain.SearchResult{
			Metadata: m.metadata[h.id].Clone(),
			Score:    h.score,
			Rank:     i + 1,
		})
	}
	return results, nil
}

// Stats returns a diagnostic snapshot.
func (m *Manager) Stats() domain.IndexStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.index == nil {
		return domain.IndexStats{Status: domain.StatusUninitialized}
	}
	return domain.IndexStats{
		Status:        domain.StatusReady,
		TotalVectors:  m.index.count(),
		Dimension:     m.index.dimension(),
		MetadataCount: len(m.metadata),
		Backend:       m.index.name(),
	}
}

// Ready reports whether an index is resident and searchable.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index != nil
}

// Metadata returns a copy of the aligned metadata sequence.
func (m *Manager) Metadata() []domain.Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Metadata, len(m.metadata))
	for i, md := range m.metadata {
		out[i] = md.Clone()
	}
	return out
}

// Close releases the execution backend.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index != nil {
		m.index.close()
		m.index, m.metadata = nil, nil
	}
	return nil
}

// place moves flat onto the accelerator when possible. Offload failures are
// logged and the flat index is used instead.
func (m *Manager) place(flat *flatIndex) backend {
	if !m.accel.available() {
		return flat
	}
	b, err := m.accel.offload(flat, m.log)
	if err != nil {
		m.log.WithError(err).Warn("accelerator offload failed, using flat index")
		return flat
	}
	return b
}

func (m *Manager) paths(name string) (indexPath, metaPath string) {
	if name == "" {
		name = m.opts.Name
	}
	return filepath.Join(m.opts.Dir, name+".index"), filepath.Join(m.opts.Dir, name+"_meta")
}
