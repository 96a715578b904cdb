package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"kb/internal/chunker"
	"kb/internal/domain"
	"kb/internal/embedding"
	"kb/internal/index"
	"kb/internal/loader"
)

// Options configures a KnowledgeBase.
type Options struct {
	// UploadDir is the ingestion directory scanned by Build.
	UploadDir string
	// IndexName names the artifact pair under the index directory.
	IndexName string
	// Extensions lists the file extensions Build considers.
	Extensions []string
	// MaxFileSizeMB skips larger files; 0 disables the limit.
	MaxFileSizeMB int
	// BatchSize is the number of passages embedded per call.
	BatchSize int
}

// KnowledgeBase wires loader, splitter, embedder and index manager into the
// build, search and stats operations.
type KnowledgeBase struct {
	opts     Options
	log      logrus.FieldLogger
	loader   loader.Loader
	splitter *chunker.Splitter
	embedder embedding.Embedder
	index    *index.Manager

	// loadMu serializes lazy loads triggered by Search and Stats.
	loadMu sync.Mutex
}

var _ domain.KnowledgeBase = (*KnowledgeBase)(nil)

// New returns a KnowledgeBase. All collaborators are required.
func New(opts Options, l loader.Loader, s *chunker.Splitter, e embedding.Embedder, m *index.Manager, log logrus.FieldLogger) *KnowledgeBase {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embedding.DefaultBatchSize
	}
	return &KnowledgeBase{
		opts:     opts,
		log:      log.WithField("component", "knowledge_base"),
		loader:   l,
		splitter: s,
		embedder: e,
		index:    m,
	}
}

// Build reuses the persisted index unless rebuild is set or nothing usable is
// on disk; otherwise it runs the full ingestion pipeline and persists the
// result. Errors and panics are reported through the returned BuildResult.
func (kb *KnowledgeBase) Build(ctx context.Context, rebuild bool) (res domain.BuildResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			kb.log.WithField("panic", r).Error("knowledge base build panicked")
			res = domain.BuildResult{Message: fmt.Sprintf("build failed: %v", r)}
		}
		res.Elapsed = time.Since(start)
	}()

	if !rebuild {
		ok, err := kb.index.Load(kb.opts.IndexName)
		switch {
		case err != nil:
			kb.log.WithError(err).Warn("existing index is unreadable, rebuilding")
		case ok:
			stats := kb.index.Stats()
			kb.log.WithField("vectors", stats.TotalVectors).Info("reusing existing knowledge base")
			return domain.BuildResult{Success: true, Message: "loaded existing knowledge base", Stats: &stats}
		}
	}

	res, err := kb.build(ctx)
	if err != nil {
		kb.log.WithError(err).Error("knowledge base build failed")
		return domain.BuildResult{Message: fmt.Sprintf("build failed: %v", err)}
	}
	return res
}

func (kb *KnowledgeBase) build(ctx context.Context) (domain.BuildResult, error) {
	files, err := kb.discover()
	if err != nil {
		return domain.BuildResult{}, err
	}
	if len(files) == 0 {
		return domain.BuildResult{Message: fmt.Sprintf("no documents found in %s", kb.opts.UploadDir)}, nil
	}

	var records []domain.Record
	for _, path := range files {
		recs, err := kb.loader.Load(path)
		if err != nil {
			kb.log.WithError(err).WithField("file", filepath.Base(path)).Warn("skipping document")
			continue
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		return domain.BuildResult{Message: "no documents could be loaded"}, nil
	}
	kb.log.WithFields(logrus.Fields{"files": len(files), "records": len(records)}).Info("documents loaded")

	passages := kb.splitter.SplitRecords(records)
	if len(passages) == 0 {
		return domain.BuildResult{Message: "chunking produced no passages"}, nil
	}
	texts := make([]string, len(passages))
	metadatas := make([]domain.Metadata, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
		md := p.Metadata.Clone()
		md[domain.MetaText] = p.Text
		metadatas[i] = md
	}
	kb.log.WithField("passages", len(passages)).Info("documents split")

	vectors, err := embedding.EmbedAll(ctx, kb.embedder, texts, kb.opts.BatchSize, func(done, total int) {
		kb.log.WithFields(logrus.Fields{"done": done, "total": total}).Debug("embedding progress")
	})
	if errors.Is(err, domain.ErrNoVectors) {
		kb.log.WithError(err).Warn("embedder returned nothing")
		return domain.BuildResult{Message: "embedding produced no vectors"}, nil
	}
	if err != nil {
		return domain.BuildResult{}, err
	}

	if err := kb.index.Build(vectors, metadatas); err != nil {
		return domain.BuildResult{}, err
	}
	if err := kb.index.Save(kb.opts.IndexName); err != nil {
		return domain.BuildResult{}, err
	}
	stats := kb.index.Stats()
	return domain.BuildResult{
		Success: true,
		Message: fmt.Sprintf("knowledge base built from %d documents, %d passages", len(files), len(passages)),
		Stats:   &stats,
	}, nil
}

// discover lists eligible files directly under the upload directory in name
// order. A missing directory yields no files.
func (kb *KnowledgeBase) discover() ([]string, error) {
	entries, err := os.ReadDir(kb.opts.UploadDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read upload dir: %w", err)
	}
	maxBytes := int64(kb.opts.MaxFileSizeMB) * 1024 * 1024
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if !kb.supported(filepath.Ext(name)) {
			kb.log.WithField("file", name).Debug("skipping unsupported file type")
			continue
		}
		info, err := e.Info()
		if err != nil {
			kb.log.WithError(err).WithField("file", name).Warn("skipping unreadable file")
			continue
		}
		if maxBytes > 0 && info.Size() > maxBytes {
			kb.log.WithFields(logrus.Fields{"file": name, "size": info.Size()}).Warn("skipping file over size limit")
			continue
		}
		files = append(files, filepath.Join(kb.opts.UploadDir, name))
	}
	return files, nil
}

func (kb *KnowledgeBase) supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, s := range kb.opts.Extensions {
		if strings.ToLower(s) == ext {
			return true
		}
	}
	return false
}

// Search returns the k passages closest to query. It never fails: a missing
// index or any pipeline error yields an empty result.
func (kb *KnowledgeBase) Search(ctx context.Context, query string, k int) (results []domain.SearchResult) {
	none := []domain.SearchResult{}
	defer func() {
		if r := recover(); r != nil {
			kb.log.WithField("panic", r).Error("knowledge base search panicked")
			results = none
		}
	}()
	if strings.TrimSpace(query) == "" {
		return none
	}
	if !kb.ensureLoaded() {
		return none
	}
	vec, err := embedding.EmbedQuery(ctx, kb.embedder, query)
	if err != nil {
		kb.log.WithError(err).Error("query embedding failed")
		return none
	}
	results, err = kb.index.Search(vec, k)
	if err != nil {
		kb.log.WithError(err).Error("search failed")
		return none
	}
	return results
}

// Stats loads the persisted index if needed and reports its state.
func (kb *KnowledgeBase) Stats(_ context.Context) domain.IndexStats {
	kb.ensureLoaded()
	return kb.index.Stats()
}

// ensureLoaded makes sure an index is resident, loading it from disk when
// necessary, and reports whether one is.
func (kb *KnowledgeBase) ensureLoaded() bool {
	kb.loadMu.Lock()
	defer kb.loadMu.Unlock()
	if kb.index.Ready() {
		return true
	}
	ok, err := kb.index.Load(kb.opts.IndexName)
	if err != nil {
		kb.log.WithError(err).Error("failed to load knowledge base")
		return false
	}
	if !ok {
		kb.log.Info("no knowledge base on disk, run build first")
	}
	return ok
}
