package index

import (
	"encoding/binary"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	log, _ := test.NewNullLogger()
	m, err := NewManager(opts, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func randomUnitVectors(seed int64, n, dim int) [][]float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		var norm float64
		for j := range v {
			v[j] = float32(rng.NormFloat64())
			norm += float64(v[j]) * float64(v[j])
		}
		norm = math.Sqrt(norm)
		for j := range v {
			v[j] = float32(float64(v[j]) / norm)
		}
		out[i] = v
	}
	return out
}

func idMetadata(n int) []domain.Metadata {
	out := make([]domain.Metadata, n)
	for i := range out {
		out[i] = domain.Metadata{"id": i, domain.MetaSource: "doc.txt"}
	}
	return out
}

func bruteForce(vectors [][]float32, q []float32, k int) []int {
	ids := make([]int, len(vectors))
	scores := make([]float32, len(vectors))
	for i, v := range vectors {
		ids[i] = i
		scores[i] = dot(v, q)
	}
	sort.SliceStable(ids, func(a, b int) bool { return scores[ids[a]] > scores[ids[b]] })
	if k > len(ids) {
		k = len(ids)
	}
	return ids[:k]
}

func resultIDs(t *testing.T, results []domain.SearchResult) []int {
	t.Helper()
	ids := make([]int, len(results))
	for i, r := range results {
		id, ok := r.Metadata.Int("id")
		require.True(t, ok)
		ids[i] = id
	}
	return ids
}

func TestManager_BuildRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{Dir: dir})

	err := m.Build(randomUnitVectors(1, 10, 4), idMetadata(9))
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.False(t, m.Ready())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_BuildRejectsBadBatches(t *testing.T) {
	m := newTestManager(t, Options{})

	assert.ErrorIs(t, m.Build(nil, nil), domain.ErrBuild)
	assert.ErrorIs(t, m.Build([][]float32{{}}, idMetadata(1)), domain.ErrBuild)

	ragged := [][]float32{{1, 0, 0}, {0, 1}}
	err := m.Build(ragged, idMetadata(2))
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.ErrorIs(t, err, domain.ErrDimension)
	assert.False(t, m.Ready())
}

func TestManager_SearchBeforeBuild(t *testing.T) {
	m := newTestManager(t, Options{})
	_, err := m.Search([]float32{1, 0}, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.StatusUninitialized, m.Stats().Status)
}

func TestManager_SearchOrdering(t *testing.T) {
	vectors := randomUnitVectors(42, 200, 16)
	queries := randomUnitVectors(7, 5, 16)

	for _, tc := range []struct {
		name string
		opts Options
	}{
		{"flat", Options{UseAccelerator: false}},
		{"pool", Options{UseAccelerator: true, Workers: 4}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, tc.opts)
			require.NoError(t, m.Build(vectors, idMetadata(len(vectors))))
			assert.Equal(t, tc.name, m.Stats().Backend)

			for _, q := range queries {
				results, err := m.Search(q, 5)
				require.NoError(t, err)
				require.Len(t, results, 5)
				assert.Equal(t, bruteForce(vectors, q, 5), resultIDs(t, results))
				for i, r := range results {
					assert.Equal(t, i+1, r.Rank)
					if i > 0 {
						assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
					}
					id, _ := r.Metadata.Int("id")
					assert.InDelta(t, dot(vectors[id], q), r.Score, 1e-5)
				}
			}
		})
	}
}

func TestManager_SearchSelfMatch(t *testing.T) {
	vectors := randomUnitVectors(3, 50, 8)
	m := newTestManager(t, Options{})
	require.NoError(t, m.Build(vectors, idMetadata(len(vectors))))

	results, err := m.Search(vectors[17], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int{17}, resultIDs(t, results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestManager_KLargerThanIndex(t *testing.T) {
	vectors := randomUnitVectors(5, 3, 4)
	m := newTestManager(t, Options{UseAccelerator: true, Workers: 2})
	require.NoError(t, m.Build(vectors, idMetadata(3)))

	results, err := m.Search(vectors[0], 10)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestManager_HugeKIsBounded(t *testing.T) {
	vectors := randomUnitVectors(6, 9, 4)
	for _, opts := range []Options{{}, {UseAccelerator: true, Workers: 4}} {
		m := newTestManager(t, opts)
		require.NoError(t, m.Build(vectors, idMetadata(9)))

		results, err := m.Search(vectors[2], math.MaxInt/2)
		require.NoError(t, err)
		assert.Len(t, results, 9)
		assert.Equal(t, bruteForce(vectors, vectors[2], 9), resultIDs(t, results))
	}
}

func TestManager_DefaultK(t *testing.T) {
	vectors := randomUnitVectors(5, 20, 4)
	m := newTestManager(t, Options{SearchK: 4})
	require.NoError(t, m.Build(vectors, idMetadata(20)))

	results, err := m.Search(vectors[0], 0)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestManager_QueryDimensionMismatch(t *testing.T) {
	m := newTestManager(t, Options{})
	require.NoError(t, m.Build(randomUnitVectors(1, 4, 8), idMetadata(4)))

	_, err := m.Search([]float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, domain.ErrDimension)
}

func TestManager_BuildStampsIndexedAt(t *testing.T) {
	m := newTestManager(t, Options{})
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	metas := idMetadata(2)
	require.NoError(t, m.Build(randomUnitVectors(1, 2, 4), metas))

	want := fixed.Format(time.RFC3339Nano)
	assert.Equal(t, want, metas[0][domain.MetaIndexedAt])
	for _, md := range m.Metadata() {
		assert.Equal(t, want, md.String(domain.MetaIndexedAt))
	}
}

func TestManager_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	vectors := randomUnitVectors(11, 64, 12)
	q := randomUnitVectors(12, 1, 12)[0]

	m := newTestManager(t, Options{Dir: dir, Name: "kb"})
	require.NoError(t, m.Build(vectors, idMetadata(len(vectors))))
	before, err := m.Search(q, 8)
	require.NoError(t, err)
	require.NoError(t, m.Save(""))

	assert.FileExists(t, filepath.Join(dir, "kb.index"))
	assert.FileExists(t, filepath.Join(dir, "kb_meta"))
	assert.NoFileExists(t, filepath.Join(dir, "kb.index.tmp"))
	assert.NoFileExists(t, filepath.Join(dir, "kb_meta.tmp"))

	loaded := newTestManager(t, Options{Dir: dir, Name: "kb", UseAccelerator: true, Workers: 3})
	ok, err := loaded.Load("")
	require.NoError(t, err)
	require.True(t, ok)

	after, err := loaded.Search(q, 8)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, m.Metadata(), loaded.Metadata())

	stats := loaded.Stats()
	assert.Equal(t, domain.StatusReady, stats.Status)
	assert.Equal(t, 64, stats.TotalVectors)
	assert.Equal(t, 12, stats.Dimension)
	assert.Equal(t, 64, stats.MetadataCount)
}

func TestManager_LoadMissing(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{Dir: dir})

	ok, err := m.Load("nothing")
	require.NoError(t, err)
	assert.False(t, ok)

	// an index file without its metadata counts as missing
	require.NoError(t, writeIndexFile(filepath.Join(dir, "half.index"), newFlatIndex(4)))
	ok, err = m.Load("half")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, m.Ready())
}

func TestManager_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{Dir: dir})
	require.NoError(t, m.Build(randomUnitVectors(1, 4, 4), idMetadata(4)))
	require.NoError(t, m.Save("good"))

	t.Run("index", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad1.index"), []byte("not an index file at all, definitely"), 0o644))
		copyFile(t, filepath.Join(dir, "good_meta"), filepath.Join(dir, "bad1_meta"))
		_, err := m.Load("bad1")
		assert.ErrorIs(t, err, domain.ErrLoad)
	})
	t.Run("truncated body", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "good.index"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad2.index"), data[:len(data)-3], 0o644))
		copyFile(t, filepath.Join(dir, "good_meta"), filepath.Join(dir, "bad2_meta"))
		_, err = m.Load("bad2")
		assert.ErrorIs(t, err, domain.ErrLoad)
	})
	t.Run("oversized header", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "good.index"))
		require.NoError(t, err)
		header := append([]byte(nil), data[:headerSize]...)
		binary.LittleEndian.PutUint64(header[16:24], 1<<62)
		binary.LittleEndian.PutUint64(header[24:32], 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad4.index"), header, 0o644))
		copyFile(t, filepath.Join(dir, "good_meta"), filepath.Join(dir, "bad4_meta"))
		_, err = m.Load("bad4")
		assert.ErrorIs(t, err, domain.ErrLoad)
	})
	t.Run("wrapping count", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "good.index"))
		require.NoError(t, err)
		header := append([]byte(nil), data[:headerSize]...)
		binary.LittleEndian.PutUint64(header[16:24], 4)
		binary.LittleEndian.PutUint64(header[24:32], 1<<62)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad5.index"), header, 0o644))
		copyFile(t, filepath.Join(dir, "good_meta"), filepath.Join(dir, "bad5_meta"))
		_, err = m.Load("bad5")
		assert.ErrorIs(t, err, domain.ErrLoad)
	})
	t.Run("metadata", func(t *testing.T) {
		copyFile(t, filepath.Join(dir, "good.index"), filepath.Join(dir, "bad3.index"))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad3_meta"), []byte("garbage"), 0o644))
		_, err := m.Load("bad3")
		assert.ErrorIs(t, err, domain.ErrLoad)
	})
}

func TestManager_LoadToleratesShortMetadata(t *testing.T) {
	dir := t.TempDir()
	vectors := randomUnitVectors(9, 5, 4)
	m := newTestManager(t, Options{Dir: dir})
	require.NoError(t, m.Build(vectors, idMetadata(5)))
	require.NoError(t, m.Save("short"))
	require.NoError(t, writeMetaFile(filepath.Join(dir, "short_meta"), idMetadata(3)))

	log, hook := test.NewNullLogger()
	loaded, err := NewManager(Options{Dir: dir}, log)
	require.NoError(t, err)
	defer loaded.Close()

	ok, err := loaded.Load("short")
	require.NoError(t, err)
	require.True(t, ok)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)

	results, err := loaded.Search(vectors[0], 5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for _, r := range results {
		id, _ := r.Metadata.Int("id")
		assert.Less(t, id, 3)
	}
}

func TestManager_SaveErrors(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{Dir: dir})

	err := m.Save("early")
	assert.ErrorIs(t, err, domain.ErrPersist)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	require.NoError(t, m.Build(randomUnitVectors(1, 2, 4), idMetadata(2)))
	err = m.Save(filepath.Join("no", "such", "dir", "kb"))
	assert.ErrorIs(t, err, domain.ErrPersist)
}

func TestManager_SearchReturnsCopies(t *testing.T) {
	vectors := randomUnitVectors(1, 3, 4)
	m := newTestManager(t, Options{})
	require.NoError(t, m.Build(vectors, idMetadata(3)))

	results, err := m.Search(vectors[0], 1)
	require.NoError(t, err)
	results[0].Metadata["id"] = "changed"

	again, err := m.Search(vectors[0], 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, resultIDs(t, again))
}

func copyFile(t *testing.T, from, to string) {
	t.Helper()
	data, err := os.ReadFile(from)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(to, data, 0o644))
}
