package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
)

type fakeSearcher struct {
	queries []string
	ks      []int
	results []domain.SearchResult
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) []domain.SearchResult {
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	return f.results
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_SearchAndNavigate(t *testing.T) {
	kb := &fakeSearcher{results: []domain.SearchResult{
		{Rank: 1, Score: 0.9, Metadata: domain.Metadata{domain.MetaSource: "a.txt", domain.MetaText: "第一段。", domain.MetaChunkIndex: 0.0, domain.MetaTotalChunks: 2.0}},
		{Rank: 2, Score: 0.5, Metadata: domain.Metadata{domain.MetaSource: "b.txt", domain.MetaText: "第二段。"}},
	}}
	m := New(kb, domain.IndexStats{Status: domain.StatusReady, TotalVectors: 2, Dimension: 8, Backend: "flat"}, 7)
	assert.Equal(t, "Loading...", m.View())

	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	assert.Contains(t, m.View(), "2 passages, dimension 8, backend flat")

	m.input.SetValue("  段落  ")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"段落"}, kb.queries)
	assert.Equal(t, []int{7}, kb.ks)
	assert.Equal(t, `2 results for "段落"`, m.status)
	assert.Contains(t, m.renderCurrentResult(), "a.txt  passage 1/2")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 1, m.cursor)
	assert.Contains(t, m.renderCurrentResult(), "b.txt")

	m = update(t, m, tea.KeyMsg{Type: tea.KeyDown})
	assert.Equal(t, 0, m.cursor)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyUp})
	assert.Equal(t, 1, m.cursor)
}

func TestModel_NoResults(t *testing.T) {
	kb := &fakeSearcher{}
	m := New(kb, domain.IndexStats{Status: domain.StatusUninitialized}, 5)
	assert.Contains(t, m.header, "kb build")

	m.input.SetValue("missing")
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, `No results for "missing"`, m.status)
	assert.Equal(t, "No results yet.", m.renderCurrentResult())

	// blank queries never reach the knowledge base
	m.input.SetValue("   ")
	update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Len(t, kb.queries, 1)
}

func TestHighlightBestSentence(t *testing.T) {
	text := "Channels connect goroutines. Mutexes guard state! 通道用于通信。尾句没有标点"

	assert.Equal(t, text, highlightBestSentence(text, "unrelated words"))
	assert.Equal(t, "", highlightBestSentence("", "query"))

	out := highlightBestSentence(text, "mutexes")
	assert.Contains(t, out, "Channels connect goroutines.")
	assert.Contains(t, out, "Mutexes guard state!")
	assert.Contains(t, out, "通道用于通信。")
	assert.Contains(t, out, "尾句没有标点")
}

func TestTokenOverlapScore(t *testing.T) {
	q := toTokenSet("向量 Search")
	assert.Equal(t, 3, tokenOverlapScore(q, "search the 向量 index, search again"))
	assert.Equal(t, 0, tokenOverlapScore(q, "nothing here"))
}
