package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kb/internal/domain"
)

// Searcher is the TUI-facing subset of the knowledge base.
type Searcher interface {
	Search(ctx context.Context, query string, k int) []domain.SearchResult
}

// Model is the Bubble Tea model for the interactive search screen.
type Model struct {
	kb        Searcher
	k         int
	input     textinput.Model
	viewport  viewport.Model
	results   []domain.SearchResult
	header    string
	status    string
	cursor    int
	ready     bool
	lastQuery string
}

// New creates a new TUI model. stats is shown under the title; k is the
// number of results requested per query.
func New(kb Searcher, stats domain.IndexStats, k int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	header := fmt.Sprintf("%d passages, dimension %d, backend %s", stats.TotalVectors, stats.Dimension, stats.Backend)
	if stats.Status != domain.StatusReady {
		header = "No knowledge base loaded. Run `kb build` first."
	}
	return Model{kb: kb, k: k, input: ti, viewport: vp, header: header, status: "Type to search."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header lines, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" {
				m.results = m.kb.Search(context.Background(), q, m.k)
				m.cursor = 0
				m.lastQuery = q
				if len(m.results) == 0 {
					m.status = fmt.Sprintf("No results for %q", q)
				} else {
					m.status = fmt.Sprintf("%d results for %q", len(m.results), q)
				}
				m.viewport.SetContent(m.renderCurrentResult())
				m.viewport.GotoTop()
				return m, nil
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("Knowledge Base Search")
	header := dimStyle.Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return title + "\n" + header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  rank=%d  score=%.3f", m.cursor+1, len(m.results), r.Rank, r.Score)
	source := r.Metadata.String(domain.MetaSource)
	if idx, ok := r.Metadata.Int(domain.MetaChunkIndex); ok {
		if total, ok := r.Metadata.Int(domain.MetaTotalChunks); ok {
			source = fmt.Sprintf("%s  passage %d/%d", source, idx+1, total)
		}
	}
	text := r.Metadata.String(domain.MetaText)
	if text == "" {
		text = r.Metadata.String(domain.MetaSummary)
	}
	return title + "\n" + dimStyle.Render(source) + "\n\n" + highlightBestSentence(text, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	tokenRe        = regexp.MustCompile(`\p{Han}|\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentenceRe     = regexp.MustCompile(`[^.!?。！？；]+[.!?。！？；]+`)
)

// highlightBestSentence renders the sentence sharing the most tokens with
// query in the highlight style. Han characters count as single tokens.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	var sentences []string
	end := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[loc[0]:loc[1]])
		end = loc[1]
	}
	if rest := strings.TrimSpace(text[end:]); rest != "" {
		sentences = append(sentences, rest)
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return text
	}
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		if score := tokenOverlapScore(qTokens, s); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	if bestScore == 0 {
		return text
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sent = highlightStyle.Render(sent)
		}
		sentences[i] = sent
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := tokenRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	for t := range toTokenSet(sentence) {
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
