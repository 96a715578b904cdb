package chunker

import (
	"fmt"
	"strings"

	"kb/internal/domain"
)

// DefaultSeparators are tried coarse to fine. The empty string splits between
// runes and acts as the universal fallback.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", "；", "，", " ", ""}

const summaryRunes = 50

// Splitter partitions text recursively on a priority list of separators,
// merging pieces into chunks whose WeightedLength stays within the chunk size
// and carrying up to overlap units of trailing context into the next chunk.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
	length     func(string) int
}

// NewSplitter validates the configuration and returns a Splitter. A nil or
// empty separator list selects DefaultSeparators.
func NewSplitter(chunkSize, overlap int, separators []string) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrSplitConfig, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: chunk overlap must not be negative, got %d", domain.ErrSplitConfig, overlap)
	}
	if overlap > chunkSize {
		return nil, fmt.Errorf("%w: chunk overlap %d is larger than chunk size %d", domain.ErrSplitConfig, overlap, chunkSize)
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: append([]string(nil), separators...),
		length:     WeightedLength,
	}, nil
}

// ChunkSize returns the configured maximum weighted length of a chunk.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Split returns the chunks of text in order. Empty input yields no chunks.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	return s.split(text, s.separators)
}

// SplitRecords splits every record and attaches chunk_index, total_chunks and
// summary to a copy of the record metadata. Passages keep document arrival
// order and, within a document, split order.
func (s *Splitter) SplitRecords(records []domain.Record) []domain.Passage {
	var passages []domain.Passage
	for _, rec := range records {
		chunks := s.Split(rec.Text)
		for i, text := range chunks {
			md := rec.Metadata.Clone()
			md[domain.MetaChunkIndex] = i
			md[domain.MetaTotalChunks] = len(chunks)
			md[domain.MetaSummary] = Summary(text)
			passages = append(passages, domain.Passage{Text: text, Metadata: md})
		}
	}
	return passages
}

// Summary returns the leading excerpt of text used as passage summary.
func Summary(text string) string {
	r := []rune(text)
	if len(r) <= summaryRunes {
		return text
	}
	return string(r[:summaryRunes]) + "..."
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var chunks, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if s.length(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, s.merge(good)...)
			good = nil
		}
		switch {
		case len(rest) > 0:
			chunks = append(chunks, s.split(piece, rest)...)
		case separator != "":
			// no finer separator left: hard cut on rune boundaries
			chunks = append(chunks, s.merge(splitKeepSeparator(piece, ""))...)
		default:
			chunks = append(chunks, piece)
		}
	}
	if len(good) > 0 {
		chunks = append(chunks, s.merge(good)...)
	}
	return chunks
}

// merge greedily packs pieces into chunks. After a chunk is emitted, leading
// pieces are dropped until at most overlap units remain to seed the next one.
func (s *Splitter) merge(pieces []string) []string {
	var (
		chunks  []string
		current []string
		lengths []int
		total   int
	)
	for _, p := range pieces {
		n := s.length(p)
		if total+n > s.chunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.overlap || (total+n > s.chunkSize && total > 0) {
				total -= lengths[0]
				current = current[1:]
				lengths = lengths[1:]
			}
		}
		current = append(current, p)
		lengths = append(lengths, n)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeepSeparator splits text on sep and re-attaches the separator to the
// start of every following piece. An empty sep splits into single runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}
