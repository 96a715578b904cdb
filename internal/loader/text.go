package loader

import (
	"errors"
	"os"
	"strings"
	"unicode/utf8"

	"kb/internal/domain"
)

// TextLoader reads UTF-8 plain text and markdown files as a single record.
type TextLoader struct{}

func (TextLoader) Load(path string) ([]domain.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, errors.New("file is not valid UTF-8")
	}
	text := strings.TrimPrefix(string(data), "\ufeff")
	return []domain.Record{{Text: text, Metadata: domain.Metadata{}}}, nil
}
