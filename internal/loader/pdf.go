package loader

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"kb/internal/domain"
)

// PDFLoader extracts plain text from PDF files, one record per page.
// Pages without extractable text are skipped.
type PDFLoader struct{}

func (PDFLoader) Load(path string) (records []domain.Record, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			records, err = nil, fmt.Errorf("parse pdf: %v", r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	total := r.NumPage()
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		records = append(records, domain.Record{
			Text:     text,
			Metadata: domain.Metadata{domain.MetaPage: i, domain.MetaTotalPages: total},
		})
	}
	return records, nil
}
