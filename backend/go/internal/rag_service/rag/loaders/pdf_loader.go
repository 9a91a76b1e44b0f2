package loaders

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// PdfLoader implements the Loader interface for reading PDF files.
type PdfLoader struct{}

// NewPdfLoader creates a new PdfLoader.
func NewPdfLoader() *PdfLoader {
	return &PdfLoader{}
}

// Load reads a PDF file, extracts the plain text of each page,
// and returns a Document for each non-empty page.
func (l *PdfLoader) Load(ctx context.Context, path string) (docs []*schema.Document, err error) {
	if err := statFile("loaders.PdfLoader", path); err != nil {
		return nil, err
	}

	// ledongthuc/pdf panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = errs.E(errs.KindUnsupportedFormat, "loaders.PdfLoader", "malformed PDF %s: %v", filepath.Base(path), r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnsupportedFormat, "loaders.PdfLoader", fmt.Errorf("open %s: %w", filepath.Base(path), err))
	}
	defer f.Close()

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindUnsupportedFormat, "loaders.PdfLoader", fmt.Errorf("page %d: %w", i, err))
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, &schema.Document{
			ID:   uuid.New().String(),
			Text: text,
			Metadata: map[string]interface{}{
				schema.MetadataKeySource:     path,
				schema.MetadataKeyPage:       i,
				schema.MetadataKeyTotalPages: numPages,
			},
		})
	}
	return docs, nil
}

// compile-time check to ensure PdfLoader implements the Loader interface
var _ interfaces.Loader = (*PdfLoader)(nil)
