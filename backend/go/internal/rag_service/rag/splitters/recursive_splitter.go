package splitters

import (
	"context"
	"strings"
	"unicode/utf8"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// DefaultSeparators are tried in order, coarsest first.
var DefaultSeparators = []string{"\n\n", "\n", " "}

// RecursiveSplitter implements the Splitter interface by recursively splitting
// text on a prioritised list of separators and merging the pieces back into
// windows of at most ChunkSize characters with ChunkOverlap characters of
// carry-over between consecutive windows.
//
// Lengths are measured in runes. Separators are dropped from the output.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
	// SplitLongWords appends the character-level separator "" so that a
	// single token longer than ChunkSize is cut into ChunkSize windows.
	// When false such a token is emitted whole as one oversized chunk.
	SplitLongWords bool
}

// NewRecursiveSplitter creates a new RecursiveSplitter with the default separators.
func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	if err := Validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}, nil
}

// Validate checks chunkSize > 0 and 0 <= chunkOverlap < chunkSize.
func Validate(chunkSize, chunkOverlap int) error {
	if chunkSize <= 0 {
		return errs.E(errs.KindValidation, "splitters.Validate", "chunk_size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return errs.E(errs.KindValidation, "splitters.Validate",
			"chunk_overlap must be in [0, chunk_size), got %d with chunk_size %d", chunkOverlap, chunkSize)
	}
	return nil
}

// Split splits text with the default separators.
func Split(text string, chunkSize, chunkOverlap int) ([]string, error) {
	s, err := NewRecursiveSplitter(chunkSize, chunkOverlap)
	if err != nil {
		return nil, err
	}
	return s.SplitText(text), nil
}

// SplitText splits a single text. The result is deterministic.
func (s *RecursiveSplitter) SplitText(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	if s.SplitLongWords && seps[len(seps)-1] != "" {
		seps = append(append([]string(nil), seps...), "")
	}
	return s.splitText(text, seps)
}

// Split splits each document and copies its metadata into every chunk.
func (s *RecursiveSplitter) Split(ctx context.Context, docs []*schema.Document) ([]*schema.Document, error) {
	var chunks []*schema.Document
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, text := range s.SplitText(doc.Text) {
			md := schema.CopyMetadata(doc.Metadata)
			md[schema.MetadataKeyChunkSize] = utf8.RuneCountInString(text)
			chunks = append(chunks, &schema.Document{Text: text, Metadata: md})
		}
	}
	return chunks, nil
}

func (s *RecursiveSplitter) splitText(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitOn(text, separator) {
		if utf8.RuneCountInString(piece) < s.ChunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.splitText(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good, separator)...)
	}
	return final
}

// merge combines small pieces into windows, keeping up to ChunkOverlap
// characters of the previous window's tail.
func (s *RecursiveSplitter) merge(pieces []string, separator string) []string {
	sepLen := utf8.RuneCountInString(separator)
	var (
		docs    []string
		current []string
		total   int
	)
	joinLen := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinLen() > s.ChunkSize && len(current) > 0 {
			if doc, ok := join(current, separator); ok {
				docs = append(docs, doc)
			}
			for total > s.ChunkOverlap || (total+n+joinLen() > s.ChunkSize && total > 0) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if doc, ok := join(current, separator); ok {
		docs = append(docs, doc)
	}
	return docs
}

func join(pieces []string, separator string) (string, bool) {
	text := strings.TrimSpace(strings.Join(pieces, separator))
	return text, text != ""
}

func splitOn(text, separator string) []string {
	var parts []string
	if separator == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.Split(text, separator) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
