package loaders

import (
	"bytes"
	"context"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// FrontMatterPrefix is prepended to every front matter key copied into metadata.
const FrontMatterPrefix = "fm_"

// MarkdownLoader implements the Loader interface for reading Markdown (.md) files.
// The whole file becomes a single Document.
type MarkdownLoader struct{}

// NewMarkdownLoader creates a new MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{}
}

var frontMatterDelim = []byte("---")

// Load reads a Markdown file. A leading YAML front matter block is removed
// from the text and its keys are copied into the metadata.
func (l *MarkdownLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	if err := statFile("loaders.MarkdownLoader", path); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{
		schema.MetadataKeySource: path,
	}
	body, fm := splitFrontMatter(content)
	for k, v := range fm {
		metadata[FrontMatterPrefix+k] = v
	}

	doc := &schema.Document{
		ID:       uuid.New().String(),
		Text:     string(body),
		Metadata: metadata,
	}
	return []*schema.Document{doc}, nil
}

// splitFrontMatter returns the body without front matter and the parsed keys.
// Invalid YAML leaves the content untouched.
func splitFrontMatter(content []byte) ([]byte, map[string]interface{}) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(content, frontMatterDelim) {
		return content, nil
	}
	lines := bytes.SplitAfter(content, []byte("\n"))
	if len(lines) < 2 || !bytes.Equal(bytes.TrimSpace(lines[0]), frontMatterDelim) {
		return content, nil
	}

	offset := len(lines[0])
	for _, line := range lines[1:] {
		if bytes.Equal(bytes.TrimSpace(line), frontMatterDelim) {
			var fm map[string]interface{}
			if err := yaml.Unmarshal(content[len(lines[0]):offset], &fm); err != nil {
				return content, nil
			}
			return bytes.TrimLeft(content[offset+len(line):], "\r\n"), fm
		}
		offset += len(line)
	}
	return content, nil
}

// compile-time check to ensure MarkdownLoader implements the Loader interface
var _ interfaces.Loader = (*MarkdownLoader)(nil)
