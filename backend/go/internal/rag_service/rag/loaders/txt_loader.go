package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"

	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// namedEncoding pairs a decoder with the name recorded in metadata.
type namedEncoding struct {
	name string
	enc  encoding.Encoding
}

// fallbackEncodings are tried in order when a file is not valid UTF-8.
var fallbackEncodings = []namedEncoding{
	{"gb18030", simplifiedchinese.GB18030},
	{"gbk", simplifiedchinese.GBK},
	{"big5", traditionalchinese.Big5},
	{"windows-1252", charmap.Windows1252},
}

// TxtLoader implements the Loader interface for reading plain text files.
type TxtLoader struct{}

// NewTxtLoader creates a new TxtLoader.
func NewTxtLoader() *TxtLoader {
	return &TxtLoader{}
}

// Load reads a text file from the given path and returns it as a single Document.
// Files that no known encoding can decode yield a placeholder text instead of an error.
func (l *TxtLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	if err := statFile("loaders.TxtLoader", path); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text, encName := decodeText(content)
	if encName == "" {
		text = fmt.Sprintf("[unreadable text file: %s]", filepath.Base(path))
		encName = "unknown"
	}

	doc := &schema.Document{
		ID:   uuid.New().String(),
		Text: text,
		Metadata: map[string]interface{}{
			schema.MetadataKeySource:   path,
			schema.MetadataKeyEncoding: encName,
		},
	}
	return []*schema.Document{doc}, nil
}

// decodeText returns the decoded text and the encoding name, or "" when nothing fits.
func decodeText(b []byte) (string, string) {
	if utf8.Valid(b) {
		return strings.TrimPrefix(string(b), "\ufeff"), "utf-8"
	}
	for _, ne := range fallbackEncodings {
		out, _, err := transform.Bytes(ne.enc.NewDecoder(), b)
		if err != nil {
			continue
		}
		if s := string(out); clean(s) {
			return s, ne.name
		}
	}
	return "", ""
}

// clean rejects decodes that produced replacement or control characters.
func clean(s string) bool {
	for _, r := range s {
		if r == utf8.RuneError {
			return false
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' && r != '\f' {
			return false
		}
	}
	return true
}

// compile-time check to ensure TxtLoader implements the Loader interface
var _ interfaces.Loader = (*TxtLoader)(nil)
