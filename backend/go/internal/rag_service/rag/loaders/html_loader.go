package loaders

import (
	"context"
	"os"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/google/uuid"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// HTMLLoader 将 HTML 页面转换为 Markdown 文本，整页作为一个 Document。
type HTMLLoader struct{}

func NewHTMLLoader() *HTMLLoader {
	return &HTMLLoader{}
}

func (l *HTMLLoader) Load(ctx context.Context, path string) ([]*schema.Document, error) {
	const op = "loaders.HTMLLoader"
	if err := statFile(op, path); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	md, err := htmltomarkdown.ConvertString(string(content))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, op, err)
	}
	doc := &schema.Document{
		ID:       uuid.New().String(),
		Text:     md,
		Metadata: map[string]interface{}{schema.MetadataKeySource: path},
	}
	return []*schema.Document{doc}, nil
}

var _ interfaces.Loader = (*HTMLLoader)(nil)
