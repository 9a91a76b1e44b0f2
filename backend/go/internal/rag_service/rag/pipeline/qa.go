package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"ragbase/backend/go/internal/llm"
	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/rerankers"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

// State is a step of answering one question.
type State string

const (
	StateReceived            State = "received"
	StateSearching           State = "searching"
	StateNoResults           State = "no_results"
	StateAnsweredWithApology State = "answered_with_apology"
	StateHasResults          State = "has_results"
	StateContextBuilt        State = "context_built"
	StateGenerating          State = "generating"
	StateGeneratedByModel    State = "generated_by_model"
	StateGeneratedByFallback State = "generated_by_fallback"
	StateAnswered            State = "answered"
)

// Metadata values of an Answer.
const (
	SourceRAG       = "rag"
	SourceNoResults = "no_results"

	GenerationModel    = "model"
	GenerationFallback = "fallback"

	FallbackMissingAPIKey = "missing_api_key"
	FallbackUpstreamError = "upstream_error"
	FallbackEmptyAnswer   = "empty_answer"
)

// 固定的回复文本。
const (
	NoResultsAnswer    = "很抱歉，我在知识库中没有找到与您问题相关的内容。请尝试换个问题或上传更多相关文档。"
	EmptyContextAnswer = "很抱歉，我在知识库中没有找到与您问题相关的信息。"

	promptTemplate = "请基于以下上下文信息回答用户的问题。如果上下文中没有相关信息，请诚实地说明无法从提供的信息中找到答案。\n\n上下文信息：\n%s\n\n用户问题：%s\n\n请提供准确、有用的回答："

	truncationMarker = "..."
	excerptLen       = 200
)

// Question is one /query request.
type Question struct {
	Text        string
	TopK        int
	ContextLen  int
	Temperature float32
	Threshold   float64
}

// Answer is the result of QAPipeline.Answer. Path lists every state visited.
type Answer struct {
	Answer   string
	Docs     []string
	Metadata map[string]interface{}
	Path     []State
}

// State returns the final state.
func (a *Answer) State() State {
	if len(a.Path) == 0 {
		return ""
	}
	return a.Path[len(a.Path)-1]
}

// QAPipeline answers questions from retrieved chunks, falling back to an
// extractive answer whenever the completion backend cannot be used.
type QAPipeline struct {
	retrieval *RetrievalPipeline
	completer llm.Completer
	reranker  rerankers.Reranker
	log       logger.Logger
}

// NewQAPipeline creates a new QAPipeline. reranker may be nil.
func NewQAPipeline(retrieval *RetrievalPipeline, completer llm.Completer, reranker rerankers.Reranker, log logger.Logger) *QAPipeline {
	return &QAPipeline{retrieval: retrieval, completer: completer, reranker: reranker, log: log.WithComponent("qa")}
}

// Answer runs the question through retrieval and generation.
func (p *QAPipeline) Answer(ctx context.Context, q Question) (*Answer, error) {
	ans := &Answer{Path: []State{StateReceived}}
	if strings.TrimSpace(q.Text) == "" {
		return nil, errs.E(errs.KindValidation, "pipeline.Answer", "问题不能为空")
	}
	if q.ContextLen <= 0 {
		q.ContextLen = 512
	}

	ans.Path = append(ans.Path, StateSearching)
	ret, err := p.retrieval.Run(ctx, q.Text, schema.SearchOptions{K: q.TopK, Threshold: q.Threshold})
	if err != nil {
		return nil, err
	}
	meta := map[string]interface{}{"embedding_status": string(ret.EmbeddingStatus)}
	if ret.Read.Degraded {
		meta["search_degraded"] = ret.Read.Reason
	}

	if len(ret.Hits) == 0 {
		ans.Path = append(ans.Path, StateNoResults, StateAnsweredWithApology)
		meta["source"] = SourceNoResults
		ans.Answer, ans.Docs, ans.Metadata = NoResultsAnswer, []string{}, meta
		return ans, nil
	}
	ans.Path = append(ans.Path, StateHasResults)

	hits := ret.Hits
	if p.reranker != nil {
		if rr, err := p.reranker.Rerank(ctx, q.Text, hits); err != nil {
			p.log.WithError(err).Warn("重排序失败，使用原始顺序")
		} else if len(rr) > 0 {
			hits = rr
			meta["reranked"] = true
		}
	}

	contextText, docs := BuildContext(hits, q.ContextLen)
	ans.Path = append(ans.Path, StateContextBuilt, StateGenerating)

	answer, reason := p.generate(ctx, q, contextText)
	if reason == "" {
		ans.Path = append(ans.Path, StateGeneratedByModel)
		meta["generation"] = GenerationModel
	} else {
		ans.Path = append(ans.Path, StateGeneratedByFallback)
		meta["generation"] = GenerationFallback
		meta["fallback_reason"] = reason
	}
	ans.Path = append(ans.Path, StateAnswered)

	meta["source"] = SourceRAG
	meta["retrieved_count"] = len(ret.Hits)
	meta["context_length"] = utf8.RuneCountInString(contextText)
	ans.Answer, ans.Docs, ans.Metadata = answer, docs, meta
	return ans, nil
}

// generate returns the model answer, or the fallback answer and the reason.
func (p *QAPipeline) generate(ctx context.Context, q Question, contextText string) (string, string) {
	if p.completer == nil {
		return FallbackAnswer(q.Text, contextText), FallbackMissingAPIKey
	}
	out, err := p.completer.Complete(ctx, llm.Request{Prompt: BuildPrompt(q.Text, contextText), Temperature: q.Temperature})
	switch {
	case errors.Is(err, llm.ErrMissingCredentials):
		p.log.Warn("补全后端未配置密钥，使用fallback答案")
		return FallbackAnswer(q.Text, contextText), FallbackMissingAPIKey
	case err != nil:
		p.log.WithError(err).Warn("补全后端调用失败，使用fallback答案")
		return FallbackAnswer(q.Text, contextText), fmt.Sprintf("%s: %v", FallbackUpstreamError, err)
	case strings.TrimSpace(out) == "":
		return FallbackAnswer(q.Text, contextText), FallbackEmptyAnswer
	}
	return out, ""
}

// BuildPrompt fills the fixed prompt template.
func BuildPrompt(question, contextText string) string {
	return fmt.Sprintf(promptTemplate, contextText, question)
}

// BuildContext truncates each hit to maxLen characters (appending "...") and
// joins them with blank lines. docs lists each truncated text prefixed with
// its source file name.
func BuildContext(hits []schema.Hit, maxLen int) (string, []string) {
	texts := make([]string, 0, len(hits))
	docs := make([]string, 0, len(hits))
	for _, h := range hits {
		text := h.Document.Text
		if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
			text = string([]rune(text)[:maxLen]) + truncationMarker
		}
		source := h.Document.String(schema.MetadataKeyFileName)
		if source == "" {
			source = "unknown"
		}
		texts = append(texts, text)
		docs = append(docs, fmt.Sprintf("[%s] %s", source, text))
	}
	return strings.Join(texts, "\n\n"), docs
}

// FallbackAnswer extracts an answer without a model: the first of the first
// three context sentences sharing a word (longer than one character) with the
// question, or else the head of the context.
func FallbackAnswer(question, contextText string) string {
	if strings.TrimSpace(contextText) == "" {
		return EmptyContextAnswer
	}

	cleaned := strings.NewReplacer("？", "", "?", "").Replace(question)
	var words []string
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) > 1 {
			words = append(words, w)
		}
	}

	sentences := splitSentences(contextText)
	if len(sentences) > 3 {
		sentences = sentences[:3]
	}
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		for _, w := range words {
			if strings.Contains(s, w) {
				return "根据知识库内容，" + s + "。"
			}
		}
	}

	excerpt := contextText
	if utf8.RuneCountInString(contextText) > excerptLen {
		excerpt = string([]rune(contextText)[:excerptLen]) + truncationMarker
	}
	return "根据知识库内容：" + excerpt
}

// splitSentences splits on Chinese and Latin sentence terminators and newlines.
func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '！', '？', '.', '!', '?', '\n':
			return true
		}
		return false
	})
}
