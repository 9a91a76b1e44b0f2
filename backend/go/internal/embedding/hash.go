package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashModel 是基于特征哈希的本地 Embedding 模型。
// 相同文本总是得到相同向量，共享词项的文本余弦相似度更高。
// 它不依赖任何外部服务，作为最后的兜底模型。
type HashModel struct {
	dim int
}

// NewHashModel 创建一个维度为 dim 的哈希模型。
func NewHashModel(dim int) (*HashModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("hash model dimension must be positive, got %d", dim)
	}
	return &HashModel{dim: dim}, nil
}

// Dim 返回向量维度。
func (m *HashModel) Dim() int { return m.dim }

// Embed 为单个文本生成嵌入向量。
func (m *HashModel) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, m.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(m.dim))
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	normalizeInPlace(vec)
	return vec, nil
}

// EmbedBatch 为一批文本生成嵌入向量。
func (m *HashModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i], _ = m.Embed(ctx, t)
	}
	return out, nil
}

// tokenize 将文本切分为小写词项；CJK 字符逐字作为词项。
func tokenize(text string) []string {
	var (
		tokens []string
		b      strings.Builder
	)
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
