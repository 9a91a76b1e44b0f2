package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	rhttp "ragbase/backend/go/pkg/http"
)

// DefaultHuggingFaceURL 是 Inference API feature-extraction 管道的默认地址。
const DefaultHuggingFaceURL = "https://api-inference.huggingface.co/pipeline/feature-extraction/"

// HuggingFaceModel 是一个用于 Hugging Face Inference API 的 Embedding 模型客户端。
type HuggingFaceModel struct {
	client  *rhttp.Client
	model   string
	apiKey  string
	baseURL string
}

// NewHuggingFaceModel 创建一个新的 HuggingFaceModel 客户端。
//
// 参数:
//
//	apiKey: Hugging Face 的 API 密钥，可为空（匿名调用有速率限制）。
//	modelName: 要使用的模型名称，例如 "sentence-transformers/all-MiniLM-L6-v2"。
//	baseURL: Inference API 的基准 URL，为空时使用 DefaultHuggingFaceURL。
//	client: 可选的 HTTP 客户端。
func NewHuggingFaceModel(apiKey, modelName, baseURL string, client *rhttp.Client) (*HuggingFaceModel, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("huggingface model name is empty")
	}
	if baseURL == "" {
		baseURL = DefaultHuggingFaceURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	if client == nil {
		client = rhttp.NewClient()
	}
	return &HuggingFaceModel{
		client:  client,
		model:   modelName,
		apiKey:  apiKey,
		baseURL: baseURL,
	}, nil
}

// Embed 为单个文本生成嵌入向量。
func (m *HuggingFaceModel) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch 使用 Hugging Face Inference API 为一批文本生成嵌入向量。
// 若接口返回 token 级别的向量，则对其做平均池化。
func (m *HuggingFaceModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	payload := map[string]interface{}{
		"inputs":  texts,
		"options": map[string]bool{"wait_for_model": true},
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+m.model, bytes.NewReader(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	embeddings, err := decodeFeatureExtraction(body)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("huggingface returned %d embeddings for %d inputs", len(embeddings), len(texts))
	}
	return embeddings, nil
}

// decodeFeatureExtraction 兼容句向量 [][]float32 与 token 向量 [][][]float32 两种返回格式。
func decodeFeatureExtraction(body []byte) ([][]float32, error) {
	var sentence [][]float32
	if err := json.Unmarshal(body, &sentence); err == nil {
		if len(sentence) == 0 {
			return nil, fmt.Errorf("no embeddings returned")
		}
		return sentence, nil
	}

	var tokens [][][]float32
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	out := make([][]float32, len(tokens))
	for i, toks := range tokens {
		out[i] = meanPool(toks)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return out, nil
}

func meanPool(tokens [][]float32) []float32 {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]float32, len(tokens[0]))
	for _, tok := range tokens {
		for j := range out {
			if j < len(tok) {
				out[j] += tok[j]
			}
		}
	}
	for j := range out {
		out[j] /= float32(len(tokens))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
