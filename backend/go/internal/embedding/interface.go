package embedding

import "context"

// Embedding 定义了所有 embedding 模型需要实现的接口。
type Embedding interface {
	// Embed 为单个文本生成嵌入向量。
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 为一批文本生成嵌入向量，返回结果与输入一一对应。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelType 是一个枚举类型，用于表示不同的模型厂商。
type ModelType string

const (
	OpenAI      ModelType = "openai"      // OpenAI 模型类型。
	Google      ModelType = "gemini"      // Google 模型类型。
	Ollama      ModelType = "ollama"      // Ollama 模型类型。
	HuggingFace ModelType = "huggingface" // HuggingFace 模型类型。
	Hash        ModelType = "hash"        // 本地特征哈希模型，无需网络。
)
