package schema

// Metadata keys attached to every chunk.
const (
	// MetadataKeyFileName is the key for the source file name (base name only).
	MetadataKeyFileName = "filename"
	// MetadataKeyChunkID is the 0-based index of the chunk within its source file.
	MetadataKeyChunkID = "chunk_id"
	// MetadataKeyFileType is the lower-cased extension of the source file, including the dot.
	MetadataKeyFileType = "file_type"
	// MetadataKeySource is the path the document was loaded from.
	MetadataKeySource = "source"
	// MetadataKeyChunkSize is the length of the chunk text in characters.
	MetadataKeyChunkSize = "chunk_size"
	// MetadataKeyPage is the 1-based page number for paged formats such as PDF.
	MetadataKeyPage = "page"
	// MetadataKeyTotalPages is the page count of a paged source.
	MetadataKeyTotalPages = "total_pages"
	// MetadataKeyEncoding records the text encoding a loader decoded the file with.
	MetadataKeyEncoding = "encoding"
)

// Document is the central data structure representing a piece of text and its associated data.
// It is the primary data carrier throughout the RAG pipeline.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Text is the string content of the document chunk.
	Text string

	// Embedding is the vector representation of the text.
	Embedding []float32

	// Metadata holds arbitrary data about the document.
	// Values must be JSON-encodable; they are persisted alongside the vector.
	Metadata map[string]interface{}
}

// CopyMetadata returns a shallow copy of md that is safe to mutate.
func CopyMetadata(md map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(md)+4)
	for k, v := range md {
		out[k] = v
	}
	return out
}

// String returns a metadata value as a string, or "" when absent or not a string.
func (d *Document) String(key string) string {
	if d == nil || d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata[key].(string)
	return s
}

// SearchOptions controls a similarity search.
type SearchOptions struct {
	// K caps the number of hits.
	K int
	// Threshold drops hits whose similarity is below it. Zero keeps everything.
	Threshold float64
	// Filter is an equality match over metadata keys.
	Filter map[string]interface{}
}

// Hit is one search result. Document.Embedding is not populated.
type Hit struct {
	Document *Document
	Score    float32
}

// CollectionStats describes the collection behind a vector store.
type CollectionStats struct {
	CollectionName  string
	TotalEntities   int64
	IndexType       string
	EmbeddingModel  string
	VectorDimension int
}
