package vectorstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"ragbase/backend/go/internal/rag_service/rag/errs"
	"ragbase/backend/go/internal/rag_service/rag/interfaces"
	"ragbase/backend/go/internal/rag_service/rag/schema"
	"ragbase/backend/go/pkg/logger"
)

var metaBucket = []byte("__meta__")

// hostOS is overridden in tests.
var hostOS = runtime.GOOS

// liteRecord is the stored form of one vector record.
type liteRecord struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Vector   []float32              `json:"vector"`
	Metadata map[string]interface{} `json:"metadata"`
}

// LiteStore is an embedded, file-backed vector store. Records live in a bbolt
// bucket named after the collection, keyed by their insertion sequence, and
// search is a brute-force cosine scan.
type LiteStore struct {
	db         *bolt.DB
	collection string
	dim        int
	log        logger.Logger
}

// OpenLite opens (or creates) the store at path. dim is the vector dimension
// every record must have. Windows hosts are rejected with PlatformUnsupported.
func OpenLite(path, collection string, dim int, log logger.Logger) (*LiteStore, error) {
	const op = "vectorstore.OpenLite"
	if hostOS == "windows" {
		return nil, errs.E(errs.KindPlatformUnsupported, op, "Milvus Lite is not supported on %s, use milvus_standard instead", hostOS)
	}
	if dim <= 0 {
		return nil, errs.E(errs.KindValidation, op, "dimension must be positive, got %d", dim)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Wrap(errs.KindConnection, op, err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, op, fmt.Errorf("failed to open %s: %w", path, err))
	}
	s := &LiteStore{db: db, collection: collection, dim: dim, log: log.WithComponent("lite_store")}
	if err := s.ensure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.log.WithFields(map[string]interface{}{"path": path, "collection": collection, "dim": dim}).Info("Lite 向量存储已打开")
	return s, nil
}

// ensure creates the buckets and checks the recorded dimension.
func (s *LiteStore) ensure() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "vectorstore.Lite", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(s.collection)); err != nil {
			return errs.Wrap(errs.KindInternal, "vectorstore.Lite", err)
		}
		key := []byte(s.collection + ".dim")
		if raw := meta.Get(key); raw != nil {
			stored, _ := strconv.Atoi(string(raw))
			if stored != s.dim {
				return errs.E(errs.KindValidation, "vectorstore.Lite", "collection %s holds %d-dimensional vectors, configured dimension is %d", s.collection, stored, s.dim)
			}
			return nil
		}
		return meta.Put(key, []byte(strconv.Itoa(s.dim)))
	})
}

// Insert implements interfaces.VectorStore.
func (s *LiteStore) Insert(ctx context.Context, docs []*schema.Document) ([]string, error) {
	if err := checkDims(docs, s.dim); err != nil {
		return nil, err
	}
	ids := make([]string, len(docs))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(s.collection))
		if err != nil {
			return err
		}
		for i, d := range docs {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := d.ID
			if id == "" {
				id = uuid.NewString()
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			raw, err := json.Marshal(liteRecord{ID: id, Text: d.Text, Vector: d.Embedding, Metadata: d.Metadata})
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), raw); err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "vectorstore.Lite.Insert", err)
	}
	return ids, nil
}

// Search implements interfaces.VectorStore.
func (s *LiteStore) Search(ctx context.Context, vector []float32, opts schema.SearchOptions) ([]schema.Hit, error) {
	if len(vector) != s.dim {
		return nil, errs.E(errs.KindValidation, "vectorstore.Lite.Search", "query dimension %d does not match collection dimension %d", len(vector), s.dim)
	}
	var cands []candidate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec liteRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("corrupt record %x: %w", k, err)
			}
			if !matchFilter(rec.Metadata, opts.Filter) {
				return nil
			}
			cands = append(cands, candidate{
				doc:   &schema.Document{ID: rec.ID, Text: rec.Text, Metadata: rec.Metadata},
				score: cosine(vector, rec.Vector),
				seq:   int64(binary.BigEndian.Uint64(k)),
			})
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "vectorstore.Lite.Search", err)
	}
	return rank(cands, opts), nil
}

// Stats implements interfaces.VectorStore.
func (s *LiteStore) Stats(ctx context.Context) (schema.CollectionStats, error) {
	st := schema.CollectionStats{CollectionName: s.collection, IndexType: "flat", VectorDimension: s.dim}
	err := s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(s.collection)); b != nil {
			st.TotalEntities = int64(b.Stats().KeyN)
		}
		if meta := tx.Bucket(metaBucket); meta != nil {
			st.EmbeddingModel = string(meta.Get(s.modelKey()))
		}
		return nil
	})
	return st, err
}

// EmbeddingModel returns the model alias recorded for the collection.
func (s *LiteStore) EmbeddingModel(ctx context.Context) (string, error) {
	var alias string
	err := s.db.View(func(tx *bolt.Tx) error {
		if meta := tx.Bucket(metaBucket); meta != nil {
			alias = string(meta.Get(s.modelKey()))
		}
		return nil
	})
	return alias, err
}

// SetEmbeddingModel records alias under <collection>.model in the meta bucket.
func (s *LiteStore) SetEmbeddingModel(ctx context.Context, alias string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(s.modelKey(), []byte(alias))
	})
}

// Clear removes every record and the recorded model but keeps the collection.
func (s *LiteStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(s.collection)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if meta := tx.Bucket(metaBucket); meta != nil {
			if err := meta.Delete(s.modelKey()); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(s.collection))
		return err
	})
}

// DropCollection removes the collection with its recorded dimension and model.
func (s *LiteStore) DropCollection(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(s.collection)); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		if meta := tx.Bucket(metaBucket); meta != nil {
			if err := meta.Delete(s.modelKey()); err != nil {
				return err
			}
			return meta.Delete([]byte(s.collection + ".dim"))
		}
		return nil
	})
}

func (s *LiteStore) modelKey() []byte {
	return []byte(s.collection + ".model")
}

// Ping verifies the database file is readable.
func (s *LiteStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

// Close closes the database file.
func (s *LiteStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// checkDims rejects any document whose embedding does not have dim elements.
func checkDims(docs []*schema.Document, dim int) error {
	for i, d := range docs {
		if len(d.Embedding) != dim {
			return errs.E(errs.KindValidation, "vectorstore.Insert", "document %d has dimension %d, collection expects %d", i, len(d.Embedding), dim)
		}
	}
	return nil
}

var _ interfaces.VectorStore = (*LiteStore)(nil)
