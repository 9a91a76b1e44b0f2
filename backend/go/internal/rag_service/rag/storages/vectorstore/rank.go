package vectorstore

import (
	"fmt"
	"math"
	"sort"

	"ragbase/backend/go/internal/rag_service/rag/schema"
)

// candidate is a scored document with its insertion sequence.
type candidate struct {
	doc   *schema.Document
	score float32
	seq   int64
}

// rank orders candidates by score descending, ties by insertion order,
// drops those below the threshold and caps the result at k.
func rank(cands []candidate, opts schema.SearchOptions) []schema.Hit {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].seq < cands[j].seq
	})
	hits := make([]schema.Hit, 0, len(cands))
	for _, c := range cands {
		if float64(c.score) < opts.Threshold {
			continue
		}
		if opts.K > 0 && len(hits) >= opts.K {
			break
		}
		hits = append(hits, schema.Hit{Document: c.doc, Score: c.score})
	}
	return hits
}

// cosine returns the cosine similarity of a and b, or 0 when either is zero or the lengths differ.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// matchFilter reports whether md contains every key of filter with an equal value.
// Numbers compare by value regardless of their Go type.
func matchFilter(md, filter map[string]interface{}) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
