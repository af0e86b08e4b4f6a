package vectorstore

import (
	"math"
	"sort"
)

// Reserved field names in a stored record
const (
	FieldText   = "text"
	FieldVector = "vector"
	FieldDocID  = "doc_id"
)

// Document is a chunk of text with its embedding. Metadata keys are stored
// as top-level fields next to text and vector.
type Document struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score,omitempty"`
}

func isReserved(key string) bool {
	return key == FieldText || key == FieldVector || key == FieldDocID
}

// validator checks documents and queries against a fixed dimension and an
// optional allow-list of metadata keys.
type validator struct {
	dim     int
	allowed map[string]struct{}
	// nonZero rejects zero-magnitude vectors, which cosine similarity
	// cannot rank.
	nonZero bool
}

func newValidator(dim int, fields []string, extraMappings map[string]any) validator {
	v := validator{dim: dim}
	if len(fields) == 0 && len(extraMappings) == 0 {
		return v
	}
	v.allowed = make(map[string]struct{}, len(fields)+len(extraMappings))
	for _, f := range fields {
		v.allowed[f] = struct{}{}
	}
	for f := range extraMappings {
		v.allowed[f] = struct{}{}
	}
	return v
}

func (v validator) requireMagnitude() validator {
	v.nonZero = true
	return v
}

func (v validator) documents(docs []Document) error {
	for i, doc := range docs {
		if doc.Text == "" {
			return invalidDocument(i, "missing text")
		}
		if doc.Vector == nil {
			return invalidDocument(i, "missing vector")
		}
		if v.dim > 0 && len(doc.Vector) != v.dim {
			return invalidDocument(i, "vector has %d values, want %d", len(doc.Vector), v.dim)
		}
		if !finite(doc.Vector) {
			return invalidDocument(i, "vector contains NaN or Inf")
		}
		if v.nonZero && isZero(doc.Vector) {
			return invalidDocument(i, "vector has zero magnitude")
		}
		for _, key := range sortedKeys(doc.Metadata) {
			if isReserved(key) {
				return invalidDocument(i, "metadata key %q is reserved", key)
			}
			if !v.accepts(key) {
				return invalidDocument(i, "metadata key %q is not declared", key)
			}
		}
	}
	return nil
}

func (v validator) query(vector []float32, k int, filters Filters) error {
	if v.dim > 0 && len(vector) != v.dim {
		return invalidQuery("query vector has %d values, want %d", len(vector), v.dim)
	}
	if !finite(vector) {
		return invalidQuery("query vector contains NaN or Inf")
	}
	if v.nonZero && isZero(vector) {
		return invalidQuery("query vector has zero magnitude")
	}
	if k < 1 {
		return invalidQuery("k must be at least 1, got %d", k)
	}
	for _, key := range sortedKeys(filters) {
		if _, ok := filterValues(filters[key]); !ok {
			return invalidQuery("filter %q must be a scalar or a list of scalars", key)
		}
	}
	return nil
}

// accepts reports whether key may be stored as a metadata field
func (v validator) accepts(key string) bool {
	if isReserved(key) {
		return false
	}
	if v.allowed == nil {
		return true
	}
	_, ok := v.allowed[key]
	return ok
}

func isZero(vec []float32) bool {
	for _, x := range vec {
		if x != 0 {
			return false
		}
	}
	return true
}

func finite(vec []float32) bool {
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// filterValues reports whether v is a list filter and returns its elements.
// ok is false when v is neither a scalar nor a list of scalars.
func filterValues(v any) (values []any, ok bool) {
	if isScalar(v) {
		return nil, true
	}
	switch list := v.(type) {
	case []any:
		values = list
	case []string:
		for _, s := range list {
			values = append(values, s)
		}
	case []int:
		for _, n := range list {
			values = append(values, n)
		}
	case []int64:
		for _, n := range list {
			values = append(values, n)
		}
	case []float64:
		for _, f := range list {
			values = append(values, f)
		}
	case []bool:
		for _, b := range list {
			values = append(values, b)
		}
	default:
		return nil, false
	}
	for _, e := range values {
		if !isScalar(e) {
			return nil, false
		}
	}
	if values == nil {
		values = []any{}
	}
	return values, true
}

// clone deep-copies the vector and metadata so the store never aliases
// caller memory.
func (d Document) clone() Document {
	out := d
	if d.Vector != nil {
		out.Vector = append([]float32(nil), d.Vector...)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// record flattens the document into the stored source.
func (d Document) record(id string) map[string]any {
	src := make(map[string]any, len(d.Metadata)+3)
	for k, v := range d.Metadata {
		src[k] = v
	}
	src[FieldText] = d.Text
	src[FieldVector] = d.Vector
	src[FieldDocID] = id
	return src
}

// fromRecord rebuilds a document from a stored source.
func fromRecord(id string, score float64, src map[string]any) Document {
	doc := Document{ID: id, Score: score}
	for k, v := range src {
		switch k {
		case FieldText:
			doc.Text, _ = v.(string)
		case FieldVector:
			doc.Vector = toFloat32s(v)
		case FieldDocID:
		default:
			if doc.Metadata == nil {
				doc.Metadata = make(map[string]any)
			}
			doc.Metadata[k] = v
		}
	}
	return doc
}

func toFloat32s(v any) []float32 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, x := range raw {
		if f, ok := x.(float64); ok {
			out = append(out, float32(f))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
