package vectorstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in insertion order. Its search is a
// placeholder: it returns the first k documents and ignores the query
// vector and filters.
type MemoryStore struct {
	docs     []Document
	validate validator
	mutex    sync.RWMutex
}

// NewMemoryStore creates a new in-memory vector store. A positive dim
// enables vector length checks on add.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{
		validate: newValidator(dim, nil, nil),
	}
}

// AddDocuments appends copies of docs, each under a fresh ID
func (m *MemoryStore) AddDocuments(_ context.Context, docs []Document) ([]WriteResult, error) {
	if err := m.validate.documents(docs); err != nil {
		return nil, err
	}

	results := make([]WriteResult, len(docs))
	stored := make([]Document, len(docs))
	for i, doc := range docs {
		doc = doc.clone()
		doc.ID = uuid.NewString()
		doc.Score = 0
		stored[i] = doc
		results[i] = WriteResult{ID: doc.ID}
	}

	m.mutex.Lock()
	m.docs = append(m.docs, stored...)
	m.mutex.Unlock()

	return results, nil
}

// SimilaritySearch returns the first k stored documents
func (m *MemoryStore) SimilaritySearch(_ context.Context, _ []float32, k int, _ Filters) ([]Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if k <= 0 {
		return []Document{}, nil
	}
	if k > len(m.docs) {
		k = len(m.docs)
	}

	results := make([]Document, k)
	for i := 0; i < k; i++ {
		results[i] = m.docs[i].clone()
	}
	return results, nil
}

// AcceptsMetadata reports whether key may be used as a metadata field
func (m *MemoryStore) AcceptsMetadata(key string) bool {
	return m.validate.accepts(key)
}

// Count returns the number of documents in the store
func (m *MemoryStore) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.docs)
}

// All returns copies of every stored document in insertion order
func (m *MemoryStore) All() []Document {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]Document, len(m.docs))
	for i, doc := range m.docs {
		out[i] = doc.clone()
	}
	return out
}

// Clear removes all documents from the store
func (m *MemoryStore) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.docs = nil
}

// truncate drops every document stored after the first n
func (m *MemoryStore) truncate(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if n < len(m.docs) {
		m.docs = m.docs[:n]
	}
}

// restore replaces the contents with already-stored documents
func (m *MemoryStore) restore(docs []Document) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.docs = docs
}
