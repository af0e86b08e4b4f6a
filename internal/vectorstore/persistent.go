package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const snapshotFile = "documents.json"

// PersistentStore is a MemoryStore that snapshots its documents to disk
// after every successful write.
type PersistentStore struct {
	*MemoryStore
	dataDir string
	writeMu sync.Mutex
}

// NewPersistentStore creates a new persistent vector store
func NewPersistentStore(dataDir string, dim int) (*PersistentStore, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &PersistentStore{
		MemoryStore: NewMemoryStore(dim),
		dataDir:     dataDir,
	}

	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load documents from disk: %w", err)
	}

	return store, nil
}

// AddDocuments stores docs in memory and persists the snapshot. When the
// snapshot cannot be written nothing from the batch is kept.
func (p *PersistentStore) AddDocuments(ctx context.Context, docs []Document) ([]WriteResult, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	before := p.MemoryStore.Count()
	results, err := p.MemoryStore.AddDocuments(ctx, docs)
	if err != nil {
		return nil, err
	}

	if err := p.saveToDisk(); err != nil {
		// Keep memory in step with the last snapshot.
		p.MemoryStore.truncate(before)
		return nil, newStoreError("add_documents", p.dataDir, fmt.Errorf("%w: %v", ErrBackend, err))
	}
	return results, nil
}

// Clear removes all documents from memory and disk
func (p *PersistentStore) Clear() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.MemoryStore.Clear()
	if err := os.Remove(p.snapshotPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// GetDataDir returns the data directory path
func (p *PersistentStore) GetDataDir() string {
	return p.dataDir
}

func (p *PersistentStore) snapshotPath() string {
	return filepath.Join(p.dataDir, snapshotFile)
}

// saveToDisk writes the snapshot through a temp file so readers never see
// a partial file.
func (p *PersistentStore) saveToDisk() error {
	data, err := json.MarshalIndent(p.MemoryStore.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal documents: %w", err)
	}

	tmp, err := os.CreateTemp(p.dataDir, snapshotFile+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p.snapshotPath())
}

func (p *PersistentStore) loadFromDisk() error {
	data, err := os.ReadFile(p.snapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var docs []Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("corrupt snapshot %s: %w", p.snapshotPath(), err)
	}
	p.MemoryStore.restore(docs)
	return nil
}
