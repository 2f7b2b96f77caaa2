package store

import "sync"

// MemStore is an in-memory Store for runs that do not need durability, and
// for tests. A single mutex is the serialization point for all records.
type MemStore struct {
	mu       sync.RWMutex
	uploads  map[string]*UploadRecord
	restores map[string]*RestoreRecord
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		uploads:  make(map[string]*UploadRecord),
		restores: make(map[string]*RestoreRecord),
	}
}

// SaveUpload inserts or replaces an upload record.
func (s *MemStore) SaveUpload(rec *UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.uploads[rec.ID] = &cp
	return nil
}

// GetUpload retrieves an upload record by job id.
func (s *MemStore) GetUpload(id string) (*UploadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.uploads[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

// UpdateUpload applies fn to a record under the store's write lock. The
// mutation is discarded when fn errors.
func (s *MemStore) UpdateUpload(id string, fn func(*UploadRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.uploads[id]
	if !ok {
		return ErrJobNotFound
	}
	cp := *rec
	if err := fn(&cp); err != nil {
		return err
	}
	s.uploads[id] = &cp
	return nil
}

// ListUploads returns all upload records in submission order.
func (s *MemStore) ListUploads() ([]*UploadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*UploadRecord, 0, len(s.uploads))
	for _, rec := range s.uploads {
		cp := *rec
		out = append(out, &cp)
	}
	sortUploads(out)
	return out, nil
}

// DeleteUpload removes an upload record.
func (s *MemStore) DeleteUpload(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.uploads[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.uploads, id)
	return nil
}

// SaveRestore inserts or replaces a restore record.
func (s *MemStore) SaveRestore(rec *RestoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.restores[rec.Key] = &cp
	return nil
}

// GetRestore retrieves a restore record by object key.
func (s *MemStore) GetRestore(key string) (*RestoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.restores[key]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListRestores returns all restore records ordered by request time.
func (s *MemStore) ListRestores() ([]*RestoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RestoreRecord, 0, len(s.restores))
	for _, rec := range s.restores {
		cp := *rec
		out = append(out, &cp)
	}
	sortRestores(out)
	return out, nil
}

// DeleteRestore removes a restore record.
func (s *MemStore) DeleteRestore(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.restores[key]; !ok {
		return ErrJobNotFound
	}
	delete(s.restores, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
