package store

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

var (
	uploadsBucket  = []byte("uploads")
	restoresBucket = []byte("restores")
)

// BoltStore is a Store implementation backed by bbolt, giving job records
// durability across process restarts.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a bbolt database at the given path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(uploadsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(restoresBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create job buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(bucket []byte, key string, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if err := b.Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to put record: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) get(bucket []byte, key string, v any) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return ErrJobNotFound
		}
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(key)) == nil {
			return ErrJobNotFound
		}
		return b.Delete([]byte(key))
	})
}

// SaveUpload persists an upload record.
func (s *BoltStore) SaveUpload(rec *UploadRecord) error {
	return s.put(uploadsBucket, rec.ID, rec)
}

// GetUpload retrieves an upload record by job id.
func (s *BoltStore) GetUpload(id string) (*UploadRecord, error) {
	var rec UploadRecord
	if err := s.get(uploadsBucket, id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateUpload applies fn to a record inside a single write transaction, so
// the read-back and the write cannot interleave with another mutation.
func (s *BoltStore) UpdateUpload(id string, fn func(*UploadRecord) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(uploadsBucket)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrJobNotFound
		}
		var rec UploadRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		out, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put([]byte(id), out)
	})
}

// ListUploads returns all upload records in submission order.
func (s *BoltStore) ListUploads() ([]*UploadRecord, error) {
	var out []*UploadRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(uploadsBucket).ForEach(func(_, data []byte) error {
			var rec UploadRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortUploads(out)
	return out, nil
}

// DeleteUpload removes an upload record.
func (s *BoltStore) DeleteUpload(id string) error {
	return s.delete(uploadsBucket, id)
}

// SaveRestore persists a restore record.
func (s *BoltStore) SaveRestore(rec *RestoreRecord) error {
	return s.put(restoresBucket, rec.Key, rec)
}

// GetRestore retrieves a restore record by object key.
func (s *BoltStore) GetRestore(key string) (*RestoreRecord, error) {
	var rec RestoreRecord
	if err := s.get(restoresBucket, key, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRestores returns all restore records ordered by request time.
func (s *BoltStore) ListRestores() ([]*RestoreRecord, error) {
	var out []*RestoreRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(restoresBucket).ForEach(func(_, data []byte) error {
			var rec RestoreRecord
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRestores(out)
	return out, nil
}

// DeleteRestore removes a restore record.
func (s *BoltStore) DeleteRestore(key string) error {
	return s.delete(restoresBucket, key)
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sortUploads(recs []*UploadRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}

func sortRestores(recs []*RestoreRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].RequestedAt.Equal(recs[j].RequestedAt) {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].RequestedAt.Before(recs[j].RequestedAt)
	})
}
