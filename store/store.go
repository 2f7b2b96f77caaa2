// Package store is the job record store: the single source of truth for the
// state of every upload and restore job. All mutations go through one
// implementation of Store, keyed by job id (uploads) or object key (restores).
package store

import (
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned when a job is not found in the store.
	ErrJobNotFound = errors.New("job not found")
)

// JobState represents the current state of a transfer or restore job.
type JobState string

const (
	StatePending    JobState = "Pending"
	StateInProgress JobState = "InProgress"
	StateCompleted  JobState = "Completed"
	StateFailed     JobState = "Failed"
	StatePaused     JobState = "Paused"
	StateCancelled  JobState = "Cancelled"
)

// Terminal reports whether no further transitions can happen from s.
// Failed is terminal only once the retry budget is exhausted, which the
// queue tracks on the record itself; for store purposes Failed counts as
// terminal because leaving it requires an explicit retry call.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// RestoreTier selects the speed/cost trade-off of an archive retrieval.
type RestoreTier string

const (
	TierExpedited RestoreTier = "Expedited"
	TierStandard  RestoreTier = "Standard"
	TierBulk      RestoreTier = "Bulk"
)

// ValidRestoreTier reports whether t names a known retrieval tier.
func ValidRestoreTier(t RestoreTier) bool {
	return t == TierExpedited || t == TierStandard || t == TierBulk
}

// UploadRecord is the durable state of one file submitted for archival.
// The identity and descriptor fields never change after creation; the rest
// is mutated only by the job's assigned worker and by queue-management calls.
type UploadRecord struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	Key        string    `json:"key"`
	CreatedAt  time.Time `json:"created_at"`

	State         JobState `json:"state"`
	UploadedBytes int64    `json:"uploaded_bytes"`
	SpeedBps      float64  `json:"speed_bps"`
	ETASeconds    int64    `json:"eta_seconds"`
	RetryCount    int      `json:"retry_count"`
	Error         string   `json:"error,omitempty"`
	Checksum      string   `json:"checksum,omitempty"`

	// MultipartID is the in-flight multipart upload id, kept so an
	// interrupted job can resume instead of starting over.
	MultipartID string `json:"multipart_id,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RestoreRecord is the durable state of one archive retrieval, keyed by
// object key. At most one non-terminal record exists per key.
type RestoreRecord struct {
	Key         string      `json:"key"`
	State       JobState    `json:"state"`
	Tier        RestoreTier `json:"tier"`
	RequestedAt time.Time   `json:"requested_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	// ExpiresAt is when the restored copy reverts to archive-only.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Store tracks upload and restore job records. Implementations serialize
// access internally; callers never coordinate between each other.
type Store interface {
	SaveUpload(rec *UploadRecord) error
	GetUpload(id string) (*UploadRecord, error)
	// UpdateUpload applies fn to the stored record atomically: read, mutate
	// and write happen under the store's write lock, so concurrent state
	// changes are never overwritten. An error from fn leaves the record
	// untouched and is returned verbatim.
	UpdateUpload(id string, fn func(*UploadRecord) error) error
	ListUploads() ([]*UploadRecord, error)
	DeleteUpload(id string) error

	SaveRestore(rec *RestoreRecord) error
	GetRestore(key string) (*RestoreRecord, error)
	ListRestores() ([]*RestoreRecord, error)
	DeleteRestore(key string) error

	Close() error
}

// Reconcile repairs records after a restart. Uploads left InProgress go back
// to Pending so the queue can resume or restart them; restores left
// InProgress are returned so the poller can re-check them immediately rather
// than assuming completion.
func Reconcile(s Store) ([]*RestoreRecord, error) {
	uploads, err := s.ListUploads()
	if err != nil {
		return nil, err
	}
	for _, u := range uploads {
		if u.State != StateInProgress {
			continue
		}
		err := s.UpdateUpload(u.ID, func(rec *UploadRecord) error {
			rec.State = StatePending
			rec.SpeedBps = 0
			rec.ETASeconds = 0
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	restores, err := s.ListRestores()
	if err != nil {
		return nil, err
	}
	var stale []*RestoreRecord
	for _, r := range restores {
		if r.State == StateInProgress {
			stale = append(stale, r)
		}
	}
	return stale, nil
}
