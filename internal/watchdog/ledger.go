// Package watchdog — ledger.go
//
// BoltDB-backed durable job ledger: tracks which input file paths have
// already been dispatched, so a restart does not re-enqueue a file the
// previous process already moved to processed/ or failed/.
//
// Schema:
//
//	/jobs
//	    key:   absolute input file path
//	    value: JSON-encoded LedgerRecord
package watchdog

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketJobs = "jobs"

// LedgerRecord is the persisted disposition of one input file.
type LedgerRecord struct {
	State     string    `json:"state"` // "processed" or "failed"
	JobID     string    `json:"job_id"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ledger wraps a BoltDB instance tracking job dispositions across
// restarts.
type Ledger struct {
	db *bolt.DB
}

// OpenLedger opens (or creates) the BoltDB file at path.
func OpenLedger(path string) (*Ledger, error) {
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	if err := bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketJobs))
		return err
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("ledger bucket init: %w", err)
	}

	return &Ledger{db: bdb}, nil
}

// Close closes the underlying BoltDB file.
func (l *Ledger) Close() error { return l.db.Close() }

// Seen reports whether path already has a terminal disposition
// recorded.
func (l *Ledger) Seen(path string) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		found = b.Get([]byte(path)) != nil
		return nil
	})
	return found, err
}

// Record marks path with a terminal disposition.
func (l *Ledger) Record(path string, rec LedgerRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger record marshal: %w", err)
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		return b.Put([]byte(path), data)
	})
}

// Forget removes path's recorded disposition, allowing it to be
// re-processed (used when an operator resubmits a file).
func (l *Ledger) Forget(path string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		return b.Delete([]byte(path))
	})
}
