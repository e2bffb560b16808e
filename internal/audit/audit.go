// Package audit persists a durable record of job completions for the
// SIGUSR1 dump handler, so an operator can inspect recent activity
// even across a scheduler restart. Built on a bolt key-value store
// with one bucket per concern, storing done/expire activation
// records.
package audit

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const recordsBucket = "records"

// Record is one completed job activation, keyed by jobid.
type Record struct {
	JobID       string    `json:"jobid"`
	JobGID      string    `json:"jobgid"`
	Username    string    `json:"username"`
	EventName   string    `json:"eventname"`
	TriggerName string    `json:"triggername"`
	Status      string    `json:"status"` // "done" or "expire"
	Detail      string    `json:"detail"`
	Timestamp   time.Time `json:"timestamp"`
}

// Journal is a bbolt-backed append log of Records.
type Journal struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit journal at %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(recordsBucket))
		return errors.Wrap(err, "create records bucket")
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

// Append records one job completion, keyed by jobid so re-activations
// with the same id (should never happen within a run) overwrite rather
// than duplicate.
func (j *Journal) Append(r Record) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		encoded, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "marshal audit record")
		}
		return errors.Wrap(b.Put([]byte(r.JobID), encoded), "put audit record")
	})
}

// All returns every stored record, in key (jobid) order.
func (j *Journal) All() ([]Record, error) {
	var records []Record
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(recordsBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Wrap(err, "unmarshal audit record")
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

// Dump writes every stored record as one JSON array to destPath,
// used by the SIGUSR1 handler alongside the config/allow/event-list
// dumps.
func (j *Journal) Dump(destPath string) error {
	records, err := j.All()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(records)
	if err != nil {
		return errors.Wrap(err, "marshal audit dump")
	}
	return errors.Wrapf(os.WriteFile(destPath, encoded, 0o600), "write audit dump to %s", destPath)
}
