package store

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"
)

const issuedBucket = "issued"

// BoltRepository stores issued records in an embedded BoltDB file, one JSON value per transaction id.
// No external database process is required.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the database at path and ensures the bucket exists
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, WrapBackendError(err, "failed to open bolt database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(issuedBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, WrapBackendError(err, "failed to create bucket")
	}

	return &BoltRepository{db: db}, nil
}

// Close releases the database file lock.
func (s *BoltRepository) Close() error {
	return s.db.Close()
}

func (s *BoltRepository) Get(_ context.Context, id string) (*IssuedRecord, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(issuedBucket)).Get([]byte(id))
		if v == nil {
			return NewNotFoundError(id)
		}
		// v is only valid for the life of the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return decodeRecord(data)
}

func (s *BoltRepository) Put(_ context.Context, rec *IssuedRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(issuedBucket)).Put([]byte(rec.ID()), data)
	})
	if err != nil {
		return WrapBackendError(err, "failed to write record")
	}
	return nil
}

// Delete removes a record. Deleting a missing id is a no-op.
func (s *BoltRepository) Delete(_ context.Context, id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(issuedBucket)).Delete([]byte(id))
	})
	if err != nil {
		return WrapBackendError(err, "failed to delete record")
	}
	return nil
}

// List returns all records in key order
func (s *BoltRepository) List(_ context.Context) ([]*IssuedRecord, error) {
	out := []*IssuedRecord{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(issuedBucket)).ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
