package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/cord/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSnapshot   = []byte("snapshot")
	bucketRequestLog = []byte("request_log")

	keyRoot = []byte("root")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "cord.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshot, bucketRequestLog} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) LoadSnapshot() (types.Node, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSnapshot).Get(keyRoot); v != nil {
			// Bolt values are only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return types.Node{}, false, err
	}
	if data == nil {
		return types.Node{}, false, nil
	}
	root, err := decodeSnapshot(data)
	if err != nil {
		return types.Node{}, true, err
	}
	return root, true, nil
}

func (s *BoltStore) SaveSnapshot(root types.Node) error {
	data, err := json.Marshal(root)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshot).Put(keyRoot, data)
	})
}

func (s *BoltStore) AppendRequestLog(entry *RequestLogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRequestLog)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = id
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(sequenceKey(id), data)
	})
}

func (s *BoltStore) ListRequestLog(limit int) ([]*RequestLogEntry, error) {
	var entries []*RequestLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRequestLog).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry RequestLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

// sequenceKey encodes id big-endian so cursor order matches insertion order
func sequenceKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}
