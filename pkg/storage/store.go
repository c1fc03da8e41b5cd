package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/cord/pkg/types"
)

// ErrCorruptSnapshot is returned by LoadSnapshot when a snapshot exists but
// cannot be decoded
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Driver names accepted by Open
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
)

// RequestLogEntry is one inbound request as recorded by the server
type RequestLogEntry struct {
	ID        uint64    `json:"id"`
	At        time.Time `json:"at"`
	Direction string    `json:"direction"`
	Op        string    `json:"op"`
	Path      string    `json:"path"`
	Payload   string    `json:"payload,omitempty"`
}

// Store defines the interface for durable server state
type Store interface {
	// LoadSnapshot returns the last saved tree. found is false when nothing
	// was ever saved.
	LoadSnapshot() (root types.Node, found bool, err error)
	SaveSnapshot(root types.Node) error

	AppendRequestLog(entry *RequestLogEntry) error
	// ListRequestLog returns up to limit entries, newest first
	ListRequestLog(limit int) ([]*RequestLogEntry, error)

	Close() error
}

// Open creates the store for driver under dataDir
func Open(driver, dataDir string) (Store, error) {
	switch driver {
	case DriverBolt, "":
		return NewBoltStore(dataDir)
	case DriverSQLite:
		return NewSQLiteStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

func decodeSnapshot(data []byte) (types.Node, error) {
	var root types.Node
	if err := root.UnmarshalJSON(data); err != nil {
		return types.Node{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if !root.IsObject() {
		return types.Node{}, fmt.Errorf("%w: root is %s, not an object", ErrCorruptSnapshot, root.Kind())
	}
	return root, nil
}
