// Package runstore provides the BadgerDB-backed execution history.
//
// Every run of a stored program appends one immutable record: which
// program ran, whether it halted or faulted, how many steps it took
// and what the final operand stack was. Records are keyed by a
// monotonic sequence number and indexed by program ID.
package runstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/estalang/estavm/internal/types"
)

var (
	// ErrRunNotFound is returned when a sequence number is not stored.
	ErrRunNotFound = errors.New("run not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("run store closed")
)

// Key prefixes for BadgerDB storage.
var (
	// prefixRun is the prefix for run records.
	// Key format: prefixRun + sequence (8 bytes, big-endian)
	prefixRun = []byte{0x01}

	// prefixProgramIndex indexes runs by program.
	// Key format: prefixProgramIndex + program ID (32 bytes) + sequence (8 bytes)
	prefixProgramIndex = []byte{0x02}

	// prefixMeta is the prefix for metadata.
	prefixMeta = []byte{0x03}

	// metaLastSeq is the key for the last assigned sequence number.
	metaLastSeq = append(prefixMeta, []byte("seq")...)
)

// Status classifies the outcome of a run.
type Status string

const (
	// StatusHalted means the program reached halt.
	StatusHalted Status = "halted"

	// StatusFaulted means the run aborted with a fault.
	StatusFaulted Status = "faulted"
)

// Record is one execution of a program.
type Record struct {
	// Seq is the store-assigned sequence number, starting at 1.
	Seq uint64

	// Program identifies the executed program.
	Program types.ProgramID

	// Status is the run outcome.
	Status Status

	// Fault is the fault message; empty when Status is StatusHalted.
	Fault string

	// Steps is the number of instructions executed.
	Steps uint64

	// Stack is the final operand stack, bottom first.
	Stack []int64

	// MemoryLen is the final variable-memory length.
	MemoryLen int

	// StartedAt is when the run began.
	StartedAt time.Time

	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// Config contains configuration for the run store.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables logging.
	Logger badger.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		InMemory:   false,
		SyncWrites: false,
		Logger:     nil,
	}
}

// Store is the BadgerDB-backed run history.
type Store struct {
	db *badger.DB

	// lastSeq is cached in memory for fast appends.
	lastSeq atomic.Uint64

	// mu serializes appends.
	mu sync.Mutex

	closed atomic.Bool
}

// Open creates a new run store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

// loadMetadata loads the last sequence number from disk.
func (s *Store) loadMetadata() error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaLastSeq)
		if err == badger.ErrKeyNotFound {
			s.lastSeq.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				s.lastSeq.Store(binary.BigEndian.Uint64(val))
			}
			return nil
		})
	})
}

// runKey returns the key for a run record.
func runKey(seq uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixRun[0]
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}

// programIndexKey returns the index key for a run of a program.
func programIndexKey(id types.ProgramID, seq uint64) []byte {
	key := make([]byte, 1+types.ProgramIDSize+8)
	key[0] = prefixProgramIndex[0]
	copy(key[1:], id[:])
	binary.BigEndian.PutUint64(key[1+types.ProgramIDSize:], seq)
	return key
}

// Append stores a run record, assigns it the next sequence number and
// returns that number.
func (s *Store) Append(rec *Record) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.lastSeq.Load() + 1
	rec.Seq = seq

	encoded, err := encodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	seqBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBuf, seq)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(runKey(seq), encoded); err != nil {
			return err
		}
		if err := txn.Set(programIndexKey(rec.Program, seq), nil); err != nil {
			return err
		}
		return txn.Set(metaLastSeq, seqBuf)
	})
	if err != nil {
		return 0, err
	}

	s.lastSeq.Store(seq)
	return seq, nil
}

// Get retrieves a run record by sequence number.
func (s *Store) Get(seq uint64) (*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(seq))
		if err == badger.ErrKeyNotFound {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := decodeRecord(val)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByProgram returns up to limit records for a program, most recent
// first. A limit of 0 means no limit.
func (s *Store) ListByProgram(id types.ProgramID, limit int) ([]*Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	prefix := make([]byte, 1+types.ProgramIDSize)
	prefix[0] = prefixProgramIndex[0]
	copy(prefix[1:], id[:])

	var seqs []uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the largest key under the prefix.
		seek := append(append([]byte(nil), prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			seqs = append(seqs, binary.BigEndian.Uint64(key[len(prefix):]))
			if limit > 0 && len(seqs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(seqs))
	for _, seq := range seqs {
		rec, err := s.Get(seq)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// LastSeq returns the last assigned sequence number.
func (s *Store) LastSeq() uint64 {
	return s.lastSeq.Load()
}

// Count returns the number of stored runs.
func (s *Store) Count() uint64 {
	return s.lastSeq.Load()
}

// Close closes the store.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// encodeRecord serializes a record with gob.
func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRecord deserializes a gob-encoded record.
func decodeRecord(data []byte) (*Record, error) {
	rec := &Record{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
