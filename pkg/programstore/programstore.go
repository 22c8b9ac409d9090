// Package programstore provides persistent, content-addressed storage
// for estavm programs.
//
// Programs are stored by the blake3 hash of their binary image, so a
// Put of an already-stored program is a no-op that returns the same
// ID. Images are zstd-compressed on disk.
package programstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/estalang/estavm/internal/types"
	"github.com/estalang/estavm/pkg/bytecode"
)

var (
	// ErrProgramNotFound is returned when a program ID is not stored.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("program store closed")
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores zstd-compressed program images keyed by
	// program ID.
	bucketPrograms = []byte("programs")

	// bucketProgramMeta stores per-program metadata keyed by program ID.
	bucketProgramMeta = []byte("program_meta")

	// bucketMetadata stores store-wide metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyProgramCount = []byte("program_count")
)

// Config holds program store configuration options.
type Config struct {
	// Path is the file path for the store database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default program store configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:     path,
		NoSync:   false,
		ReadOnly: false,
	}
}

// Meta describes a stored program.
type Meta struct {
	// ID is the program's content hash.
	ID types.ProgramID

	// Instructions is the program length.
	Instructions uint64

	// StoredAt is when the program was first stored, unix seconds.
	StoredAt int64
}

// Store is a BoltDB-backed program store.
type Store struct {
	db     *bolt.DB
	config Config

	// programCount is cached for fast reads.
	mu           sync.RWMutex
	programCount uint64

	closed bool
}

// Open creates or opens a program store at the configured path.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}

	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{
		db:     db,
		config: config,
	}

	if !config.ReadOnly {
		if err := store.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}

	if err := store.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}

	return store, nil
}

// initBuckets creates all required buckets.
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPrograms,
			bucketProgramMeta,
			bucketMetadata,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database.
		}
		if v := meta.Get(keyProgramCount); len(v) >= 8 {
			s.programCount = binary.BigEndian.Uint64(v)
		}
		return nil
	})
}

// Put stores a program and returns its content-derived ID. Storing a
// program that is already present returns the existing ID unchanged.
func (s *Store) Put(prog []bytecode.Instruction) (types.ProgramID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.ProgramID{}, ErrClosed
	}

	image, err := bytecode.Encode(prog)
	if err != nil {
		return types.ProgramID{}, fmt.Errorf("encode program: %w", err)
	}
	id := types.HashProgram(image)

	compressed, err := compressZstd(image)
	if err != nil {
		return types.ProgramID{}, fmt.Errorf("compress program: %w", err)
	}

	meta := Meta{
		ID:           id,
		Instructions: uint64(len(prog)),
		StoredAt:     time.Now().Unix(),
	}

	inserted := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if programs.Get(id[:]) != nil {
			return nil // Already stored; content addressing makes this a no-op.
		}
		if err := programs.Put(id[:], compressed); err != nil {
			return fmt.Errorf("put program: %w", err)
		}
		if err := tx.Bucket(bucketProgramMeta).Put(id[:], encodeMeta(meta)); err != nil {
			return fmt.Errorf("put meta: %w", err)
		}

		inserted = true
		return putCounter(tx, keyProgramCount, s.programCount+1)
	})
	if err != nil {
		return types.ProgramID{}, err
	}
	// The cache moves only after the transaction committed, so a
	// failed write cannot desync it from disk.
	if inserted {
		s.programCount++
	}
	return id, nil
}

// Get retrieves a program by ID.
func (s *Store) Get(id types.ProgramID) ([]bytecode.Instruction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var compressed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPrograms).Get(id[:])
		if v == nil {
			return ErrProgramNotFound
		}
		compressed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	image, err := decompressZstd(compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress program: %w", err)
	}
	return bytecode.Decode(image)
}

// GetMeta retrieves metadata for a stored program.
func (s *Store) GetMeta(id types.ProgramID) (*Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var meta *Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketProgramMeta).Get(id[:])
		if v == nil {
			return ErrProgramNotFound
		}
		m, err := decodeMeta(v)
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Has reports whether a program is stored.
func (s *Store) Has(id types.ProgramID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	found := false
	s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketPrograms).Get(id[:]) != nil
		return nil
	})
	return found
}

// Delete removes a program. Deleting an absent program returns
// ErrProgramNotFound.
func (s *Store) Delete(id types.ProgramID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		programs := tx.Bucket(bucketPrograms)
		if programs.Get(id[:]) == nil {
			return ErrProgramNotFound
		}
		if err := programs.Delete(id[:]); err != nil {
			return err
		}
		if err := tx.Bucket(bucketProgramMeta).Delete(id[:]); err != nil {
			return err
		}

		return putCounter(tx, keyProgramCount, s.programCount-1)
	})
	if err != nil {
		return err
	}
	s.programCount--
	return nil
}

// List returns metadata for every stored program, in ID order.
func (s *Store) List() ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	var metas []Meta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProgramMeta).ForEach(func(_, v []byte) error {
			m, err := decodeMeta(v)
			if err != nil {
				return err
			}
			metas = append(metas, *m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return metas, nil
}

// Count returns the number of stored programs.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.programCount
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// putCounter writes a uint64 metadata counter.
func putCounter(tx *bolt.Tx, key []byte, n uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return tx.Bucket(bucketMetadata).Put(key, buf)
}

// Meta record layout: id (32) + instruction count (8) + stored-at (8),
// big-endian.
const metaSize = types.ProgramIDSize + 8 + 8

// encodeMeta serializes a Meta record.
func encodeMeta(m Meta) []byte {
	buf := make([]byte, metaSize)
	copy(buf[:types.ProgramIDSize], m.ID[:])
	binary.BigEndian.PutUint64(buf[32:40], m.Instructions)
	binary.BigEndian.PutUint64(buf[40:48], uint64(m.StoredAt))
	return buf
}

// decodeMeta parses a Meta record.
func decodeMeta(buf []byte) (*Meta, error) {
	if len(buf) < metaSize {
		return nil, fmt.Errorf("corrupt meta record: %d bytes", len(buf))
	}
	m := &Meta{
		Instructions: binary.BigEndian.Uint64(buf[32:40]),
		StoredAt:     int64(binary.BigEndian.Uint64(buf[40:48])),
	}
	copy(m.ID[:], buf[:types.ProgramIDSize])
	return m, nil
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
