// Package store persists replay results in LevelDB, keyed by the digest of
// the trace they were computed from.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"smalien/internal/emulator"
)

const prefix = "results/"

// Entry is one stored replay.
type Entry struct {
	// Digest is the hex SHA-256 of the trace.
	Digest   string            `json:"digest"`
	Program  string            `json:"program"`
	Trace    string            `json:"trace"`
	StoredAt time.Time         `json:"stored_at"`
	Results  *emulator.Results `json:"results"`
}

// Store wraps LevelDB. LevelDB handles its own synchronization.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates a database at path. An empty path keeps the data
// in memory.
func Open(path string) (*Store, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open results store %q: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Digest hashes a trace.
func Digest(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash trace: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func key(digest string) []byte { return []byte(prefix + digest) }

// Put stores e under its digest, replacing an earlier run of the same trace.
func (s *Store) Put(e *Entry) error {
	if e.Digest == "" {
		return errors.New("store entry without digest")
	}
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode results %s: %w", e.Digest, err)
	}
	return s.db.Put(key(e.Digest), data, nil)
}

// Get returns the entry stored for digest. Returns (nil, false, nil) if not
// found.
func (s *Store) Get(digest string) (*Entry, bool, error) {
	data, err := s.db.Get(key(digest), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get results %s: %w", digest, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decode results %s: %w", digest, err)
	}
	return &e, true, nil
}

// List returns every stored entry in digest order.
func (s *Store) List() ([]*Entry, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var out []*Entry
	for iter.Next() {
		var e Entry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, &e)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(digest string) error {
	return s.db.Delete(key(digest), nil)
}

func (s *Store) Close() error {
	return s.db.Close()
}
