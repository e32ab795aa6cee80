package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

// Key prefixes
const (
	entryPrefix   byte = 'e'
	sessionPrefix byte = 's'
)

var seqKey = []byte("!seq")

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence

	// writeMu serializes session summary read-modify-write
	writeMu sync.Mutex
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// sessionRecord is the stored form of a session summary
type sessionRecord struct {
	storage.Session
	Order uint64 `json:"order"`
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	// Laptop-friendly default: 16 MB memtable
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	// Block and index caches are unbounded unless set
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(seqKey, 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	return &Storage{db: db, seq: seq}, nil
}

// Write appends events to a session.
// Enforces context cancellation so a stuck write cannot block shutdown.
func (s *Storage) Write(ctx context.Context, session string, events []event.Event) error {
	if session == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- s.write(ctx, session, events)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("write operation cancelled: %w", ctx.Err())
	}
}

func (s *Storage) write(ctx context.Context, session string, events []event.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.loadSession(session)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return err
	}
	if errors.Is(err, storage.ErrSessionNotFound) {
		order, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate session order: %w", err)
		}
		rec = &sessionRecord{Session: storage.Session{ID: session}, Order: order}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	sessHash := xxhash.Sum64String(session)
	for i, e := range events {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		seq, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		value, err := json.Marshal(storage.Entry{Session: session, Seq: seq, Event: e})
		if err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
		if err := wb.Set(entryKey(sessHash, e.Pos(), seq), value); err != nil {
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	storage.TrackSession(&rec.Session, events, time.Now())
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := wb.Set(sessionKey(session), value); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush write batch: %w", err)
	}
	return nil
}

// Query retrieves entries matching the request in arrival order.
// Enforces context cancellation so a long scan cannot block shutdown.
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type queryResult struct {
		results []storage.Entry
		err     error
	}
	done := make(chan queryResult, 1)

	go func() {
		var res queryResult
		startTime := time.Now()
		var iterCount int

		res.err = s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = queryPrefix(req)

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				err := it.Item().Value(func(val []byte) error {
					var e storage.Entry
					if err := json.Unmarshal(val, &e); err != nil {
						return fmt.Errorf("failed to decode entry: %w", err)
					}
					if req.Matches(e) {
						res.results = append(res.results, e)
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})

		// Keys group entries by chunk, so restore arrival order before limiting
		sort.Slice(res.results, func(i, j int) bool {
			return res.results[i].Seq < res.results[j].Seq
		})
		if req.Limit > 0 && len(res.results) > req.Limit {
			res.results = res.results[:req.Limit]
		}

		if elapsed := time.Since(startTime); elapsed > 5*time.Second {
			log.Printf("⚠️  Slow query completed in %v (%d iterations, %d results)", elapsed, iterCount, len(res.results))
		}
		done <- res
	}()

	select {
	case res := <-done:
		return res.results, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("query operation cancelled: %w", ctx.Err())
	}
}

// Sessions lists sessions in creation order
func (s *Storage) Sessions(ctx context.Context) ([]storage.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []sessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{sessionPrefix}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec sessionRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("failed to decode session: %w", err)
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Order < records[j].Order })
	out := make([]storage.Session, len(records))
	for i, rec := range records {
		out[i] = rec.Session
	}
	return out, nil
}

// DeleteSession removes a session and all of its entries
func (s *Storage) DeleteSession(ctx context.Context, session string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.loadSession(session); err != nil {
		return err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionEntryPrefix(xxhash.Sum64String(session))

		it := txn.NewIterator(opts)
		defer it.Close()

		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			item := it.Item()
			// Hash collisions share a prefix, so confirm the owner
			var e storage.Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("failed to decode entry: %w", err)
			}
			if e.Session == session {
				keys = append(keys, item.KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
	}
	if err := wb.Delete(sessionKey(session)); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return wb.Flush()
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		log.Printf("⚠️  Failed to release badger sequence: %v", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection.
// Returns badger.ErrNoRewrite when there was nothing to reclaim.
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics without decoding values
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &storage.Stats{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		chunks := make(map[uint64]bool)
		var iterCount int
		for it.Rewind(); it.Valid(); it.Next() {
			iterCount++
			if iterCount%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			key := it.Item().Key()
			switch {
			case len(key) == entryKeyLen && key[0] == entryPrefix:
				stats.TotalEntries++
				chunks[binary.BigEndian.Uint64(key[9:17])] = true
			case len(key) > 1 && key[0] == sessionPrefix:
				stats.TotalSessions++
			}
		}
		stats.TotalChunks = uint64(len(chunks))
		return nil
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

func (s *Storage) loadSession(session string) (*sessionRecord, error) {
	var rec sessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(session))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, session)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &rec, nil
}

// entryKeyLen is prefix + session hash + chunk hash + sequence
const entryKeyLen = 1 + 8 + 8 + 8

// entryKey creates a key grouping entries by session, then chunk.
// Format: ['e'][session_hash (8 bytes)][chunk_hash (8 bytes)][seq (8 bytes)]
func entryKey(sessHash uint64, pos event.Pos, seq uint64) []byte {
	key := make([]byte, entryKeyLen)
	key[0] = entryPrefix
	binary.BigEndian.PutUint64(key[1:9], sessHash)
	binary.BigEndian.PutUint64(key[9:17], chunkHash(pos))
	binary.BigEndian.PutUint64(key[17:25], seq)
	return key
}

func chunkHash(pos event.Pos) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(pos.Dimension))
	binary.BigEndian.PutUint32(buf[4:8], uint32(pos.X))
	binary.BigEndian.PutUint32(buf[8:12], uint32(pos.Z))
	return xxhash.Sum64(buf[:])
}

func sessionEntryPrefix(sessHash uint64) []byte {
	prefix := make([]byte, 9)
	prefix[0] = entryPrefix
	binary.BigEndian.PutUint64(prefix[1:9], sessHash)
	return prefix
}

func sessionKey(session string) []byte {
	return append([]byte{sessionPrefix}, session...)
}

// queryPrefix narrows the scan to the most specific key prefix the request allows
func queryPrefix(req storage.QueryRequest) []byte {
	if req.Session == "" {
		return []byte{entryPrefix}
	}
	prefix := sessionEntryPrefix(xxhash.Sum64String(req.Session))
	if req.Chunk == nil {
		return prefix
	}
	var hash [8]byte
	binary.BigEndian.PutUint64(hash[:], chunkHash(*req.Chunk))
	return bytes.Join([][]byte{prefix, hash[:]}, nil)
}
