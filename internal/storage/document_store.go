package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/models"
)

// BinarySuffix marks blob keys. Values under these keys are raw bytes and
// bypass the JSON codec on both read and write.
const BinarySuffix = "^bytes"

// maxWriteAttempts bounds write retries before the store is declared
// exhausted and the write surfaces as an error.
const maxWriteAttempts = 12

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// KeyedRecord pairs a store key with its decoded record.
type KeyedRecord struct {
	Key    string
	Record models.Record
}

// DocumentStore is an ordered URL-to-record mapping backed by Badger. One
// store holds one crawl, at <data_dir>/<name>.crawl. Non-HTML documents keep
// their raw bytes under the sibling blob key.
type DocumentStore struct {
	db     *badger.DB
	path   string
	logger arbor.ILogger
}

// OpenDocumentStore opens (creating if needed) the store for a crawl name.
func OpenDocumentStore(dataDir, name string, logger arbor.ILogger) (*DocumentStore, error) {
	path := storePath(dataDir, name)

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	logger.Debug().Str("path", path).Msg("Opening document store")

	options := badger.DefaultOptions(path)
	options.Logger = nil // Disable default badger logger to use arbor

	db, err := badger.Open(options)
	if err != nil {
		logger.Fatal().Err(err).Str("path", path).Msg("DocumentStore: Failed to open database")
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	return &DocumentStore{
		db:     db,
		path:   path,
		logger: logger,
	}, nil
}

// Path returns the on-disk location of the store.
func (s *DocumentStore) Path() string {
	return s.path
}

// Close closes the backing database.
func (s *DocumentStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// update runs a write transaction with bounded retries. Retryable capacity
// and conflict errors are retried; exhausting the attempts is fatal. All
// other failures surface to the caller unchanged.
func (s *DocumentStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err = s.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrTxnTooBig) {
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Retrying document store write")
			continue
		}
		return err
	}
	s.logger.Fatal().Err(err).Str("path", s.path).Msg("DocumentStore: store cannot accept writes")
	return fmt.Errorf("document store exhausted after %d attempts: %w", maxWriteAttempts, err)
}

// PutRecord replaces the record at key. Any stale blob sibling from an
// earlier binary fetch is removed in the same transaction.
func (s *DocumentStore) PutRecord(key string, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), data); err != nil {
			return err
		}
		return txn.Delete([]byte(key + BinarySuffix))
	})
}

// PutHTML stores an HTML page as a content record.
func (s *DocumentStore) PutHTML(key, html string, crawled float64, lastModified string) error {
	return s.PutRecord(key, models.NewHTMLRecord(html, crawled, lastModified))
}

// PutBlob stores a binary document: a content record at key and the raw
// bytes at the blob sibling, written atomically.
func (s *DocumentStore) PutBlob(key string, data []byte, contentType string, crawled float64, lastModified string) error {
	rec, err := json.Marshal(models.NewBinaryRecord(contentType, crawled, lastModified))
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(key), rec); err != nil {
			return err
		}
		return txn.Set([]byte(key+BinarySuffix), data)
	})
}

// GetRecord loads and decodes the record at key.
func (s *DocumentStore) GetRecord(key string) (models.Record, error) {
	var rec models.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return fmt.Errorf("failed to get record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetBlob loads the raw bytes stored alongside the record at key.
func (s *DocumentStore) GetBlob(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key + BinarySuffix))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s%s", ErrNotFound, key, BinarySuffix)
			}
			return fmt.Errorf("failed to get blob: %w", err)
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetField updates one field of an existing record in place.
func (s *DocumentStore) SetField(key, name string, value interface{}) error {
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return fmt.Errorf("failed to get record: %w", err)
		}
		var rec models.Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec[name] = value
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode record: %w", err)
		}
		return txn.Set([]byte(key), data)
	})
}

// Contains reports whether a record exists at key.
func (s *DocumentStore) Contains(key string) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Delete removes the record at key together with its blob sibling.
func (s *DocumentStore) Delete(key string) error {
	return s.update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key + BinarySuffix))
	})
}

// Iterate walks all records in key order, skipping blob keys. The callback
// returns false to stop early.
func (s *DocumentStore) Iterate(fn func(key string, rec models.Record) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasSuffix(key, BinarySuffix) {
				continue
			}
			var rec models.Record
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode record %s: %w", key, err)
			}
			if !fn(key, rec) {
				return nil
			}
		}
		return nil
	})
}

// FilterRecordsByField returns, in key order, every record whose field
// matches the given value. Blob keys are skipped.
func (s *DocumentStore) FilterRecordsByField(name string, value interface{}) ([]KeyedRecord, error) {
	var out []KeyedRecord
	err := s.Iterate(func(key string, rec models.Record) bool {
		if rec[name] == value {
			out = append(out, KeyedRecord{Key: key, Record: rec})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of records, excluding blob keys.
func (s *DocumentStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if !strings.HasSuffix(string(it.Item().Key()), BinarySuffix) {
				count++
			}
		}
		return nil
	})
	return count, err
}
