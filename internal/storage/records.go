package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/debocaemboca/wabot/internal/domain"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RecordStore keeps the user records in a pretty-printed JSON file.
// The in-memory copy is authoritative once loaded and every mutation is flushed
// to disk while the store lock is held.
type RecordStore struct {
	mu      sync.Mutex
	path    string
	records []domain.UserRecord
	loaded  bool
}

// NewRecordStore creates a store backed by path. Nothing is read until first use.
func NewRecordStore(path string) *RecordStore {
	return &RecordStore{path: path}
}

// Path returns the backing file path.
func (s *RecordStore) Path() string {
	return s.path
}

// Load returns a copy of all records. A missing or unparsable file yields an
// empty list and the file is rewritten.
func (s *RecordStore) Load() ([]domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return cloneRecords(s.records), nil
}

// Save replaces the whole record list.
func (s *RecordStore) Save(records []domain.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneRecords(records)
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	s.loaded = true
	return nil
}

// Update runs fn against the current records as one serialized
// read-modify-write cycle. fn reports whether it changed anything; only then
// the result is persisted.
func (s *RecordStore) Update(fn func(records []domain.UserRecord) ([]domain.UserRecord, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	next, changed := fn(cloneRecords(s.records))
	if !changed {
		return nil
	}
	if err := s.write(next); err != nil {
		return err
	}
	s.records = next
	return nil
}

func (s *RecordStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		zap.L().Info("storage: data file not found, creating a new one", zap.String("path", s.path))
		return s.reset()
	case err != nil:
		return errors.Wrapf(err, "read data file %s", s.path)
	}

	var records []domain.UserRecord
	if uerr := json.Unmarshal(data, &records); uerr != nil {
		zap.L().Warn("storage: data file corrupt or empty, creating a new one",
			zap.String("path", s.path), zap.Error(uerr))
		return s.reset()
	}
	for i := range records {
		records[i].Normalize()
	}
	s.records = records
	if s.records == nil {
		s.records = []domain.UserRecord{}
	}
	s.loaded = true
	return nil
}

func (s *RecordStore) reset() error {
	s.records = []domain.UserRecord{}
	s.loaded = true
	return s.write(s.records)
}

func (s *RecordStore) write(records []domain.UserRecord) error {
	if records == nil {
		records = []domain.UserRecord{}
	}
	for i := range records {
		records[i].Normalize()
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode records")
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create data dir")
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(err, "replace %s", s.path)
	}
	return nil
}

func cloneRecords(src []domain.UserRecord) []domain.UserRecord {
	out := make([]domain.UserRecord, len(src))
	for i, r := range src {
		out[i] = r
		out[i].ChosenOptions = append([]string{}, r.ChosenOptions...)
		if r.Email != nil {
			email := *r.Email
			out[i].Email = &email
		}
	}
	return out
}
