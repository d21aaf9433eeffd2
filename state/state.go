package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store is a key/value store of JSON records. The last write to a key wins.
type Store interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Has(ctx context.Context, key string) bool
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

var errStoreClosed = errors.New("state store is closed")

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Get(_ context.Context, key string, v any) (bool, error) {
	m.mu.RLock()
	data, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode record %q: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}
	m.put(key, data)
	return nil
}

func (m *MemoryStore) Has(_ context.Context, key string) bool {
	m.mu.RLock()
	_, ok := m.records[key]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryStore) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) put(key string, data json.RawMessage) {
	m.mu.Lock()
	m.records[key] = data
	m.mu.Unlock()
}

// FileStore persists records as an append-only JSON lines log so future
// runs see earlier results. Replaying the log on open keeps the last value
// written for each key.
type FileStore struct {
	*MemoryStore
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

type fileRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func NewFileStore(stateDir string, persist bool) (*FileStore, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	store := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        filepath.Join(stateDir, "records.jsonl"),
		persist:     persist,
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(store.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		store.file = file
		store.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return store, nil
}

// Path returns the location of the record log.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Value == nil {
			continue
		}
		f.put(record.Key, record.Value)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

// Set appends the record to the log and then updates the in-memory view, both
// under one lock, so memory and log agree on the order of writes and a failed
// append leaves the previous value visible.
func (f *FileStore) Set(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record %q: %w", key, err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.persist {
		if err := f.appendRecord(key, data); err != nil {
			return err
		}
	}
	f.put(key, data)
	return nil
}

func (f *FileStore) appendRecord(key string, data json.RawMessage) error {
	if f.writer == nil {
		return errStoreClosed
	}
	line, err := json.Marshal(fileRecord{Key: key, Value: data})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}
	if _, err := f.writer.Write(line); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileStore) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if !f.persist || f.writer == nil {
		return nil
	}
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileStore) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file = nil
	f.writer = nil

	return firstErr
}
