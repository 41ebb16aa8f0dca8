package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ecobrazo/sortarm/internal/debug"
)

// JSONLog stores records as a single indented JSON array. Every append
// rewrites the file through a temporary file and a rename, so a crash
// never leaves a half-written array behind.
type JSONLog struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	records []Record
	loadErr error
	corrupt bool // file on disk failed to parse and has not been moved aside yet
}

// OpenJSON loads the log at path. A missing file yields an empty log. A
// file that fails to parse also yields an empty log; LoadErr then reports
// ErrCorrupt and the file is moved aside on the next successful write.
func OpenJSON(path string) (*JSONLog, error) {
	l := &JSONLog{path: path, now: time.Now}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return l, nil
	case err != nil:
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		l.records = nil
		l.corrupt = true
		l.loadErr = fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		debug.Warn("audit log %s is corrupt, starting empty: %v", path, err)
	}
	return l, nil
}

// LoadErr returns the parse failure encountered when the log was opened.
func (l *JSONLog) LoadErr() error {
	return l.loadErr
}

// Append adds rec to the log and persists the whole array.
func (l *JSONLog) Append(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec = stamp(rec, l.now)
	next := append(l.records[:len(l.records):len(l.records)], rec)

	if l.corrupt {
		if err := setAside(l.path, l.now()); err != nil {
			return Record{}, err
		}
		l.corrupt = false
	}

	if err := l.write(next); err != nil {
		return Record{}, err
	}
	l.records = next
	return rec, nil
}

func (l *JSONLog) write(records []Record) error {
	data, err := json.MarshalIndent(records, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal audit log: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp audit log: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("replace audit log: %w", err)
	}
	return nil
}

// Records returns a copy of the records in append order.
func (l *JSONLog) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}

// Close is a no-op; every append is already on disk.
func (l *JSONLog) Close() error {
	return nil
}
