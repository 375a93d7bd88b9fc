// Package history is the append-only audit log of tool requests and
// recovery runs, stored as JSON lines.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/macpilot/pkg/logging"
	"github.com/entrhq/macpilot/pkg/types"
)

// maxLineSize bounds a single audit record; tool output can be large.
const maxLineSize = 16 * 1024 * 1024

// RecordKind distinguishes tool executions from recovery runs.
type RecordKind string

const (
	KindTool     RecordKind = "tool"
	KindRecovery RecordKind = "recovery"
)

// Record is one audit entry.
type Record struct {
	ID        string     `json:"id"`
	Kind      RecordKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`

	// Tool records
	Request  *types.ToolRequest `json:"request,omitempty"`
	Approved *bool              `json:"approved,omitempty"`
	Result   *types.ToolResult  `json:"result,omitempty"`

	// Recovery records
	Recovery *RecoveryEntry `json:"recovery,omitempty"`
}

// RecoveryEntry describes the failure handed to the recovery engine.
type RecoveryEntry struct {
	ErrorKind types.ErrorKind `json:"error_kind"`
	Error     string          `json:"error"`
	Context   map[string]any  `json:"context,omitempty"`
}

// NewToolRecord builds the audit entry for an executed or denied request.
func NewToolRecord(req types.ToolRequest, approved bool, result types.ToolResult) Record {
	return Record{
		Kind:     KindTool,
		Request:  &req,
		Approved: &approved,
		Result:   &result,
	}
}

// NewRecoveryRecord builds the audit entry written when recovery starts.
func NewRecoveryRecord(kind types.ErrorKind, message string, context map[string]any) Record {
	return Record{
		Kind: KindRecovery,
		Recovery: &RecoveryEntry{
			ErrorKind: kind,
			Error:     message,
			Context:   context,
		},
	}
}

// Store persists records to a JSON-lines file. It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger reports skipped records to l
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a store backed by path, creating its directory.
func NewStore(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("history: init directory: %w", err)
	}
	s := &Store{path: path, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s, nil
}

// Path returns the backing file
func (s *Store) Path() string {
	return s.path
}

// Append adds a record, filling in its ID and timestamp when unset.
func (s *Store) Append(rec Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// All returns every record in insertion order. Corrupt lines are skipped.
func (s *Store) All() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", s.path, err)
	}
	defer f.Close()

	records := []Record{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logger.Warnf("skipping corrupt record at %s:%d: %v", s.path, lineNum, err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("history: read %s: %w", s.path, err)
	}
	return records, nil
}

// Recent returns the last limit records in insertion order. A limit of zero
// or less returns everything.
func (s *Store) Recent(limit int) ([]Record, error) {
	records, err := s.All()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Clear deletes every record. It is the only way records are removed.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}
