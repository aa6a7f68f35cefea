package auditlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"modelgate/internal/shared/models"
)

// Store is an append-only audit log over a JSONL file. A single mutex
// serializes every append, which gives records a total order matching the
// order their requests passed the authentication+logging critical section.
// The lock is held only for the file write, never across network calls.
type Store struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Append persists one record. The write is a single line so a partially
// interleaved record cannot occur even across processes sharing the file.
func (s *Store) Append(rec models.AuditRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append audit record: %w", err)
	}
	return f.Close()
}

// ReadAll returns every persisted record in append order. A missing file is
// an empty log, not an error.
func (s *Store) ReadAll() ([]models.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []models.AuditRecord
	dec := json.NewDecoder(f)
	for {
		var rec models.AuditRecord
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadAccepted returns only the records of authenticated requests, in
// append order.
func (s *Store) ReadAccepted() ([]models.AuditRecord, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	accepted := make([]models.AuditRecord, 0, len(all))
	for _, rec := range all {
		if rec.Accepted {
			accepted = append(accepted, rec)
		}
	}
	return accepted, nil
}
