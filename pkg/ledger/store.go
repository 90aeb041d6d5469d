package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
)

var (
	// ErrNotFound is returned when no traceability record exists for a code.
	ErrNotFound = errors.New("traceability record not found")
	// ErrExists is returned when opening a record for a code that has one.
	ErrExists = errors.New("traceability record already exists")
	// ErrVersionConflict is returned when the record changed between read
	// and append.
	ErrVersionConflict = errors.New("traceability record modified concurrently")
)

// Store persists traceability records and their append-only history.
type Store interface {
	// Get returns the record of code with History in stored order.
	Get(ctx context.Context, code string) (*models.Traceability, error)
	// Create stores a new record, ErrExists if code already has one.
	Create(ctx context.Context, rec *models.Traceability) error
	// Append stores entry as the next history item of code and replaces the
	// cached charge, provided the record is still at expectedVersion.
	// Seq and Code of entry are assigned by the store.
	Append(ctx context.Context, code string, expectedVersion int, entry *models.TraceabilityTransaction, charge []models.ChargeEntry) error
	// Codes lists every code with a record.
	Codes(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-memory Store used by tests and local tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Traceability
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Traceability)}
}

func (s *MemoryStore) Get(_ context.Context, code string) (*models.Traceability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[code]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneRecord(rec)
	return &c, nil
}

func (s *MemoryStore) Create(_ context.Context, rec *models.Traceability) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Code]; ok {
		return ErrExists
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	for i := range rec.History {
		rec.History[i].Code = rec.Code
		rec.History[i].Seq = i
	}
	c := cloneRecord(rec)
	s.records[rec.Code] = &c
	return nil
}

func (s *MemoryStore) Append(_ context.Context, code string, expectedVersion int, entry *models.TraceabilityTransaction, charge []models.ChargeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[code]
	if !ok {
		return ErrNotFound
	}
	if rec.Version != expectedVersion {
		return ErrVersionConflict
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Code = code
	entry.Seq = len(rec.History)
	rec.History = append(rec.History, cloneEntry(*entry))
	rec.Charge = append([]models.ChargeEntry(nil), charge...)
	rec.Version++
	return nil
}

func (s *MemoryStore) Codes(context.Context) ([]string, error) {
	s.mu.RLock()
	codes := make([]string, 0, len(s.records))
	for c := range s.records {
		codes = append(codes, c)
	}
	s.mu.RUnlock()
	sort.Strings(codes)
	return codes, nil
}

func cloneRecord(rec *models.Traceability) models.Traceability {
	c := *rec
	c.Charge = append([]models.ChargeEntry(nil), rec.Charge...)
	c.History = make([]models.TraceabilityTransaction, len(rec.History))
	for i, e := range rec.History {
		c.History[i] = cloneEntry(e)
	}
	return c
}

func cloneEntry(e models.TraceabilityTransaction) models.TraceabilityTransaction {
	e.Payload = append([]models.Quantity(nil), e.Payload...)
	return e
}
