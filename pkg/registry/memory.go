package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"p9e.in/takweed/models"
)

// MemoryStore is an in-memory Store used by tests and local tooling.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]models.Request
	farms     map[uuid.UUID]models.Farm
	crops     []models.Crop
	locations []models.Location
	hubs      []models.Hub
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.Request),
		farms:    make(map[uuid.UUID]models.Farm),
	}
}

// AddCrop stores c, assigning an id when it has none.
func (s *MemoryStore) AddCrop(c models.Crop) models.Crop {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.mu.Lock()
	s.crops = append(s.crops, c)
	s.mu.Unlock()
	return c
}

// AddLocation stores l, assigning an id when it has none.
func (s *MemoryStore) AddLocation(l models.Location) models.Location {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	s.mu.Lock()
	s.locations = append(s.locations, l)
	s.mu.Unlock()
	return l
}

// AddHub stores h, assigning an id when it has none.
func (s *MemoryStore) AddHub(h models.Hub) models.Hub {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	s.mu.Lock()
	s.hubs = append(s.hubs, h)
	s.mu.Unlock()
	return h
}

// AddFarm stores f, assigning an id when it has none.
func (s *MemoryStore) AddFarm(f models.Farm) models.Farm {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	s.mu.Lock()
	s.farms[f.ID] = f
	s.mu.Unlock()
	return f
}

// AddRequest stores r keyed by its code.
func (s *MemoryStore) AddRequest(r models.Request) models.Request {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	s.mu.Lock()
	s.requests[r.Code] = r
	s.mu.Unlock()
	return r
}

func (s *MemoryStore) Request(_ context.Context, code string) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[code]
	if !ok {
		return nil, ErrNotFound
	}
	r = s.hydrate(r)
	return &r, nil
}

func (s *MemoryStore) RequestsByCodes(_ context.Context, codes []string) (map[string]models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Request, len(codes))
	for _, c := range codes {
		if r, ok := s.requests[c]; ok {
			out[c] = s.hydrate(r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRequests(_ context.Context, q RequestQuery) ([]models.Request, error) {
	s.mu.RLock()
	out := make([]models.Request, 0, len(s.requests))
	for _, r := range s.requests {
		r = s.hydrate(r)
		if q.matches(&r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (s *MemoryStore) Crops(context.Context) ([]models.Crop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Crop(nil), s.crops...), nil
}

func (s *MemoryStore) Locations(context.Context) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Location(nil), s.locations...), nil
}

func (s *MemoryStore) Hubs(context.Context) ([]models.Hub, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Hub(nil), s.hubs...), nil
}

// hydrate attaches Farm and Crop the way a gorm Preload would.
func (s *MemoryStore) hydrate(r models.Request) models.Request {
	if f, ok := s.farms[r.FarmID]; ok {
		r.Farm = &f
	}
	if r.CropID != nil {
		for i := range s.crops {
			if s.crops[i].ID == *r.CropID {
				c := s.crops[i]
				r.Crop = &c
				break
			}
		}
	}
	return r
}
