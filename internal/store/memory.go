package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/harinnig/heymateBackend/internal/model"
)

// MemoryStore is an in-memory RequestStore for development and tests.
// All guards are checked under a single mutex, which gives the same
// observable semantics as the filtered single-document writes of the
// mongo and postgres stores.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*model.Request
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*model.Request),
	}
}

func (s *MemoryStore) Insert(ctx context.Context, req *model.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.ID]; ok {
		return ErrAlreadyExists
	}
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, requestID string) (*model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(stored), nil
}

func (s *MemoryStore) ReplaceIfStatus(ctx context.Context, req *model.Request, expect model.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expect || stored.Version != req.Version {
		return ErrStale
	}

	req.Version++
	s.requests[req.ID] = cloneRequest(req)
	return nil
}

func (s *MemoryStore) AppendOffer(ctx context.Context, requestID string, offer model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != model.StatusPending {
		return ErrNotPending
	}
	if stored.HasOfferFrom(offer.ProviderID) {
		return ErrDuplicateOffer
	}

	stored.Offers = append(stored.Offers, offer)
	stored.Version++
	return nil
}

func (s *MemoryStore) AddRejected(ctx context.Context, requestID, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if stored.HasRejected(providerID) {
		return nil
	}
	stored.RejectedBy = append(stored.RejectedBy, providerID)
	stored.Version++
	return nil
}

func (s *MemoryStore) AddNotified(ctx context.Context, requestID string, providerIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}

	known := make(map[string]struct{}, len(stored.NotifiedProviders))
	for _, id := range stored.NotifiedProviders {
		known[id] = struct{}{}
	}
	changed := false
	for _, id := range providerIDs {
		if _, ok := known[id]; ok {
			continue
		}
		stored.NotifiedProviders = append(stored.NotifiedProviders, id)
		known[id] = struct{}{}
		changed = true
	}
	if changed {
		stored.Version++
	}
	return nil
}

func (s *MemoryStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Request
	for _, req := range s.requests {
		if req.RequesterID == requesterID {
			out = append(out, *cloneRequest(req))
		}
	}
	sortNewestFirst(out)
	return capList(out, limit), nil
}

func (s *MemoryStore) ListOpenForProvider(ctx context.Context, category, providerID string, limit int) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Request
	for _, req := range s.requests {
		if req.Status != model.StatusPending {
			continue
		}
		if category != "" && req.Category != category {
			continue
		}
		if req.HasRejected(providerID) {
			continue
		}
		out = append(out, *cloneRequest(req))
	}
	sortNewestFirst(out)
	return capList(out, limit), nil
}

func (s *MemoryStore) Search(ctx context.Context, q string, limit int) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q = strings.ToLower(q)
	var out []model.Request
	for _, req := range s.requests {
		if req.Status != model.StatusPending {
			continue
		}
		if q != "" && !containsFold(req, q) {
			continue
		}
		out = append(out, *cloneRequest(req))
	}
	sortNewestFirst(out)
	return capList(out, limit), nil
}

func (s *MemoryStore) Close() error { return nil }

func containsFold(req *model.Request, q string) bool {
	return strings.Contains(strings.ToLower(req.Title), q) ||
		strings.Contains(strings.ToLower(req.Category), q) ||
		strings.Contains(strings.ToLower(req.Description), q)
}

func sortNewestFirst(reqs []model.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}

func capList(reqs []model.Request, limit int) []model.Request {
	if limit > 0 && len(reqs) > limit {
		return reqs[:limit]
	}
	return reqs
}

// cloneRequest deep-copies a request so callers never alias stored
// slices.
func cloneRequest(req *model.Request) *model.Request {
	out := *req
	out.Offers = make([]model.Offer, len(req.Offers))
	copy(out.Offers, req.Offers)
	out.RejectedBy = make([]string, len(req.RejectedBy))
	copy(out.RejectedBy, req.RejectedBy)
	out.NotifiedProviders = make([]string, len(req.NotifiedProviders))
	copy(out.NotifiedProviders, req.NotifiedProviders)
	out.StatusHistory = make([]model.StatusEntry, len(req.StatusHistory))
	copy(out.StatusHistory, req.StatusHistory)
	if req.Budget != nil {
		b := *req.Budget
		out.Budget = &b
	}
	if req.CompletedAt != nil {
		t := *req.CompletedAt
		out.CompletedAt = &t
	}
	if req.CancelledAt != nil {
		t := *req.CancelledAt
		out.CancelledAt = &t
	}
	return &out
}
