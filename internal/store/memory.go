package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"propscraper/internal/types"
)

// MemoryPropertyStore keeps properties in a map keyed by source_url. It
// backs the one-shot CLI path and the test suites; FailWith lets tests
// inject a storage fault to exercise batch atomicity.
type MemoryPropertyStore struct {
	mu    sync.Mutex
	props map[string]types.Property

	// FailWith, when non-nil, makes the next UpsertBatch fail after
	// staging without committing anything.
	FailWith error
}

func NewMemoryPropertyStore() *MemoryPropertyStore {
	return &MemoryPropertyStore{props: map[string]types.Property{}}
}

func (s *MemoryPropertyStore) UpsertBatch(ctx context.Context, listings []types.Listing) (types.UpsertCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts types.UpsertCounts
	deduped, skipped := DedupeBySourceURL(listings)
	counts.Skipped = skipped

	if s.FailWith != nil {
		err := s.FailWith
		s.FailWith = nil
		return types.UpsertCounts{}, err
	}

	// stage first, commit after: a fault above leaves the map untouched
	now := time.Now().UTC()
	staged := make(map[string]types.Property, len(deduped))
	for _, l := range deduped {
		if existing, ok := s.props[l.SourceURL]; ok {
			staged[l.SourceURL] = merge(existing, l, now)
			counts.Updated++
		} else {
			p := merge(types.Property{
				ID:        uuid.New(),
				CreatedAt: now,
			}, l, now)
			staged[l.SourceURL] = p
			counts.New++
		}
	}
	for url, p := range staged {
		s.props[url] = p
	}
	return counts, nil
}

// merge overlays every non-null incoming field onto the existing row,
// matching the postgres COALESCE semantics.
func merge(p types.Property, l types.Listing, now time.Time) types.Property {
	p.Title = l.Title
	p.Address = l.Address
	p.SourceURL = l.SourceURL
	if l.Price != nil {
		p.Price = l.Price
	}
	if l.Province != "" {
		p.Province = l.Province
	}
	if l.City != "" {
		p.City = l.City
	}
	if l.Suburb != nil {
		p.Suburb = l.Suburb
	}
	if l.PropertyType != "" {
		p.PropertyType = l.PropertyType
	}
	if l.Bedrooms != nil {
		p.Bedrooms = l.Bedrooms
	}
	if l.Bathrooms != nil {
		p.Bathrooms = l.Bathrooms
	}
	if l.GarageSpaces != nil {
		p.GarageSpaces = l.GarageSpaces
	}
	if l.LandSize != nil {
		p.LandSize = l.LandSize
	}
	if l.FloorSize != nil {
		p.FloorSize = l.FloorSize
	}
	if l.Latitude != nil {
		p.Latitude = l.Latitude
	}
	if l.Longitude != nil {
		p.Longitude = l.Longitude
	}
	p.ScrapedAt = now
	p.UpdatedAt = now
	return p
}

func (s *MemoryPropertyStore) GetBySourceURL(ctx context.Context, sourceURL string) (*types.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[sourceURL]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryPropertyStore) Search(ctx context.Context, q types.PropertyQuery) ([]types.Property, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Property
	for _, p := range s.props {
		if q.City != "" && !strings.EqualFold(p.City, q.City) {
			continue
		}
		if q.Province != "" && !strings.EqualFold(p.Province, q.Province) {
			continue
		}
		if q.PropertyType != "" && !strings.EqualFold(p.PropertyType, q.PropertyType) {
			continue
		}
		if q.MinPrice != nil && (p.Price == nil || *p.Price < *q.MinPrice) {
			continue
		}
		if q.MaxPrice != nil && (p.Price == nil || *p.Price > *q.MaxPrice) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryPropertyStore) Recent(ctx context.Context, days, limit int) ([]types.Property, error) {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Property
	for _, p := range s.props {
		if p.ScrapedAt.After(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScrapedAt.After(out[j].ScrapedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryPropertyStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.props)), nil
}

func (s *MemoryPropertyStore) Stats(ctx context.Context) (types.PropertyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := types.PropertyStats{
		Total:  int64(len(s.props)),
		ByType: map[string]int64{},
		ByCity: map[string]int64{},
	}
	for _, p := range s.props {
		stats.ByType[p.PropertyType]++
		if p.City != "" {
			stats.ByCity[p.City]++
		}
	}
	return stats, nil
}

// MemoryJobStore is the in-memory JobStore counterpart.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]types.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[uuid.UUID]types.Job{}}
}

func (s *MemoryJobStore) List(ctx context.Context) ([]types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryJobStore) Create(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if strings.EqualFold(j.Name, job.Name) {
			return ErrDuplicateName
		}
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Update(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// MemoryRunStore is the in-memory RunStore counterpart.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs []types.RunResult
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{}
}

func (s *MemoryRunStore) Record(ctx context.Context, run *types.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, *run)
	return nil
}

func (s *MemoryRunStore) List(ctx context.Context, jobID uuid.UUID, limit int) ([]types.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.RunResult
	for _, r := range s.runs {
		if jobID != uuid.Nil && r.JobID != jobID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRunStore) Counts(ctx context.Context) (total, succeeded int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		total++
		if r.Status == types.RunSucceeded {
			succeeded++
		}
	}
	return total, succeeded, nil
}
