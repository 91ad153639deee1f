package queue

import (
	"context"
	"sync"
	"time"
)

// memoryStore is the volatile fallback used when the SQLite file cannot be
// opened. Semantics match sqliteStore; nothing survives a restart.
type memoryStore struct {
	mu     sync.Mutex
	jobs   []*Job
	nextID uint64
	cfg    *Config
}

func newMemoryStore(cfg *Config) *memoryStore {
	return &memoryStore{nextID: 1, cfg: cfg}
}

func (s *memoryStore) Push(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := *job
	j.ID = s.nextID
	s.nextID++
	j.Attempts = 0
	j.CreatedAt = time.Now().Unix()
	j.NextEligible = j.CreatedAt
	s.jobs = append(s.jobs, &j)
	*job = j
	return nil
}

func (s *memoryStore) Due(ctx context.Context, now time.Time) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now.Unix()
	for _, j := range s.jobs {
		if j.NextEligible <= ts {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Mark(ctx context.Context, id uint64, ok bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, j := range s.jobs {
		if j.ID != id {
			continue
		}
		if ok {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return nil
		}
		j.Attempts++
		j.NextEligible = now.Add(backoffDelay(j.Attempts)).Unix()
		return nil
	}
	return nil
}

func (s *memoryStore) Depth(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.jobs)), nil
}

func (s *memoryStore) List(ctx context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.jobs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Job, 0, n)
	for _, j := range s.jobs[:n] {
		out = append(out, *j)
	}
	return out, nil
}

func (s *memoryStore) Purge(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.jobs))
	s.jobs = nil
	return n, nil
}

func (s *memoryStore) EnforceLimits(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted int64

	if s.cfg.MaxAge > 0 {
		cutoff := now.Add(-s.cfg.MaxAge).Unix()
		kept := s.jobs[:0]
		for _, j := range s.jobs {
			if j.CreatedAt < cutoff {
				evicted++
				continue
			}
			kept = append(kept, j)
		}
		s.jobs = kept
	}

	if s.cfg.MaxBytes > 0 {
		for s.footprintLocked() > int64(s.cfg.MaxBytes) && len(s.jobs) > 0 {
			n := s.cfg.TrimBatch
			if n > len(s.jobs) {
				n = len(s.jobs)
			}
			s.jobs = s.jobs[n:]
			evicted += int64(n)
		}
	}

	return evicted, nil
}

// footprintLocked approximates per-job memory the way the file store measures
// disk: body plus headers plus a fixed row overhead.
func (s *memoryStore) footprintLocked() int64 {
	var total int64
	for _, j := range s.jobs {
		total += int64(len(j.Body)) + int64(len(j.URL)) + int64(len(j.Topic)) + 64
		for k, v := range j.Headers {
			total += int64(len(k)) + int64(len(v))
		}
	}
	return total
}

func (s *memoryStore) Close() error {
	return nil
}
