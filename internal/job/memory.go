package job

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; use GormRepository for durable storage.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Create stores a clone of the job.
func (r *MemoryRepository) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job: duplicate id %s", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// FindByHandle retrieves a job by its provider handle.
func (r *MemoryRepository) FindByHandle(_ context.Context, handle string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if handle != "" && job.Handle() == handle {
			return job.Clone(), nil
		}
	}
	return nil, ErrJobNotFound
}

// SetHandle records the provider handle of an in-progress job.
func (r *MemoryRepository) SetHandle(_ context.Context, id, handle string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.IsTerminal() {
		return ErrAlreadyTerminal
	}
	job.ProviderJobHandle = &handle
	job.UpdatedAt = at
	return nil
}

// Transition moves the job to status under the first-writer-wins rule.
func (r *MemoryRepository) Transition(_ context.Context, id string, to Status, u Update, at time.Time) (bool, error) {
	if err := checkTransition(to); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.IsTerminal() {
		return false, nil
	}

	job.Status = to
	job.UpdatedAt = at
	if to.IsTerminal() {
		job.Outputs = u.Outputs
		job.ErrorCode = u.ErrorCode
		job.ErrorMessage = u.ErrorMessage
		job.CompletedAt = &at
	}
	return true, nil
}

// ReplaceOutputs swaps outputs if they still equal from.
func (r *MemoryRepository) ReplaceOutputs(_ context.Context, id string, from, to Outputs, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return false, ErrJobNotFound
	}
	if job.Status != StatusCompleted || job.Outputs != from {
		return false, nil
	}
	job.Outputs = to
	job.UpdatedAt = at
	return true, nil
}

// RecordPollFailure increments the poll failure counter.
func (r *MemoryRepository) RecordPollFailure(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return 0, ErrJobNotFound
	}
	if job.IsTerminal() {
		return job.PollFailures, ErrAlreadyTerminal
	}
	job.PollFailures++
	return job.PollFailures, nil
}

// ResetPollFailures clears the poll failure counter.
func (r *MemoryRepository) ResetPollFailures(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.PollFailures = 0
	return nil
}

// ListPollable returns in-progress jobs with a handle, oldest first.
func (r *MemoryRepository) ListPollable(_ context.Context, limit int) ([]*Job, error) {
	return r.collect(func(j *Job) bool {
		return j.Status == StatusInProgress && j.Handle() != ""
	}, oldestFirst, limit), nil
}

// ListStale returns in-progress jobs created before cutoff, oldest first.
func (r *MemoryRepository) ListStale(_ context.Context, cutoff time.Time) ([]*Job, error) {
	return r.collect(func(j *Job) bool {
		return j.Status == StatusInProgress && j.CreatedAt.Before(cutoff)
	}, oldestFirst, 0), nil
}

// CountInProgress returns the number of in-progress jobs.
func (r *MemoryRepository) CountInProgress(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, job := range r.jobs {
		if job.Status == StatusInProgress {
			n++
		}
	}
	return n, nil
}

// List returns jobs matching the filter, newest first.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Job, error) {
	return r.collect(func(j *Job) bool {
		if f.Status != "" && j.Status != f.Status {
			return false
		}
		if f.Kind != "" && j.Kind != f.Kind {
			return false
		}
		if f.RunID != "" && (j.RunID == nil || *j.RunID != f.RunID) {
			return false
		}
		return true
	}, newestFirst, f.Limit), nil
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *MemoryRepository) collect(match func(*Job) bool, order func(a, b *Job) int, limit int) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0)
	for _, job := range r.jobs {
		if match(job) {
			result = append(result, job.Clone())
		}
	}
	slices.SortFunc(result, order)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func oldestFirst(a, b *Job) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func newestFirst(a, b *Job) int {
	return oldestFirst(b, a)
}
