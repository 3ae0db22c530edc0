package usecase

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState labels a download job's position in the pipeline.
type JobState string

const (
	JobStateResolving  JobState = "RESOLVING"
	JobStatePresenting JobState = "PRESENTING"
	JobStateCacheCheck JobState = "CACHE_CHECK"
	JobStateQueued     JobState = "QUEUED"
	JobStateFetching   JobState = "FETCHING"
	JobStateArchiving  JobState = "ARCHIVING"
	JobStateDelivered  JobState = "DELIVERED"
	JobStateFailed     JobState = "FAILED"
)

// ErrJobNotFound is returned when a polled job ID is unknown. Jobs live
// only in process memory; a restart forgets them.
var ErrJobNotFound = errors.New("job not found")

// Job is a requester-pollable snapshot of one download flow.
type Job struct {
	ID          uuid.UUID
	State       JobState
	Progress    float64 // percent, 0-100
	ErrorCode   string  // set only in FAILED
	ArtifactRef string  // set only in DELIVERED
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// JobRegistry tracks jobs in memory so requesters can poll pipeline
// progress. Mutated by concurrent flows; all methods are safe for
// concurrent use.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		jobs: make(map[uuid.UUID]*Job),
	}
}

// Create registers a new job in the given initial state.
func (r *JobRegistry) Create(state JobState) *Job {
	now := time.Now()
	job := &Job{
		ID:        uuid.New(),
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	return job
}

// Get returns a copy of the job, or ErrJobNotFound.
func (r *JobRegistry) Get(id uuid.UUID) (Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return *job, nil
}

// SetState advances the job's state.
func (r *JobRegistry) SetState(id uuid.UUID, state JobState) {
	r.update(id, func(j *Job) {
		j.State = state
	})
}

// SetProgress records a coarse progress observation.
func (r *JobRegistry) SetProgress(id uuid.UUID, percent float64) {
	r.update(id, func(j *Job) {
		j.Progress = percent
	})
}

// Complete terminates the job in DELIVERED with the artifact reference
// that served it (empty for direct deliveries).
func (r *JobRegistry) Complete(id uuid.UUID, artifactRef string) {
	r.update(id, func(j *Job) {
		j.State = JobStateDelivered
		j.Progress = 100
		j.ArtifactRef = artifactRef
	})
}

// Fail terminates the job in FAILED with a taxonomy error code.
func (r *JobRegistry) Fail(id uuid.UUID, code string) {
	r.update(id, func(j *Job) {
		j.State = JobStateFailed
		j.ErrorCode = code
	})
}

// Len returns the number of tracked jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

func (r *JobRegistry) update(id uuid.UUID, fn func(*Job)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = time.Now()
}
