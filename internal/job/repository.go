package job

import (
	"context"
	"errors"
	"time"

	"github.com/maauso/genstudio-api/internal/provider"
)

// ErrJobNotFound is returned when a job cannot be found by ID or handle.
var ErrJobNotFound = errors.New("job: not found")

// Update carries the fields written by a transition.
type Update struct {
	Outputs
	ErrorCode    provider.ErrorCode
	ErrorMessage string
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status Status
	Kind   provider.Kind
	RunID  string
	Limit  int
}

// Repository defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// Transition is the only way a job reaches a terminal status. It applies
// only while the stored job is in_progress, which makes the terminal
// transition first-writer-wins across concurrent callers.
type Repository interface {
	// Create inserts a new job.
	Create(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// FindByHandle retrieves a job by its provider job handle.
	// Returns ErrJobNotFound if no job carries the handle.
	FindByHandle(ctx context.Context, handle string) (*Job, error)

	// SetHandle records the provider handle of an in-progress job.
	// Returns ErrAlreadyTerminal if the job has finished.
	SetHandle(ctx context.Context, id, handle string, at time.Time) error

	// Transition moves a job to status. Terminal targets apply only while the
	// job is in_progress; applied is false when another writer got there first.
	Transition(ctx context.Context, id string, to Status, u Update, at time.Time) (applied bool, err error)

	// ReplaceOutputs swaps the outputs of a completed job from one set to
	// another. It applies only if the stored outputs still equal from.
	ReplaceOutputs(ctx context.Context, id string, from, to Outputs, at time.Time) (applied bool, err error)

	// RecordPollFailure increments the consecutive poll failure counter of an
	// in-progress job and returns the new value.
	RecordPollFailure(ctx context.Context, id string) (int, error)

	// ResetPollFailures clears the poll failure counter.
	ResetPollFailures(ctx context.Context, id string) error

	// ListPollable returns in-progress jobs holding a handle, oldest first.
	ListPollable(ctx context.Context, limit int) ([]*Job, error)

	// ListStale returns in-progress jobs created before cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// CountInProgress returns the number of in-progress jobs, with or without
	// a handle.
	CountInProgress(ctx context.Context) (int, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// Delete removes a job from storage.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}

// checkTransition validates a transition target.
func checkTransition(to Status) error {
	if !to.IsValid() {
		return ErrInvalidTransition
	}
	return nil
}
