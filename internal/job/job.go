// Package job provides the GenerationJob aggregate and its persistence port.
// A job is created in_progress and moves exactly once to completed or failed;
// terminal states are sticky.
package job

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/genstudio-api/internal/job/id"
	"github.com/maauso/genstudio-api/internal/provider"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInProgress indicates the job was accepted and has not finished.
	StatusInProgress Status = "in_progress"
	// StatusCompleted indicates the job finished with outputs.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job finished with a classified error.
	StatusFailed Status = "failed"
)

// IsValid returns true if the status is known.
func (s Status) IsValid() bool {
	return s == StatusInProgress || s == StatusCompleted || s == StatusFailed
}

// IsTerminal returns true if the status is completed or failed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrInvalidTransition is returned when a transition target is not a known status.
	ErrInvalidTransition = errors.New("job: invalid state transition")
	// ErrAlreadyTerminal is returned when a mutation requires an in-progress job.
	ErrAlreadyTerminal = errors.New("job: already terminal")
)

// Outputs are the artifact references of a completed job.
type Outputs struct {
	VideoURL     string `gorm:"type:text"`
	ImageURL     string `gorm:"type:text"`
	ThumbnailURL string `gorm:"type:text"`
}

// IsEmpty returns true if no reference is set.
func (o Outputs) IsEmpty() bool {
	return o.VideoURL == "" && o.ImageURL == "" && o.ThumbnailURL == ""
}

// Job is a single generation request tracked from submission to a terminal state.
type Job struct {
	ID       string        `gorm:"primaryKey;size:36"`
	Kind     provider.Kind `gorm:"index;size:32;not null"`
	Provider string        `gorm:"index;size:32;not null"`
	Model    string        `gorm:"size:128"`

	Prompt            string   `gorm:"type:text"`
	NegativePrompt    string   `gorm:"type:text"`
	InputImageURL     string   `gorm:"type:text"`
	EndFrameURL       string   `gorm:"type:text"`
	InputVideoURL     string   `gorm:"type:text"`
	CharacterImageURL string   `gorm:"type:text"`
	ReferenceImages   []string `gorm:"serializer:json"`

	Params provider.Params `gorm:"embedded;embeddedPrefix:param_"`

	// ProviderJobHandle is nil until the adapter accepts the job.
	ProviderJobHandle *string `gorm:"index;size:512"`
	Status            Status  `gorm:"index;size:20;not null;default:'in_progress'"`

	Outputs `gorm:"embedded"`

	ErrorCode    provider.ErrorCode `gorm:"size:32"`
	ErrorMessage string             `gorm:"type:text"`
	PollFailures int                `gorm:"default:0"`

	// Pipeline linkage; zero for standalone jobs.
	RunID      *string `gorm:"index;size:36"`
	StageOrder int     `gorm:"default:0"`
	StageName  string  `gorm:"size:64"`

	// Auto-post settings are carried for a downstream publisher.
	AutoPostTargetID *string `gorm:"size:128"`
	AutoPostStatus   string  `gorm:"size:32"`

	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// TableName pins the table name.
func (Job) TableName() string {
	return "generation_jobs"
}

// New creates an in-progress job for the request with a generated ID.
func New(providerName string, req provider.Request, now time.Time) *Job {
	return &Job{
		ID:                id.Generate(),
		Kind:              req.Kind,
		Provider:          providerName,
		Model:             req.Model,
		Prompt:            req.Prompt,
		NegativePrompt:    req.NegativePrompt,
		InputImageURL:     req.ImageURL,
		EndFrameURL:       req.EndFrameURL,
		InputVideoURL:     req.VideoURL,
		CharacterImageURL: req.CharacterImageURL,
		ReferenceImages:   slices.Clone(req.ReferenceImages),
		Params:            req.Params,
		Status:            StatusInProgress,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Request rebuilds the provider request the job was created from.
func (j *Job) Request() provider.Request {
	return provider.Request{
		Kind:              j.Kind,
		Model:             j.Model,
		Prompt:            j.Prompt,
		NegativePrompt:    j.NegativePrompt,
		ImageURL:          j.InputImageURL,
		EndFrameURL:       j.EndFrameURL,
		VideoURL:          j.InputVideoURL,
		CharacterImageURL: j.CharacterImageURL,
		ReferenceImages:   slices.Clone(j.ReferenceImages),
		Params:            j.Params,
	}
}

// Handle returns the provider job handle or "".
func (j *Job) Handle() string {
	if j.ProviderJobHandle == nil {
		return ""
	}
	return *j.ProviderJobHandle
}

// IsTerminal returns true if the job is completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// Age returns how long ago the job was created.
func (j *Job) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	c := *j
	c.ReferenceImages = slices.Clone(j.ReferenceImages)
	c.ProviderJobHandle = clonePtr(j.ProviderJobHandle)
	c.RunID = clonePtr(j.RunID)
	c.AutoPostTargetID = clonePtr(j.AutoPostTargetID)
	c.CompletedAt = clonePtr(j.CompletedAt)
	c.Params.Strength = clonePtr(j.Params.Strength)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
