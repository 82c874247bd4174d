package pipeline

import "github.com/maauso/genstudio-api/internal/provider"

// Unit names the kind of step a failure happened in.
type Unit string

// Units.
const (
	UnitStage        Unit = "stage"
	UnitIntermediate Unit = "intermediate"
	UnitTransition   Unit = "transition"
	UnitStitch       Unit = "stitch"
)

// StepStatus is the state of one pipeline step.
type StepStatus string

// Step statuses.
const (
	StepRunning   StepStatus = "in_progress"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
)

// StageResult is the outcome of one construction stage.
type StageResult struct {
	Order       int                `json:"order"`
	Name        string             `json:"name"`
	DisplayName string             `json:"display_name"`
	JobID       string             `json:"job_id,omitempty"`
	InputURL    string             `json:"input_url"`
	OutputURL   string             `json:"output_url,omitempty"`
	Status      StepStatus         `json:"status"`
	Error       string             `json:"error,omitempty"`
	ErrorCode   provider.ErrorCode `json:"error_code,omitempty"`
}

// IntermediateResult is an image synthesized between stage After and the
// stage that follows it.
type IntermediateResult struct {
	After     int                `json:"after_stage"`
	JobID     string             `json:"job_id,omitempty"`
	FromURL   string             `json:"from_url"`
	ToURL     string             `json:"to_url"`
	OutputURL string             `json:"output_url,omitempty"`
	Status    StepStatus         `json:"status"`
	Error     string             `json:"error,omitempty"`
	ErrorCode provider.ErrorCode `json:"error_code,omitempty"`
}

// TransitionResult is a video from one image to the next. Index is 1-based
// in sequence order.
type TransitionResult struct {
	Index        int                `json:"index"`
	JobID        string             `json:"job_id,omitempty"`
	FromURL      string             `json:"from_url"`
	ToURL        string             `json:"to_url"`
	VideoURL     string             `json:"video_url,omitempty"`
	ThumbnailURL string             `json:"thumbnail_url,omitempty"`
	Status       StepStatus         `json:"status"`
	Error        string             `json:"error,omitempty"`
	ErrorCode    provider.ErrorCode `json:"error_code,omitempty"`
	// Discarded is set once the file was deleted after stitching.
	Discarded bool `json:"discarded,omitempty"`
}

// Failure names the first unit that failed.
type Failure struct {
	Unit   Unit               `json:"unit"`
	Order  int                `json:"order,omitempty"`
	Name   string             `json:"name,omitempty"`
	Reason string             `json:"reason"`
	Code   provider.ErrorCode `json:"code,omitempty"`
}

// Result describes a pipeline run. Units after a failure are absent.
type Result struct {
	RunID           string               `json:"run_id"`
	Stages          []StageResult        `json:"stages"`
	Intermediates   []IntermediateResult `json:"intermediates,omitempty"`
	Transitions     []TransitionResult   `json:"transitions,omitempty"`
	VideoURL        string               `json:"video_url,omitempty"`
	ThumbnailURL    string               `json:"thumbnail_url,omitempty"`
	DurationSeconds float64              `json:"duration_seconds,omitempty"`
	Failure         *Failure             `json:"failure,omitempty"`
}

// Succeeded returns true if every unit completed.
func (r *Result) Succeeded() bool {
	return r.Failure == nil
}

func (r *Result) stageOutputs() []string {
	out := make([]string, 0, len(r.Stages))
	for _, s := range r.Stages {
		out = append(out, s.OutputURL)
	}
	return out
}
