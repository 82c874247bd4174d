package pipeline

import (
	"cmp"
	"context"
	"slices"

	"github.com/maauso/genstudio-api/internal/job"
)

// GetRun rebuilds a run from the jobs that carry its ID. Stage 1 has no job
// and is recovered from the input of the first generated stage. The stitched
// video is not a job and is not part of the rebuilt result.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*Result, error) {
	jobs, err := o.jobs.List(ctx, job.Filter{RunID: runID})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, ErrRunNotFound
	}
	slices.SortFunc(jobs, func(a, b *job.Job) int {
		if c := cmp.Compare(a.StageOrder, b.StageOrder); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	res := &Result{RunID: runID}
	for _, j := range jobs {
		status, reason := stepStatus(j)
		switch j.StageName {
		case stepIntermediate:
			res.Intermediates = append(res.Intermediates, IntermediateResult{
				After:     j.StageOrder,
				JobID:     j.ID,
				FromURL:   j.InputImageURL,
				ToURL:     lastOf(j.ReferenceImages),
				OutputURL: j.ImageURL,
				Status:    status,
				Error:     reason,
				ErrorCode: j.ErrorCode,
			})
		case stepTransition:
			res.Transitions = append(res.Transitions, TransitionResult{
				Index:        j.StageOrder,
				JobID:        j.ID,
				FromURL:      j.InputImageURL,
				ToURL:        j.EndFrameURL,
				VideoURL:     j.VideoURL,
				ThumbnailURL: j.ThumbnailURL,
				Status:       status,
				Error:        reason,
				ErrorCode:    j.ErrorCode,
				Discarded:    j.Status == job.StatusCompleted && j.Outputs.IsEmpty(),
			})
		default:
			st := o.stageByOrder(j.StageOrder)
			res.Stages = append(res.Stages, StageResult{
				Order:       j.StageOrder,
				Name:        j.StageName,
				DisplayName: st.DisplayName,
				JobID:       j.ID,
				InputURL:    j.InputImageURL,
				OutputURL:   j.ImageURL,
				Status:      status,
				Error:       reason,
				ErrorCode:   j.ErrorCode,
			})
		}
	}

	if len(res.Stages) > 0 && len(o.stages) > 0 {
		if first := o.stages[0]; first.Passthrough() && res.Stages[0].Order > first.Order {
			ref := res.Stages[0].InputURL
			res.Stages = append([]StageResult{{
				Order:       first.Order,
				Name:        first.Name,
				DisplayName: first.DisplayName,
				InputURL:    ref,
				OutputURL:   ref,
				Status:      StepSucceeded,
			}}, res.Stages...)
		}
	}

	res.Failure = firstFailure(res)
	return res, nil
}

func stepStatus(j *job.Job) (StepStatus, string) {
	switch j.Status {
	case job.StatusCompleted:
		return StepSucceeded, ""
	case job.StatusFailed:
		return StepFailed, j.ErrorMessage
	default:
		return StepRunning, ""
	}
}

func firstFailure(res *Result) *Failure {
	for _, s := range res.Stages {
		if s.Status == StepFailed {
			return &Failure{Unit: UnitStage, Order: s.Order, Name: s.Name, Reason: s.Error, Code: s.ErrorCode}
		}
	}
	for _, ir := range res.Intermediates {
		if ir.Status == StepFailed {
			return &Failure{Unit: UnitIntermediate, Order: ir.After, Name: stepIntermediate, Reason: ir.Error, Code: ir.ErrorCode}
		}
	}
	for _, tr := range res.Transitions {
		if tr.Status == StepFailed {
			return &Failure{Unit: UnitTransition, Order: tr.Index, Name: stepTransition, Reason: tr.Error, Code: tr.ErrorCode}
		}
	}
	return nil
}

func lastOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}
