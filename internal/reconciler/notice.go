package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/maauso/genstudio-api/internal/job"
	"github.com/maauso/genstudio-api/internal/provider"
)

// ErrUnknownHandle is returned when a notice names a handle no job carries.
var ErrUnknownHandle = errors.New("reconciler: unknown job handle")

// Notice results recorded in metrics.
const (
	noticeApplied   = "applied"
	noticeDuplicate = "duplicate"
	noticePending   = "pending"
	noticeUnknown   = "unknown_handle"
)

// ParseState maps a provider status word onto a poll state. Anything that
// is not clearly finished is pending.
func ParseState(s string) provider.State {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "completed", "complete", "done", "succeed":
		return provider.StateSucceeded
	case "failed", "failure", "error", "errored", "cancelled", "canceled":
		return provider.StateFailed
	default:
		return provider.StatePending
	}
}

// HandleNotice applies a provider-pushed completion signal. It returns as soon
// as the terminal transition is recorded; materialization continues on the
// supervisor. A notice for a job that is already terminal changes nothing.
func (r *Reconciler) HandleNotice(ctx context.Context, providerName string, n provider.Notice) (*job.Job, error) {
	j, err := r.repo.FindByHandle(ctx, n.Handle)
	if errors.Is(err, job.ErrJobNotFound) || (err == nil && providerName != "" && j.Provider != providerName) {
		r.metrics.RecordNotice(ctx, providerName, noticeUnknown)
		return nil, ErrUnknownHandle
	}
	if err != nil {
		return nil, err
	}

	if j.IsTerminal() {
		r.metrics.RecordNotice(ctx, providerName, noticeDuplicate)
		r.logger.Debug("notice for terminal job ignored", slog.String("job_id", j.ID), slog.String("status", string(j.Status)))
		return j, nil
	}

	switch {
	case n.State == provider.StatePending:
		r.metrics.RecordNotice(ctx, providerName, noticePending)
		return j, nil
	case n.State == provider.StateSucceeded && n.Artifacts.IsEmpty():
		// Success without references: fetch them the same way a sweep would.
		r.metrics.RecordNotice(ctx, providerName, noticeApplied)
		r.pollLater(j.ID)
		return j, nil
	}

	if err := r.apply(ctx, j, n.State, n.Artifacts, n.Reason, "", SourceWebhook, true); err != nil {
		return nil, err
	}
	r.metrics.RecordNotice(ctx, providerName, noticeApplied)
	return r.repo.FindByID(ctx, j.ID)
}

func (r *Reconciler) pollLater(id string) {
	poll := func(ctx context.Context) error {
		_, err := r.PollJob(ctx, id, SourceWebhook)
		return err
	}
	if r.tasks != nil && r.tasks.Go("poll-after-notice", id, poll) == nil {
		return
	}
	if err := poll(context.Background()); err != nil {
		r.logger.Error("poll after notice failed", slog.String("job_id", id), slog.String("error", err.Error()))
	}
}
