package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/maauso/genstudio-api/internal/provider"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newGormTestRepo creates a fresh in-memory SQLite repository for each test.
// A single connection keeps every query on the same in-memory database.
func newGormTestRepo(t *testing.T) Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	r := NewGormRepository(db)
	require.NoError(t, r.Migrate(context.Background()), "migrate schema")
	return r
}

func newMemoryTestRepo(t *testing.T) Repository {
	t.Helper()
	return NewMemoryRepository()
}

var repoFactories = map[string]func(t *testing.T) Repository{
	"memory": newMemoryTestRepo,
	"gorm":   newGormTestRepo,
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, factory := range repoFactories {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newVideoJob(createdAt time.Time) *Job {
	return New(provider.NameKling, provider.Request{
		Kind:   provider.KindTextToVideo,
		Model:  "kling-v2-6",
		Prompt: "a fox in the snow",
		Params: provider.Params{Duration: "5s", AspectRatio: "16:9"},
	}, createdAt)
}

func TestRepository_CreateAndFind(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		j.ReferenceImages = []string{"https://cdn/ref.png"}
		require.NoError(t, repo.Create(ctx, j))

		got, err := repo.FindByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, j.ID, got.ID)
		assert.Equal(t, StatusInProgress, got.Status)
		assert.Equal(t, provider.KindTextToVideo, got.Kind)
		assert.Equal(t, "5s", got.Params.Duration)
		assert.Equal(t, []string{"https://cdn/ref.png"}, got.ReferenceImages)
		assert.Nil(t, got.ProviderJobHandle)

		_, err = repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestRepository_SetHandleAndFindByHandle(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		require.NoError(t, repo.SetHandle(ctx, j.ID, "text2video:task-1", t0.Add(time.Second)))

		got, err := repo.FindByHandle(ctx, "text2video:task-1")
		require.NoError(t, err)
		assert.Equal(t, j.ID, got.ID)

		_, err = repo.FindByHandle(ctx, "text2video:other")
		assert.ErrorIs(t, err, ErrJobNotFound)
		_, err = repo.FindByHandle(ctx, "")
		assert.ErrorIs(t, err, ErrJobNotFound)

		assert.ErrorIs(t, repo.SetHandle(ctx, "missing", "h", t0), ErrJobNotFound)

		_, err = repo.Transition(ctx, j.ID, StatusFailed, Update{ErrorCode: provider.CodeTimeout}, t0)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.SetHandle(ctx, j.ID, "late", t0), ErrAlreadyTerminal)
	})
}

func TestRepository_TransitionIsFirstWriterWins(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		done := t0.Add(time.Minute)
		applied, err := repo.Transition(ctx, j.ID, StatusCompleted, Update{
			Outputs: Outputs{VideoURL: "https://cdn/a.mp4", ThumbnailURL: "https://cdn/a.jpg"},
		}, done)
		require.NoError(t, err)
		assert.True(t, applied)

		// A replayed or competing signal has no second effect.
		applied, err = repo.Transition(ctx, j.ID, StatusFailed, Update{ErrorCode: provider.CodePollingError, ErrorMessage: "late"}, done.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, applied)

		applied, err = repo.Transition(ctx, j.ID, StatusInProgress, Update{}, done.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, applied, "terminal states are sticky")

		got, err := repo.FindByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "https://cdn/a.mp4", got.VideoURL)
		assert.Equal(t, "https://cdn/a.jpg", got.ThumbnailURL)
		assert.Empty(t, got.ErrorCode)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(done))
	})
}

func TestRepository_TransitionErrors(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		_, err := repo.Transition(ctx, "missing", StatusCompleted, Update{}, t0)
		assert.ErrorIs(t, err, ErrJobNotFound)

		_, err = repo.Transition(ctx, "missing", Status("cancelled"), Update{}, t0)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestRepository_ConcurrentTransitionsApplyOnce(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				to, u := StatusCompleted, Update{Outputs: Outputs{VideoURL: "https://cdn/winner.mp4"}}
				if i%2 == 1 {
					to, u = StatusFailed, Update{ErrorCode: provider.CodeGenerationFailed}
				}
				applied, err := repo.Transition(ctx, j.ID, to, u, t0)
				assert.NoError(t, err)
				if applied {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		got, err := repo.FindByID(ctx, j.ID)
		require.NoError(t, err)
		if got.Status == StatusCompleted {
			assert.Empty(t, got.ErrorCode)
		} else {
			assert.Empty(t, got.VideoURL)
		}
	})
}

func TestRepository_ReplaceOutputsCompareAndSet(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		transient := Outputs{VideoURL: "https://provider/tmp.mp4", ThumbnailURL: "https://provider/tmp.mp4"}
		durable := Outputs{VideoURL: "https://store/v.mp4", ThumbnailURL: "https://store/v.jpg"}

		applied, err := repo.ReplaceOutputs(ctx, j.ID, transient, durable, t0)
		require.NoError(t, err)
		assert.False(t, applied, "in-progress jobs have nothing to replace")

		_, err = repo.Transition(ctx, j.ID, StatusCompleted, Update{Outputs: transient}, t0)
		require.NoError(t, err)

		applied, err = repo.ReplaceOutputs(ctx, j.ID, transient, durable, t0)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = repo.ReplaceOutputs(ctx, j.ID, transient, Outputs{VideoURL: "https://store/other.mp4"}, t0)
		require.NoError(t, err)
		assert.False(t, applied, "stale expectation must not overwrite")

		got, err := repo.FindByID(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, durable, got.Outputs)

		_, err = repo.ReplaceOutputs(ctx, "missing", transient, durable, t0)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestRepository_PollFailures(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		n, err := repo.RecordPollFailure(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = repo.RecordPollFailure(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		require.NoError(t, repo.ResetPollFailures(ctx, j.ID))
		n, err = repo.RecordPollFailure(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = repo.RecordPollFailure(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestRepository_ListPollableOldestFirst(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		var ids []string
		for i := 0; i < 4; i++ {
			j := newVideoJob(t0.Add(time.Duration(3-i) * time.Minute))
			require.NoError(t, repo.Create(ctx, j))
			ids = append(ids, j.ID)
		}
		// ids[3] is oldest; ids[1] has no handle; ids[2] is terminal.
		require.NoError(t, repo.SetHandle(ctx, ids[0], "h0", t0))
		require.NoError(t, repo.SetHandle(ctx, ids[2], "h2", t0))
		require.NoError(t, repo.SetHandle(ctx, ids[3], "h3", t0))
		_, err := repo.Transition(ctx, ids[2], StatusFailed, Update{}, t0)
		require.NoError(t, err)

		jobs, err := repo.ListPollable(ctx, 10)
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, ids[3], jobs[0].ID)
		assert.Equal(t, ids[0], jobs[1].ID)

		jobs, err = repo.ListPollable(ctx, 1)
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, ids[3], jobs[0].ID)
	})
}

func TestRepository_ListStale(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		old := newVideoJob(t0)
		fresh := newVideoJob(t0.Add(40 * time.Minute))
		require.NoError(t, repo.Create(ctx, old))
		require.NoError(t, repo.Create(ctx, fresh))

		jobs, err := repo.ListStale(ctx, t0.Add(10*time.Minute))
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, old.ID, jobs[0].ID)
	})
}

func TestRepository_CountInProgressIncludesHandleless(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		withHandle := newVideoJob(t0)
		handleless := newVideoJob(t0.Add(time.Minute))
		done := newVideoJob(t0.Add(2 * time.Minute))
		for _, j := range []*Job{withHandle, handleless, done} {
			require.NoError(t, repo.Create(ctx, j))
		}
		require.NoError(t, repo.SetHandle(ctx, withHandle.ID, "h1", t0))
		_, err := repo.Transition(ctx, done.ID, StatusCompleted, Update{}, t0)
		require.NoError(t, err)

		n, err := repo.CountInProgress(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestRepository_ListFilters(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		run := "run-1"

		a := newVideoJob(t0)
		b := New(provider.NameGemini, provider.Request{Kind: provider.KindImageToImage, Prompt: "x"}, t0.Add(time.Minute))
		b.RunID = &run
		b.StageOrder = 2
		c := newVideoJob(t0.Add(2 * time.Minute))
		for _, j := range []*Job{a, b, c} {
			require.NoError(t, repo.Create(ctx, j))
		}
		_, err := repo.Transition(ctx, c.ID, StatusCompleted, Update{}, t0)
		require.NoError(t, err)

		all, err := repo.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, c.ID, all[0].ID, "newest first")

		videos, err := repo.List(ctx, Filter{Kind: provider.KindTextToVideo, Status: StatusInProgress})
		require.NoError(t, err)
		require.Len(t, videos, 1)
		assert.Equal(t, a.ID, videos[0].ID)

		stages, err := repo.List(ctx, Filter{RunID: run})
		require.NoError(t, err)
		require.Len(t, stages, 1)
		assert.Equal(t, 2, stages[0].StageOrder)

		limited, err := repo.List(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestRepository_Delete(t *testing.T) {
	forEachRepo(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		j := newVideoJob(t0)
		require.NoError(t, repo.Create(ctx, j))

		require.NoError(t, repo.Delete(ctx, j.ID))
		_, err := repo.FindByID(ctx, j.ID)
		assert.ErrorIs(t, err, ErrJobNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, j.ID), ErrJobNotFound)
	})
}
