package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
}

func (s stubAdapter) Name() string { return s.name }

func (s stubAdapter) Submit(context.Context, Request) (SubmitResult, error) {
	return SubmitResult{Handle: s.name + "-handle"}, nil
}

func (s stubAdapter) Poll(context.Context, string) (PollResult, error) {
	return PollResult{State: StatePending}, nil
}

func (s stubAdapter) ExtractArtifactRef([]byte) (string, bool) { return "", false }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, name := range []string{NameKling, NameVeo, NameImagen, NameGemini} {
		require.NoError(t, r.Register(stubAdapter{name: name}))
	}
	return r
}

func TestRegistry_ResolveExactMatches(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Resolve("kling-v2-6")
	require.NoError(t, err)
	assert.Equal(t, NameKling, e.Adapter.Name())

	e, err = r.Resolve("Kling 2.6")
	require.NoError(t, err)
	assert.Equal(t, "kling-v2-6", e.Spec.ID)

	e, err = r.Resolve("nano banana")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash-image", e.Spec.ID)
}

func TestRegistry_ResolveRejectsPartialNames(t *testing.T) {
	r := newTestRegistry(t)

	for _, name := range []string{"kling", "Kling 2", "veo-3", "imagen", "2.6", ""} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(name)
			assert.ErrorIs(t, err, ErrUnknownModel)
		})
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(stubAdapter{name: NameKling})
	assert.ErrorIs(t, err, ErrDuplicateModel)
}

func TestRegistry_Adapter(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Adapter(NameVeo)
	require.NoError(t, err)
	assert.Equal(t, NameVeo, a.Name())

	_, err = r.Adapter("runway")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_ModelsSorted(t *testing.T) {
	r := newTestRegistry(t)
	models := r.Models()
	require.Len(t, models, len(Catalogue))
	assert.Equal(t, NameGemini, models[0].Provider)
	assert.Equal(t, NameVeo, models[len(models)-1].Provider)
}

func TestRegistry_DefaultFor(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.DefaultFor(KindTextToVideo, NameVeo)
	require.NoError(t, err)
	assert.Equal(t, "veo-3.1-generate-preview", e.Spec.ID)

	e, err = r.DefaultFor(KindImageToImage, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash-image", e.Spec.ID)

	empty := NewRegistry()
	_, err = empty.DefaultFor(KindTextToVideo, "")
	assert.ErrorIs(t, err, ErrUnknownModel)
}
