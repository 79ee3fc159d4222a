package memory

import (
	"context"
	"testing"
	"time"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/jobs"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()

	job := model.Job{ID: "a", Result: &model.Result{Text: "one", Segments: []model.Segment{{Text: "one"}}}}
	require.NoError(t, store.Add(ctx, job))

	job.Result.Segments[0].Text = "mutated"
	got, ok := store.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "one", got.Result.Segments[0].Text)
}

func TestStoreListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()

	require.NoError(t, store.Add(ctx, model.Job{ID: "late", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, store.Add(ctx, model.Job{ID: "early", CreatedAt: now}))
	require.Error(t, store.Add(ctx, model.Job{ID: "early"}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "early", list[0].ID)

	require.NoError(t, store.Remove(ctx, "early"))
	require.ErrorIs(t, store.Remove(ctx, "early"), jobs.ErrJobNotFound)
}
