package a2a

import (
	"context"
	"testing"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStore(t *testing.T) {
	store := NewTaskStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, sdka2a.ErrTaskNotFound)

	require.NoError(t, store.Save(ctx, &sdka2a.Task{ID: "task-1", ContextID: "ctx-1"}))
	task, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", task.ContextID)
	assert.Equal(t, 1, store.Len())
}
