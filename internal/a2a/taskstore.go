package a2a

import (
	"context"
	"sync"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
)

// TaskStore keeps A2A tasks in memory for the lifetime of the server.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[sdka2a.TaskID]*sdka2a.Task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[sdka2a.TaskID]*sdka2a.Task)}
}

func (s *TaskStore) Save(ctx context.Context, task *sdka2a.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *TaskStore) Get(ctx context.Context, taskID sdka2a.TaskID) (*sdka2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, sdka2a.ErrTaskNotFound
	}
	return task, nil
}

func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}
