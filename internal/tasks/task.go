package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "virtgate/internal/errors"
	"virtgate/internal/model"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// Task tracks one background operation. Target is the URI of the resource
// the task produces.
type Task struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	requestID string
}

// Info returns the model attributes of the task
func (t *Task) Info() model.Info {
	return model.Info{
		"id":      t.ID,
		"status":  string(t.Status),
		"message": t.Message,
		"target":  t.Target,
	}
}

// Done reports whether the task reached a final state
func (t *Task) Done() bool {
	return t.Status == StatusFinished || t.Status == StatusFailed
}

// Store persists tasks
type Store interface {
	Create(task *Task) error
	Get(id string) (*Task, error)
	Update(task *Task) error
	List(filter Filter) ([]*Task, error)
}

// Filter selects tasks; zero fields match everything
type Filter struct {
	Status Status
	Target string
}

// MemoryStore is an in-memory Store. It hands out copies so callers never
// share a task with the queue.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task)}
}

// Create stores a new task
func (s *MemoryStore) Create(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	t := *task
	s.tasks[task.ID] = &t
	return nil
}

// Get returns a copy of the task with id
func (s *MemoryStore) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[id]
	if !exists {
		return nil, apperrors.NewNotFoundError("task " + id)
	}
	t := *task
	return &t, nil
}

// Update replaces a stored task
func (s *MemoryStore) Update(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; !exists {
		return apperrors.NewNotFoundError("task " + task.ID)
	}
	t := *task
	s.tasks[task.ID] = &t
	return nil
}

// List returns the matching tasks oldest first
func (s *MemoryStore) List(filter Filter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Target != "" && task.Target != filter.Target {
			continue
		}
		t := *task
		result = append(result, &t)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
