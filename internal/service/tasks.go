// Package service wires archive download, parsing and the log store into
// background ingestion tasks and stream queries.
package service

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the state of an ingestion task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending: {TaskStatusRunning, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusFailed},
}

func (s TaskStatus) canMoveTo(next TaskStatus) bool {
	return slices.Contains(transitions[s], next)
}

// Stages a running task moves through.
const (
	StageDownload = "download"
	StageExtract  = "extract"
	StagePush     = "push"
)

// Progress counts work done by a running task. It never affects status.
type Progress struct {
	Stage           string `json:"stage,omitempty"`
	FilesTotal      int    `json:"files_total"`
	FilesDone       int    `json:"files_done"`
	RecordsIngested int    `json:"records_ingested"`
	Warnings        int    `json:"warnings"`
	BatchesPushed   int    `json:"batches_pushed"`
	CacheHit        bool   `json:"cache_hit"`
}

// Task is one ingestion request. Values returned by the registry are
// snapshots; mutate through the registry.
type Task struct {
	ID          string     `json:"task_id"`
	RunID       string     `json:"run_id"`
	DownloadURL string     `json:"download_url"`
	Status      TaskStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Progress    Progress   `json:"progress"`
}

// task is the registry-owned record.
type task struct {
	mu   sync.RWMutex
	data Task
}

func (t *task) snapshot() Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.data
}

// TaskRegistry tracks ingestion tasks in memory.
type TaskRegistry struct {
	mu     sync.RWMutex
	tasks  map[string]*task
	active map[string]string // run id -> task id of its pending/running task
	now    func() time.Time
	logger *slog.Logger
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry(logger *slog.Logger) *TaskRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskRegistry{
		tasks:  make(map[string]*task),
		active: make(map[string]string),
		now:    time.Now,
		logger: logger,
	}
}

// Create allocates a pending task for runID. It fails with
// ErrDuplicateActiveTask while another task for the run is not terminal.
func (r *TaskRegistry) Create(runID, downloadURL string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[runID]; ok {
		return Task{}, fmt.Errorf("%w: run %s has task %s", ErrDuplicateActiveTask, runID, id)
	}

	now := r.now().UTC()
	t := &task{data: Task{
		ID:          uuid.NewString(),
		RunID:       runID,
		DownloadURL: downloadURL,
		Status:      TaskStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	r.tasks[t.data.ID] = t
	r.active[runID] = t.data.ID

	r.logger.Info("task created", "task_id", t.data.ID, "run_id", runID)
	return t.data, nil
}

// Get returns a snapshot of the task.
func (r *TaskRegistry) Get(id string) (Task, error) {
	t, err := r.lookup(id)
	if err != nil {
		return Task{}, err
	}
	return t.snapshot(), nil
}

func (r *TaskRegistry) lookup(id string) (*task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

// SetRunning moves a pending task to running.
func (r *TaskRegistry) SetRunning(id string) error {
	return r.transition(id, TaskStatusRunning, "")
}

// Complete moves a running task to completed.
func (r *TaskRegistry) Complete(id string) error {
	return r.transition(id, TaskStatusCompleted, "")
}

// Fail moves a pending or running task to failed, recording cause.
func (r *TaskRegistry) Fail(id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return r.transition(id, TaskStatusFailed, msg)
}

func (r *TaskRegistry) transition(id string, next TaskStatus, errMsg string) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	cur := t.data.Status
	if !cur.canMoveTo(next) {
		t.mu.Unlock()
		return fmt.Errorf("%w: task %s %s -> %s", ErrInvalidTransition, id, cur, next)
	}
	t.data.Status = next
	t.data.UpdatedAt = r.now().UTC()
	if errMsg != "" {
		t.data.Error = errMsg
	}
	runID := t.data.RunID
	t.mu.Unlock()

	if next.Terminal() {
		r.mu.Lock()
		if r.active[runID] == id {
			delete(r.active, runID)
		}
		r.mu.Unlock()
	}

	switch next {
	case TaskStatusFailed:
		r.logger.Error("task failed", "task_id", id, "run_id", runID, "error", errMsg)
	case TaskStatusCompleted:
		r.logger.Info("task completed", "task_id", id, "run_id", runID)
	default:
		r.logger.Debug("task status changed", "task_id", id, "run_id", runID, "status", next)
	}
	return nil
}

// UpdateProgress applies fn to the counters of a running task.
func (r *TaskRegistry) UpdateProgress(id string, fn func(*Progress)) error {
	t, err := r.lookup(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.data.Status != TaskStatusRunning {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, id, t.data.Status)
	}
	fn(&t.data.Progress)
	t.data.UpdatedAt = r.now().UTC()
	return nil
}

// List returns all tasks, most recent first.
func (r *TaskRegistry) List() []Task {
	r.mu.RLock()
	tasks := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(tasks, func(a, b Task) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return tasks
}

// ActiveFor returns the pending or running task for runID, if any.
func (r *TaskRegistry) ActiveFor(runID string) (Task, bool) {
	r.mu.RLock()
	id, ok := r.active[runID]
	t := r.tasks[id]
	r.mu.RUnlock()
	if !ok || t == nil {
		return Task{}, false
	}
	return t.snapshot(), true
}

// Prune drops terminal tasks last updated before cutoff and returns how many
// were removed.
func (r *TaskRegistry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		s := t.snapshot()
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) {
			delete(r.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Debug("pruned tasks", "count", removed)
	}
	return removed
}
