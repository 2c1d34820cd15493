// Package client is the Go client for the taskwire server: a WebSocket
// session plus an optimistic-update coordinator that applies mutations
// locally before the server confirms them.
package client

import (
	"sort"
	"sync"

	"github.com/taskwire/taskwire/pkg/protocol"
)

// Coordinator owns the client's view of the task list. Mutations are applied
// tentatively against the working copy; exactly one rollback snapshot is
// retained, taken at the moment the optimistic change is staged. A second
// in-flight mutation overwrites the rollback point, so a failure can only
// restore the most recent previously-confirmed state.
type Coordinator struct {
	mu       sync.Mutex
	tasks    map[string]protocol.Task // working (possibly optimistic) view
	rollback map[string]protocol.Task // last confirmed state before the in-flight change
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		tasks:    make(map[string]protocol.Task),
		rollback: make(map[string]protocol.Task),
	}
}

// Snapshot returns the current view sorted by task identifier. Task IDs are
// ULIDs, so this is creation order.
func (c *Coordinator) Snapshot() []protocol.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]protocol.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// Replace installs a confirmed snapshot wholesale, e.g. the initial task list
// fetched over REST. It resets the rollback point to the same state.
func (c *Coordinator) Replace(tasks []protocol.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks = make(map[string]protocol.Task, len(tasks))
	for _, t := range tasks {
		c.tasks[t.ID] = t
	}
	c.rollback = copyTasks(c.tasks)
}

// stage snapshots the working view as the rollback point, then applies fn.
func (c *Coordinator) stage(fn func(map[string]protocol.Task)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollback = copyTasks(c.tasks)
	fn(c.tasks)
}

// OptimisticCreate adds a tentative task and returns its placeholder entry.
// The caller removes it once the server assigns the real identifier.
func (c *Coordinator) OptimisticCreate(task protocol.Task) {
	c.stage(func(tasks map[string]protocol.Task) {
		tasks[task.ID] = task
	})
}

// OptimisticUpdate applies mutate to the task if present.
func (c *Coordinator) OptimisticUpdate(taskID string, mutate func(*protocol.Task)) {
	c.stage(func(tasks map[string]protocol.Task) {
		task, ok := tasks[taskID]
		if !ok {
			return
		}
		mutate(&task)
		tasks[taskID] = task
	})
}

func (c *Coordinator) OptimisticDelete(taskID string) {
	c.stage(func(tasks map[string]protocol.Task) {
		delete(tasks, taskID)
	})
}

// Rollback restores the state captured when the in-flight mutation was
// staged. Called when the server acknowledges a failure.
func (c *Coordinator) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = copyTasks(c.rollback)
}

// Forget drops a placeholder entry without touching the rollback point, used
// to swap a tentative create for the server-assigned record.
func (c *Coordinator) Forget(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskID)
}

// --- authoritative events (acks and broadcast echoes) ---
// These advance the confirmed baseline: both the working view and the
// rollback snapshot absorb them.

func (c *Coordinator) ConfirmUpserted(task protocol.Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks[task.ID] = task
	c.rollback[task.ID] = task
}

func (c *Coordinator) ConfirmDeleted(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskID)
	delete(c.rollback, taskID)
}

func copyTasks(src map[string]protocol.Task) map[string]protocol.Task {
	dst := make(map[string]protocol.Task, len(src))
	for id, t := range src {
		dst[id] = t
	}
	return dst
}
