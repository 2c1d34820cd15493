package client

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/taskwire/taskwire/pkg/protocol"
)

func task(id, title string, status protocol.TaskStatus) protocol.Task {
	return protocol.Task{ID: id, Title: title, Status: status, OwnerID: "alice"}
}

func TestRollbackRestoresConfirmedStateExactly(t *testing.T) {
	c := NewCoordinator()
	s0 := []protocol.Task{
		task("01A", "Buy milk", protocol.StatusPending),
		task("01B", "Walk dog", protocol.StatusCompleted),
	}
	c.Replace(s0)

	// optimistic update to S1
	c.OptimisticUpdate("01A", func(t *protocol.Task) {
		t.Status = protocol.StatusCompleted
	})
	assert.Equal(t, c.Snapshot()[0].Status, protocol.StatusCompleted)

	// server reports failure: state must equal S0 exactly
	c.Rollback()
	assert.Equal(t, c.Snapshot(), s0)
}

func TestSingleRollbackPointIsOverwritten(t *testing.T) {
	c := NewCoordinator()
	c.Replace([]protocol.Task{task("01A", "Buy milk", protocol.StatusPending)})

	// first in-flight mutation
	c.OptimisticUpdate("01A", func(t *protocol.Task) { t.Title = "Buy oat milk" })
	// second in-flight mutation before the first resolves: the rollback
	// point moves to the state at the time of the second action
	c.OptimisticUpdate("01A", func(t *protocol.Task) { t.Status = protocol.StatusInProgress })

	c.Rollback()
	snap := c.Snapshot()
	assert.Equal(t, snap[0].Title, "Buy oat milk")
	assert.Equal(t, snap[0].Status, protocol.StatusPending)
}

func TestConfirmAdvancesBaseline(t *testing.T) {
	c := NewCoordinator()
	c.Replace(nil)

	// broadcast echo lands: it is authoritative
	c.ConfirmUpserted(task("01A", "Pack bags", protocol.StatusPending))

	// a later optimistic change that fails rolls back to include the
	// confirmed task, not the empty initial state
	c.OptimisticDelete("01A")
	assert.Equal(t, len(c.Snapshot()), 0)
	c.Rollback()
	assert.Equal(t, len(c.Snapshot()), 1)
	assert.Equal(t, c.Snapshot()[0].Title, "Pack bags")
}

func TestConfirmDeletedRemovesFromBothViews(t *testing.T) {
	c := NewCoordinator()
	c.Replace([]protocol.Task{task("01A", "Done with this", protocol.StatusCompleted)})

	c.ConfirmDeleted("01A")
	assert.Equal(t, len(c.Snapshot()), 0)

	// rollback after a confirmed delete must not resurrect the task
	c.Rollback()
	assert.Equal(t, len(c.Snapshot()), 0)
}

func TestOptimisticCreatePlaceholderLifecycle(t *testing.T) {
	c := NewCoordinator()
	c.Replace(nil)

	c.OptimisticCreate(task("~pending-1", "New task", protocol.StatusPending))
	assert.Equal(t, len(c.Snapshot()), 1)

	// server assigns the real identifier: swap placeholder for the record
	c.Forget("~pending-1")
	c.ConfirmUpserted(task("01C", "New task", protocol.StatusPending))

	snap := c.Snapshot()
	assert.Equal(t, len(snap), 1)
	assert.Equal(t, snap[0].ID, "01C")
}

func TestReplaceInstallsWholesaleSnapshot(t *testing.T) {
	c := NewCoordinator()
	c.Replace([]protocol.Task{task("01A", "Old", protocol.StatusPending)})
	c.OptimisticUpdate("01A", func(t *protocol.Task) { t.Title = "Tentative" })

	// a fresh confirmed snapshot replaces everything, optimistic edits included
	c.Replace([]protocol.Task{task("01B", "Fresh", protocol.StatusPending)})
	snap := c.Snapshot()
	assert.Equal(t, len(snap), 1)
	assert.Equal(t, snap[0].ID, "01B")

	c.Rollback()
	assert.Equal(t, c.Snapshot()[0].ID, "01B")
}
