package worker

import (
	"fmt"

	"github.com/mtzanidakis/sminos/internal/plan"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

// ClaimAssignment claims up to maxTasks items for the task's slot and writes
// the assignment file into its working directory. A nil queue means the run
// carries no itemized plan and no file is written; an empty claim on a
// non-nil queue means the worker has nothing to do.
func ClaimAssignment(queue *plan.ClaimQueue, maxTasks, cycle int, runID string, task swarm.WorkerTask) (path string, items []plan.Item, err error) {
	if queue == nil {
		return "", nil, nil
	}
	if maxTasks <= 0 {
		maxTasks = 5
	}
	items = queue.Claim(task.Index, maxTasks)
	if len(items) == 0 {
		return "", nil, nil
	}
	path, err = plan.WriteAssignment(task.WorkDir, plan.Assignment{
		RunID:  runID,
		Cycle:  cycle,
		Worker: task.Index,
		Items:  items,
	})
	if err != nil {
		return "", nil, fmt.Errorf("write assignment: %w", err)
	}
	return path, items, nil
}
