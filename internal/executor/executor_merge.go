package executor

import (
	"context"
	"log"

	"github.com/ralph-tui/ralph-tui/pkg/models"
)

// resolveOrAbandon invokes the conflict resolver for a conflicted
// MergeOperation and applies or rolls back its result (spec.md §4.8). If
// no resolver is configured, or resolution fails outright, the operation
// is abandoned: the session branch resets to its backup tag and the
// task is reported as failed for this session, matching spec.md §7
// ("a rolled-back conflicted operation leaves the session branch at the
// backup tag — the user can inspect, manually resolve, and rerun").
func (e *Executor) resolveOrAbandon(ctx context.Context, op *models.MergeOperation, merged, failed *[]string, errs *[]GroupError) {
	taskID := op.WorkerResult.Task.ID

	results, err := e.mergeEng.Resolve(ctx, op)
	if err != nil {
		if abortErr := e.mergeEng.Abandon(ctx, op); abortErr != nil {
			log.Printf("executor: abandoning conflicted merge for %s: %v", taskID, abortErr)
		}
		*failed = append(*failed, taskID)
		*errs = append(*errs, GroupError{TaskID: taskID, Error: err})
		return
	}

	if err := e.mergeEng.ApplyResolution(ctx, op, results, e.cwd); err != nil {
		*failed = append(*failed, taskID)
		*errs = append(*errs, GroupError{TaskID: taskID, Error: err})
		return
	}

	if _, err := e.tracker.CompleteTask(ctx, taskID); err != nil {
		log.Printf("executor: completeTask(%s) failed after conflict resolution: %v", taskID, err)
	}
	*merged = append(*merged, taskID)
}
