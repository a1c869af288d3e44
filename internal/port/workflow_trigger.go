package port

import "context"

type SyncResult struct {
	Message string
	Added   int
}

type WorkflowTrigger interface {
	// Trigger asks the external workflow to pull new orders and push them back to us
	Trigger(ctx context.Context) (SyncResult, error)
}
