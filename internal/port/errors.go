package port

import "errors"

// Errors returned by outbound adapters.
var (
	ErrChatRejected        = errors.New("chat api rejected the request")
	ErrWorkflowNotFound    = errors.New("webhook not found: check the workflow is active and the path is correct")
	ErrWorkflowUnreachable = errors.New("bad gateway: tunnel cannot reach the workflow")
)
