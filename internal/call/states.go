// Package call owns the call session lifecycle: device acquisition, transport
// start/stop, incremental recording, and completion polling.
package call

// State is one step of the call lifecycle. Transitions only move forward;
// retry after a failure starts a fresh attempt rather than resuming.
type State string

const (
	StateIdle                  State = "idle"
	StateRequestingPermissions State = "requesting_permissions"
	StateReady                 State = "ready"
	StateConnecting            State = "connecting"
	StateActive                State = "active"
	StateEnding                State = "ending"
	StateAwaitingProcessing    State = "awaiting_processing"
	StateComplete              State = "complete"
	StateFailed                State = "failed"
)

// FailureReason classifies a failed attempt for the single user-facing
// notification; raw errors stay in the logs.
type FailureReason string

const (
	ReasonPermissionDenied  FailureReason = "permission_denied"
	ReasonConnectionTimeout FailureReason = "connection_timeout"
	ReasonTransportError    FailureReason = "transport_error"
	ReasonFinalUploadError  FailureReason = "final_upload_error"
	// ReasonStalledProcessing is declared for completeness: the poller has no
	// hard timeout today, so nothing emits it automatically.
	ReasonStalledProcessing FailureReason = "stalled_processing"
)
