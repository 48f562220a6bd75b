package models

// Wire-level error codes. Per-event rejections use these too; only
// CodeIdempotentReplay is a non-failure.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeIdempotentReplay = "IDEMPOTENT_REPLAY"
	CodeProjectNotFound  = "PROJECT_NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// PushRequest is an inbound batch of client mutations.
type PushRequest struct {
	DeviceID string          `json:"deviceId"`
	BatchID  string          `json:"batchId"`
	Events   []MutationEvent `json:"events"`
}

// RejectedEvent reports why a single event in a batch was not applied.
type RejectedEvent struct {
	EventID string `json:"eventId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PushResponse reports the outcome of a push. Partial success is the normal
// case: accepted and rejected events coexist in one response.
type PushResponse struct {
	Replayed        bool            `json:"replayed"`
	Accepted        []string        `json:"accepted"`
	Rejected        []RejectedEvent `json:"rejected"`
	ServerWatermark int64           `json:"serverWatermark"`
}

// PullRequest asks for change-log entries past the caller's checkpoints.
// Checkpoints, when present, override the stored cursor for that scope on
// this call only (a client-driven reset pulls from zero this way).
type PullRequest struct {
	DeviceID    string           `json:"deviceId"`
	Checkpoints map[string]int64 `json:"checkpoints,omitempty"`
	Scopes      []string         `json:"scopes,omitempty"`
	Limit       int              `json:"limit,omitempty"`
}

// ScopeChanges is the pulled slice of the log for one scope.
type ScopeChanges struct {
	Scope   string            `json:"scope"`
	Changes []*ChangeLogEntry `json:"changes"`
}

// PullResponse carries the changes visible to the caller along with the
// checkpoints the server persisted for this device.
type PullResponse struct {
	Scopes          []ScopeChanges   `json:"scopes"`
	NextCheckpoints map[string]int64 `json:"nextCheckpoints"`
}

// NeedListRequest asks which blobs the server does not yet have.
type NeedListRequest struct {
	ContentIDs []string `json:"contentIds"`
}

// NeedListResponse lists the subset of requested blobs still missing
// server-side. Actual transfer happens elsewhere.
type NeedListResponse struct {
	Missing []string `json:"missing"`
}

// ErrorResponse is the generic error envelope for whole-request failures.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Pull paging bounds.
const (
	DefaultPullLimit = 500
	MaxPullLimit     = 1000
)

// MaxBatchEvents caps the number of events in one push batch.
const MaxBatchEvents = 500
