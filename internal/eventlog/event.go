package eventlog

import "time"

// Lifecycle states a task cycles through. Raw states are lowercased and trimmed
// before comparison, so feeds may use any casing.
const (
	StatePending    = "pending"
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateReviewed   = "reviewed"
	StateRework     = "rework"
	StateDelivered  = "delivered"
	// StateApproval is a pseudo-state. A transition approval -> completed is an
	// administrative re-confirmation and never counts as new work.
	StateApproval = "approval"
)

// ReviewOutcome is the verdict a review passed on a completion.
type ReviewOutcome string

const (
	Approved     ReviewOutcome = "approved"
	SentToRework ReviewOutcome = "sent_to_rework"
)

// ReviewKind separates human reviews from automated checks. The two kinds are
// never blended in one average.
type ReviewKind string

const (
	Manual    ReviewKind = "manual"
	Automated ReviewKind = "automated"
)

// DeliveryState of the batch a task was shipped in.
type DeliveryState string

const (
	Delivered DeliveryState = "delivered"
	Queued    DeliveryState = "queued"
)

// TransitionRecord is one raw entry of the append-only status-transition stream.
// Timestamp stays a string until normalization so malformed values can be
// reported instead of failing the whole feed.
type TransitionRecord struct {
	TaskID     string `json:"taskId"`
	ProjectID  string `json:"projectId"`
	BatchID    string `json:"batchId,omitempty"`
	Timestamp  string `json:"ts"`
	FromStatus string `json:"fromStatus,omitempty"`
	ToStatus   string `json:"toStatus"`
	Actor      string `json:"actor"`

	// Seq is the insertion sequence number assigned by the EventStore on first
	// append. It is the tie-break for identical timestamps.
	Seq int64 `json:"seq,omitempty"`
}

// ReviewRecord is one raw entry of the review stream.
type ReviewRecord struct {
	ReviewID    string        `json:"reviewId"`
	TaskID      string        `json:"taskId"`
	ProjectID   string        `json:"projectId"`
	Reviewer    string        `json:"reviewer"`
	Score       float64       `json:"score"`
	Outcome     ReviewOutcome `json:"outcome"`
	Kind        ReviewKind    `json:"kind"`
	SubmittedAt string        `json:"submittedAt"`
}

// DeliveryRecord is one raw entry of the delivery/batch stream.
type DeliveryRecord struct {
	TaskID       string        `json:"taskId"`
	BatchID      string        `json:"batchId"`
	State        DeliveryState `json:"state"`
	DeliveryDate string        `json:"deliveryDate,omitempty"`
}

// Task is the mutable task snapshot, overwritten on each full resync.
type Task struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	State     string `json:"state"`
	Owner     string `json:"owner,omitempty"`
}

// LoggedHours is one entry of the time-tracking feed. ProjectID is optional.
type LoggedHours struct {
	Worker    string  `json:"worker"`
	Date      string  `json:"date"`
	Hours     float64 `json:"hours"`
	ProjectID string  `json:"projectId,omitempty"`
}

// CompletionEvent is a transition into the completed state, tagged with the
// running completion ordinal of its task.
type CompletionEvent struct {
	TaskID     string    `json:"taskId"`
	ProjectID  string    `json:"projectId"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"ts"`
	PriorState string    `json:"priorState"`
	NewState   string    `json:"newState"`
	Ordinal    int       `json:"ordinal"`
	Seq        int64     `json:"seq"`
	// InScope is false for events outside the requested date range. They still
	// anchor ordinals and review joins but earn no credit.
	InScope bool `json:"inScope"`
}

// IsRework reports whether the completion resubmitted an already completed task.
func (e CompletionEvent) IsRework() bool {
	return e.Ordinal > 1
}

// Timeline is the ordered completion history of one task.
type Timeline struct {
	TaskID      string            `json:"taskId"`
	ProjectID   string            `json:"projectId"`
	Completions []CompletionEvent `json:"completions"`
}

// WorkerRecord is one entry of the worker directory feed.
type WorkerRecord struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	Status     string `json:"status,omitempty"`
	TeamLeadID string `json:"teamLeadId,omitempty"`
}
