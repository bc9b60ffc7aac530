package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the aggregate status of a batch, derived from its items.
type JobStatus string

const (
	JobQueued        JobStatus = "queued"
	JobRunning       JobStatus = "running"
	JobCompleted     JobStatus = "completed"
	JobPartialFailed JobStatus = "partial_failed"
	JobFailed        JobStatus = "failed"
)

// ItemStatus is the lifecycle state of a single unit of generation work.
type ItemStatus string

const (
	ItemAwaitingApproval ItemStatus = "awaiting_approval"
	ItemQueued           ItemStatus = "queued"
	ItemProcessing       ItemStatus = "processing"
	ItemAwaitingRemote   ItemStatus = "awaiting_remote"
	ItemCompleted        ItemStatus = "completed"
	ItemFailed           ItemStatus = "failed"
	ItemSkipped          ItemStatus = "skipped"
)

// Mode selects how an item is produced: A is a plan/editpack, B a generated video.
type Mode string

const (
	ModeA Mode = "A"
	ModeB Mode = "B"
)

// WorkflowMode decides whether new items wait for a human before dispatch.
type WorkflowMode string

const (
	WorkflowAutonomous WorkflowMode = "autonomous"
	WorkflowApproval   WorkflowMode = "approval"
)

// ApprovalStatus tracks the manual gate for an item.
type ApprovalStatus string

const (
	ApprovalNotRequired ApprovalStatus = "not_required"
	ApprovalPending     ApprovalStatus = "pending"
	ApprovalApproved    ApprovalStatus = "approved"
	ApprovalRejected    ApprovalStatus = "rejected"
)

// OutputType names the kind of artifact stored for an item.
type OutputType string

const (
	OutputEditPack  OutputType = "A_EDITPACK"
	OutputVoiceover OutputType = "A_VOICEOVER_MP3"
	OutputRenderedA OutputType = "A_MP4"
	OutputVideo     OutputType = "B_MP4"
)

// Job describes one batch request.
type Job struct {
	ID             string
	Status         JobStatus
	RequestedCount int
	ACount         int
	BCount         int
	WorkflowMode   WorkflowMode
	VoiceProfileID *string
	Settings       map[string]any // generation settings snapshot
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Item is one unit of generation work belonging to a Job.
type Item struct {
	ID               string
	JobID            string
	Mode             Mode
	Status           ItemStatus
	Concept          Concept
	RemoteTaskID     *string // provider-qualified, set once the item awaits a remote task
	ApprovalStatus   ApprovalStatus
	ApprovalNote     *string
	QualityScore     *float64
	Quality          map[string]any
	EstimatedCostUSD *float64
	Error            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Output is a stored artifact produced for an Item. Outputs are append-only.
type Output struct {
	ID        string
	ItemID    string
	Type      OutputType
	URL       string
	Meta      map[string]any
	CreatedAt time.Time
}

// JobDetails is the read model for a job with its items and outputs.
type JobDetails struct {
	Job     *Job
	Items   []*Item
	Outputs []*Output
}

// OutputsByType groups output URLs by artifact type, preserving creation order.
func (d *JobDetails) OutputsByType() map[OutputType][]string {
	out := map[OutputType][]string{
		OutputEditPack:  {},
		OutputVoiceover: {},
		OutputRenderedA: {},
		OutputVideo:     {},
	}
	for _, o := range d.Outputs {
		out[o.Type] = append(out[o.Type], o.URL)
	}
	return out
}

// VoiceProfile references an external narration voice.
type VoiceProfile struct {
	ID              string
	Name            string
	Provider        string
	ExternalVoiceID string
	IsDefault       bool
	Settings        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// VoiceProfileUpdate carries optional fields for a partial profile update.
type VoiceProfileUpdate struct {
	Name            *string
	ExternalVoiceID *string
	IsDefault       *bool
	Settings        map[string]any
}

// PublishEntry records a social post scheduled for an Output.
type PublishEntry struct {
	ID             string
	OutputID       string
	Channel        string
	ScheduledFor   time.Time
	Status         string
	ExternalPostID *string
	Payload        map[string]any
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrRemoteTaskConflict is returned when an item already carries a different remote task.
var ErrRemoteTaskConflict = errors.New("remote task already set")

// ErrNotPending is returned when an approval decision targets an item that is no
// longer awaiting one.
var ErrNotPending = errors.New("item is not pending approval")

// ValidationError rejects input before any state is written.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Store defines persistence for jobs, items, outputs and the named dispatch lock.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	CreateJobItem(ctx context.Context, item *Item) error
	CreateBatch(ctx context.Context, job *Job, items []*Item) error

	// ClaimJobItems returns up to limit items in queued or awaiting_remote, oldest first,
	// moving queued rows to processing in the same atomic step.
	ClaimJobItems(ctx context.Context, limit int) ([]*Item, error)
	SetJobItemStatus(ctx context.Context, id string, status ItemStatus, errMsg *string) error
	SetJobItemRemoteTask(ctx context.Context, id string, taskID string) error
	// SetJobItemApproval applies a decision only to an item still awaiting approval
	// with a pending decision; any other item yields ErrNotPending.
	SetJobItemApproval(ctx context.Context, id string, approval ApprovalStatus, status ItemStatus, note *string) error
	InsertOutput(ctx context.Context, out *Output) error
	RefreshJobStatus(ctx context.Context, jobID string) (JobStatus, error)

	TryAcquireLock(ctx context.Context, name string) (bool, error)
	ReleaseLock(ctx context.Context, name string) error

	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobItem(ctx context.Context, id string) (*Item, error)
	GetJobDetails(ctx context.Context, id string) (*JobDetails, error)
	GetOutput(ctx context.Context, id string) (*Output, error)

	CreateVoiceProfile(ctx context.Context, p *VoiceProfile) error
	UpdateVoiceProfile(ctx context.Context, id string, upd VoiceProfileUpdate) error
	GetVoiceProfile(ctx context.Context, id string) (*VoiceProfile, error)
	GetDefaultVoiceProfile(ctx context.Context) (*VoiceProfile, error)
	ListVoiceProfiles(ctx context.Context) ([]*VoiceProfile, error)

	CreatePublishEntry(ctx context.Context, e *PublishEntry) error
	GetPublishEntry(ctx context.Context, id string) (*PublishEntry, error)
	UpdatePublishStatus(ctx context.Context, id string, status string, errMsg *string) error

	Close() error
}
