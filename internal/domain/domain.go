package domain

import "time"

// Step identifies a stage of the inspection workflow.
type Step string

const (
	StepPropertySelection   Step = "property_selection"
	StepChecklistGeneration Step = "checklist_generation"
	StepPhotoCapture        Step = "photo_capture"
	StepVideoWalkthrough    Step = "video_walkthrough"
	StepOfflineSync         Step = "offline_sync"
	StepComplete            Step = "complete"
)

// Steps lists the workflow in order.
var Steps = []Step{
	StepPropertySelection,
	StepChecklistGeneration,
	StepPhotoCapture,
	StepVideoWalkthrough,
	StepOfflineSync,
	StepComplete,
}

type EvidenceType string

const (
	EvidencePhoto EvidenceType = "photo"
	EvidenceVideo EvidenceType = "video"
	EvidenceNone  EvidenceType = "none"
)

func (e EvidenceType) Valid() bool {
	switch e {
	case EvidencePhoto, EvidenceVideo, EvidenceNone:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemPending       ItemStatus = "pending"
	ItemInProgress    ItemStatus = "in_progress"
	ItemCompleted     ItemStatus = "completed"
	ItemFailed        ItemStatus = "failed"
	ItemNotApplicable ItemStatus = "not_applicable"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemPending, ItemInProgress, ItemCompleted, ItemFailed, ItemNotApplicable:
		return true
	}
	return false
}

// Settled reports whether the item no longer blocks the workflow.
func (s ItemStatus) Settled() bool {
	return s == ItemCompleted || s == ItemNotApplicable
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaPhoto || k == MediaVideo
}

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

type TargetKind string

const (
	TargetChecklistItem TargetKind = "checklist_item"
	TargetMediaItem     TargetKind = "media_item"
)

type WorkflowState struct {
	SessionID           string  `json:"session_id"`
	CurrentStepIndex    int     `json:"current_step_index"`
	TotalSteps          int     `json:"total_steps"`
	CurrentStep         Step    `json:"current_step" enum:"property_selection,checklist_generation,photo_capture,video_walkthrough,offline_sync,complete"`
	SelectedPropertyRef string  `json:"selected_property_ref,omitempty"`
	InspectorID         string  `json:"inspector_id,omitempty"`
	InspectionID        *string `json:"inspection_id,omitempty"`
	VideoSkipped        bool    `json:"video_skipped"`
	IsComplete          bool    `json:"is_complete"`
}

type ChecklistItem struct {
	ID                   string         `json:"id" yaml:"id"`
	Title                string         `json:"title,omitempty" yaml:"title"`
	Category             string         `json:"category,omitempty" yaml:"category"`
	RequiredEvidenceType EvidenceType   `json:"required_evidence_type" yaml:"required_evidence_type" enum:"photo,video,none"`
	Required             bool           `json:"required" yaml:"required"`
	Status               ItemStatus     `json:"status" yaml:"status" enum:"pending,in_progress,completed,failed,not_applicable"`
	CompletedAt          *time.Time     `json:"completed_at,omitempty" yaml:"-"`
	Notes                *string        `json:"notes,omitempty" yaml:"notes"`
	AIResult             map[string]any `json:"ai_result,omitempty" yaml:"-"`
}

type MediaItem struct {
	ID              string       `json:"id"`
	Kind            MediaKind    `json:"kind" enum:"photo,video"`
	ChecklistItemID string       `json:"checklist_item_id,omitempty"`
	SourceFile      string       `json:"source_file"`
	ContentType     string       `json:"content_type,omitempty"`
	SizeBytes       int64        `json:"size_bytes"`
	CreatedAt       time.Time    `json:"created_at"`
	UploadStatus    UploadStatus `json:"upload_status" enum:"pending,uploading,completed,failed"`
	UploadProgress  int          `json:"upload_progress"`
	RemoteURL       *string      `json:"remote_url,omitempty"`
	LastError       *string      `json:"last_error,omitempty"`
}

type SyncQueueItem struct {
	TargetID      string     `json:"target_id"`
	TargetKind    TargetKind `json:"target_kind" enum:"checklist_item,media_item"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

// ChecklistCounters are derived from the checklist on every mutation.
type ChecklistCounters struct {
	TotalCount     int `json:"total_count"`
	RequiredCount  int `json:"required_count"`
	CompletedCount int `json:"completed_count"`
	RemainingCount int `json:"remaining_count"`
}

type MediaCounts struct {
	Pending   int `json:"pending"`
	Uploading int `json:"uploading"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// ItemFailure reports one unit that could not be reconciled in a sync run.
type ItemFailure struct {
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	Error      string     `json:"error"`
	Terminal   bool       `json:"terminal"`
	Exhausted  bool       `json:"exhausted"`
	Attempts   int        `json:"attempts"`
}

type SyncResult struct {
	Progress       int           `json:"progress"`
	Confirmed      int           `json:"confirmed"`
	MediaCompleted int           `json:"media_completed"`
	Failures       []ItemFailure `json:"failures"`
	RemainingQueue int           `json:"remaining_queue"`
	PendingMedia   int           `json:"pending_media"`
	FullySynced    bool          `json:"fully_synced"`
	Offline        bool          `json:"offline,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// Snapshot is the read-only view handed to the UI layer and the store.
type Snapshot struct {
	Workflow   WorkflowState     `json:"workflow"`
	Checklist  []ChecklistItem   `json:"checklist"`
	Counters   ChecklistCounters `json:"counters"`
	Media      []MediaItem       `json:"media"`
	MediaCount MediaCounts       `json:"media_counts"`
	Queue      []SyncQueueItem   `json:"queue"`
	LastSync   *SyncResult       `json:"last_sync,omitempty"`
	Syncing    bool              `json:"syncing"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SessionID  string `json:"session_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
