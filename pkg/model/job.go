package model

import "time"

// JobStatus tracks where a job sits in the scheduler state machine.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether the status is completed, failed or cancelled.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job still awaits or is undergoing transcription.
func (s JobStatus) IsActive() bool {
	return s == JobStatusQueued || s == JobStatusTranscribing
}

const (
	StageQueued       = "queued"
	StageTranscribing = "transcribing"
	StageFallback     = "transcribing (local fallback)"
	StageDone         = "done"
	StageFailed       = "failed"
	StageCancelled    = "cancelled"
)

// CancelledByUserMessage is the error recorded on jobs cancelled through the manager.
const CancelledByUserMessage = "cancelled by user"

// Job is one audio source queued for transcription.
type Job struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	SourceRef   string    `json:"source_ref"`
	PreparedRef string    `json:"prepared_ref,omitempty"`
	Status      JobStatus `json:"status"`
	Progress    float64   `json:"progress"`
	Stage       string    `json:"stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	// Duration is the prepared audio length in seconds.
	Duration  float64   `json:"duration,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to observers.
func (j Job) Clone() Job {
	cloned := j
	if j.Result != nil {
		result := j.Result.Clone()
		cloned.Result = &result
	}
	return cloned
}
