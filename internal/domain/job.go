package domain

import "time"

// JobType enumerates the generation tools a job can be submitted for.
type JobType string

const (
	JobTypeBackgroundChanger JobType = "background-changer"
	JobTypeAIGeneration      JobType = "ai-generation"
)

// JobStatus enumerates job lifecycle states. Transitions are monotonic:
// processing -> completed or processing -> failed, nothing after that.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one externally-computed generation request together with the
// credits reserved for it. Exactly one of completion-with-artifact or
// failure-with-refund settles a job.
type Job struct {
	ID           string
	ExternalID   string
	OwnerID      string
	Type         JobType
	Status       JobStatus
	Prompt       string
	InputURL     string
	CostReserved int64
	ArtifactKey  string
	ArtifactURL  string
	ErrorReason  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}
