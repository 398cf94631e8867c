package worker

import (
	"context"

	"qsearch/internal/pipeline"
)

// IngestTaskPayload is the wire shape of an ingestion task message.
type IngestTaskPayload struct {
	JobID         string         `json:"job_id"`
	Source        string         `json:"source"`
	SourceType    string         `json:"source_type"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// DeleteTaskPayload is the wire shape of a deletion task message.
type DeleteTaskPayload struct {
	JobID         string `json:"job_id"`
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// JobRunner executes one job to a terminal state. A returned error means
// the terminal state could not be recorded and the message should be
// redelivered.
type JobRunner interface {
	RunIngestion(ctx context.Context, t pipeline.Task) error
	RunDeletion(ctx context.Context, t pipeline.Task) error
}
