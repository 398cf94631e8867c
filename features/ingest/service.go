package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"qsearch/internal/config"
	"qsearch/internal/fetch"
	"qsearch/internal/jobstatus"
	"qsearch/internal/middleware"
)

type EventPublisher interface {
	Publish(topic string, body []byte) error
}

// TaskMessage is the queue payload for both ingestion and deletion jobs.
type TaskMessage struct {
	JobID         string         `json:"job_id"`
	Source        string         `json:"source"`
	SourceType    string         `json:"source_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Service is the submission boundary: it mints job ids, records the
// ACCEPTED snapshot, and hands the work to the queue. It never executes
// jobs itself.
type Service struct {
	status jobstatus.Store
	pub    EventPublisher
}

func NewService(status jobstatus.Store, pub EventPublisher) *Service {
	return &Service{status: status, pub: pub}
}

// SubmitURL accepts an ingestion job for a document at url and returns the
// job id immediately.
func (s *Service) SubmitURL(ctx context.Context, rawURL string, metadata map[string]any) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", err
	}
	if err := ValidateMetadata(metadata); err != nil {
		return "", err
	}
	return s.submit(ctx, rawURL, fetch.TypeURL, metadata)
}

// SubmitFile accepts an ingestion job for bytes already staged at path.
func (s *Service) SubmitFile(ctx context.Context, path string, metadata map[string]any) (string, error) {
	if err := ValidateMetadata(metadata); err != nil {
		return "", err
	}
	return s.submit(ctx, path, fetch.TypeFile, metadata)
}

func (s *Service) submit(ctx context.Context, source, sourceType string, metadata map[string]any) (string, error) {
	jobID := uuid.New().String()

	snap := &jobstatus.Snapshot{
		JobID:  jobID,
		Kind:   jobstatus.KindIngest,
		Source: source,
		State:  jobstatus.StateAccepted,
	}
	if err := s.status.Put(ctx, snap); err != nil {
		return "", fmt.Errorf("record accepted job: %w", err)
	}

	body, err := json.Marshal(TaskMessage{
		JobID:         jobID,
		Source:        source,
		SourceType:    sourceType,
		Metadata:      metadata,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(config.TopicIngestTask, body); err != nil {
		return "", fmt.Errorf("publish ingestion task: %w", err)
	}

	slog.InfoContext(ctx, "ingestion job accepted", "job_id", jobID, "source", source, "source_type", sourceType)
	return jobID, nil
}

// SubmitDeletion accepts an asynchronous deletion job for all points of a
// source.
func (s *Service) SubmitDeletion(ctx context.Context, source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: source is required", ErrInvalidRequest)
	}

	jobID := uuid.New().String()
	snap := &jobstatus.Snapshot{
		JobID:  jobID,
		Kind:   jobstatus.KindDelete,
		Source: source,
		State:  jobstatus.StateAccepted,
	}
	if err := s.status.Put(ctx, snap); err != nil {
		return "", fmt.Errorf("record accepted job: %w", err)
	}

	body, err := json.Marshal(TaskMessage{
		JobID:         jobID,
		Source:        source,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return "", err
	}
	if err := s.pub.Publish(config.TopicDeleteTask, body); err != nil {
		return "", fmt.Errorf("publish deletion task: %w", err)
	}

	slog.InfoContext(ctx, "deletion job accepted", "job_id", jobID, "source", source)
	return jobID, nil
}

// GetStatus returns the latest snapshot for the job, or
// jobstatus.ErrNotFound for unknown or expired ids.
func (s *Service) GetStatus(ctx context.Context, jobID string) (*jobstatus.Snapshot, error) {
	return s.status.Get(ctx, jobID)
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must start with http:// or https://", ErrInvalidRequest)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidRequest)
	}
	return nil
}
