package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nsqio/go-nsq"

	"qsearch/internal/fetch"
	"qsearch/internal/middleware"
	"qsearch/internal/pipeline"
)

// IngestConsumer drains the ingestion topic. NSQ channel semantics give
// each message a single owner, so no job is executed by two workers at
// once.
type IngestConsumer struct {
	runner    JobRunner
	uploadDir string
}

func NewIngestConsumer(runner JobRunner, uploadDir string) *IngestConsumer {
	return &IngestConsumer{runner: runner, uploadDir: uploadDir}
}

func (c *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: a malformed message will not improve on redelivery.
		slog.Error("dropping malformed ingest task", "error", err)
		return nil
	}
	if payload.JobID == "" || payload.Source == "" {
		slog.Error("dropping ingest task with missing fields", "job_id", payload.JobID, "source", payload.Source)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	err := c.runner.RunIngestion(ctx, pipeline.Task{
		JobID:      payload.JobID,
		Source:     payload.Source,
		SourceType: payload.SourceType,
		Metadata:   payload.Metadata,
	})
	if err != nil {
		slog.ErrorContext(ctx, "ingestion run could not be recorded, requeueing", "job_id", payload.JobID, "error", err)
		return err
	}

	c.cleanupStaged(ctx, payload)
	return nil
}

// cleanupStaged removes an uploaded file once its job is terminal. Only
// paths inside the upload directory are touched.
func (c *IngestConsumer) cleanupStaged(ctx context.Context, payload IngestTaskPayload) {
	if payload.SourceType != fetch.TypeFile || c.uploadDir == "" {
		return
	}
	absDir, err := filepath.Abs(c.uploadDir)
	if err != nil {
		return
	}
	absPath, err := filepath.Abs(payload.Source)
	if err != nil || filepath.Dir(absPath) != absDir {
		return
	}
	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		slog.WarnContext(ctx, "failed to clean up staged upload", "path", absPath, "error", err)
	}
}

// DeleteConsumer drains the deletion topic.
type DeleteConsumer struct {
	runner JobRunner
}

func NewDeleteConsumer(runner JobRunner) *DeleteConsumer {
	return &DeleteConsumer{runner: runner}
}

func (c *DeleteConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload DeleteTaskPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		slog.Error("dropping malformed delete task", "error", err)
		return nil
	}
	if payload.JobID == "" || payload.Source == "" {
		slog.Error("dropping delete task with missing fields", "job_id", payload.JobID, "source", payload.Source)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	err := c.runner.RunDeletion(ctx, pipeline.Task{
		JobID:  payload.JobID,
		Source: payload.Source,
	})
	if err != nil {
		slog.ErrorContext(ctx, "deletion run could not be recorded, requeueing", "job_id", payload.JobID, "error", err)
		return err
	}
	return nil
}
