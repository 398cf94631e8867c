package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"qsearch/internal/middleware"
	"qsearch/internal/pipeline"
	"qsearch/internal/worker"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) RunIngestion(ctx context.Context, t pipeline.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *MockRunner) RunDeletion(ctx context.Context, t pipeline.Task) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func ingestMessage(t *testing.T, payload worker.IngestTaskPayload) *nsq.Message {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &nsq.Message{Body: body}
}

func TestIngestConsumer_DispatchesToRunner(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunIngestion", mock.Anything, pipeline.Task{
		JobID:      "job-1",
		Source:     "https://example.com/doc",
		SourceType: "url",
		Metadata:   map[string]any{"category": "docs"},
	}).Return(nil)

	c := worker.NewIngestConsumer(runner, "")
	err := c.HandleMessage(ingestMessage(t, worker.IngestTaskPayload{
		JobID:      "job-1",
		Source:     "https://example.com/doc",
		SourceType: "url",
		Metadata:   map[string]any{"category": "docs"},
	}))

	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestIngestConsumer_PropagatesCorrelationID(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunIngestion", mock.MatchedBy(func(ctx context.Context) bool {
		return middleware.GetCorrelationID(ctx) == "corr-42"
	}), mock.Anything).Return(nil)

	c := worker.NewIngestConsumer(runner, "")
	err := c.HandleMessage(ingestMessage(t, worker.IngestTaskPayload{
		JobID:         "job-1",
		Source:        "https://example.com/doc",
		SourceType:    "url",
		CorrelationID: "corr-42",
	}))

	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestIngestConsumer_MalformedMessageIsDropped(t *testing.T) {
	runner := new(MockRunner)
	c := worker.NewIngestConsumer(runner, "")

	// Returning nil acks the message so nsqd stops redelivering it.
	err := c.HandleMessage(&nsq.Message{Body: []byte("{not json")})
	assert.NoError(t, err)

	err = c.HandleMessage(&nsq.Message{Body: []byte(`{"source": "no job id"}`)})
	assert.NoError(t, err)

	err = c.HandleMessage(&nsq.Message{Body: nil})
	assert.NoError(t, err)

	runner.AssertNotCalled(t, "RunIngestion", mock.Anything, mock.Anything)
}

func TestIngestConsumer_SnapshotWriteFailureRequeues(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunIngestion", mock.Anything, mock.Anything).Return(errors.New("status store down"))

	c := worker.NewIngestConsumer(runner, "")
	err := c.HandleMessage(ingestMessage(t, worker.IngestTaskPayload{
		JobID:      "job-1",
		Source:     "https://example.com/doc",
		SourceType: "url",
	}))

	assert.Error(t, err)
}

func TestIngestConsumer_RemovesStagedFileAfterTerminalState(t *testing.T) {
	uploadDir := t.TempDir()
	staged := filepath.Join(uploadDir, "20260828_120000_notes.md")
	require.NoError(t, os.WriteFile(staged, []byte("content"), 0o644))

	runner := new(MockRunner)
	runner.On("RunIngestion", mock.Anything, mock.Anything).Return(nil)

	c := worker.NewIngestConsumer(runner, uploadDir)
	err := c.HandleMessage(ingestMessage(t, worker.IngestTaskPayload{
		JobID:      "job-1",
		Source:     staged,
		SourceType: "file",
	}))

	require.NoError(t, err)
	_, statErr := os.Stat(staged)
	assert.True(t, os.IsNotExist(statErr), "staged file should be removed")
}

func TestIngestConsumer_NeverDeletesOutsideUploadDir(t *testing.T) {
	uploadDir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "keep.md")
	require.NoError(t, os.WriteFile(outside, []byte("content"), 0o644))

	runner := new(MockRunner)
	runner.On("RunIngestion", mock.Anything, mock.Anything).Return(nil)

	c := worker.NewIngestConsumer(runner, uploadDir)
	err := c.HandleMessage(ingestMessage(t, worker.IngestTaskPayload{
		JobID:      "job-1",
		Source:     outside,
		SourceType: "file",
	}))

	require.NoError(t, err)
	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr, "files outside the upload dir must be left alone")
}

func TestDeleteConsumer_DispatchesToRunner(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunDeletion", mock.Anything, pipeline.Task{
		JobID:  "del-1",
		Source: "https://example.com/doc",
	}).Return(nil)

	c := worker.NewDeleteConsumer(runner)
	body, _ := json.Marshal(worker.DeleteTaskPayload{JobID: "del-1", Source: "https://example.com/doc"})
	err := c.HandleMessage(&nsq.Message{Body: body})

	require.NoError(t, err)
	runner.AssertExpectations(t)
}

func TestDeleteConsumer_MalformedMessageIsDropped(t *testing.T) {
	runner := new(MockRunner)
	c := worker.NewDeleteConsumer(runner)

	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte("nope")}))
	assert.NoError(t, c.HandleMessage(&nsq.Message{Body: []byte(`{}`)}))
	runner.AssertNotCalled(t, "RunDeletion", mock.Anything, mock.Anything)
}

func TestDeleteConsumer_RunnerErrorRequeues(t *testing.T) {
	runner := new(MockRunner)
	runner.On("RunDeletion", mock.Anything, mock.Anything).Return(errors.New("status store down"))

	c := worker.NewDeleteConsumer(runner)
	body, _ := json.Marshal(worker.DeleteTaskPayload{JobID: "del-1", Source: "https://example.com/doc"})
	assert.Error(t, c.HandleMessage(&nsq.Message{Body: body}))
}
