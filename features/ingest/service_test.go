package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"qsearch/internal/config"
	"qsearch/internal/jobstatus"
	"qsearch/internal/middleware"
)

type MockStatusStore struct{ mock.Mock }

func (m *MockStatusStore) Put(ctx context.Context, snap *jobstatus.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStatusStore) Get(ctx context.Context, jobID string) (*jobstatus.Snapshot, error) {
	args := m.Called(ctx, jobID)
	s, _ := args.Get(0).(*jobstatus.Snapshot)
	return s, args.Error(1)
}

func (m *MockStatusStore) CountByState(ctx context.Context) (map[jobstatus.State]int, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(map[jobstatus.State]int)
	return c, args.Error(1)
}

func (m *MockStatusStore) PurgeExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

func TestService_SubmitURL_Success(t *testing.T) {
	status := new(MockStatusStore)
	pub := new(MockPublisher)

	status.On("Put", mock.Anything, mock.MatchedBy(func(s *jobstatus.Snapshot) bool {
		return s.State == jobstatus.StateAccepted && s.Kind == jobstatus.KindIngest && s.Source == "https://example.com/doc"
	})).Return(nil)
	pub.On("Publish", config.TopicIngestTask, mock.MatchedBy(func(b []byte) bool {
		var msg TaskMessage
		if err := json.Unmarshal(b, &msg); err != nil {
			return false
		}
		return msg.Source == "https://example.com/doc" && msg.SourceType == "url" && msg.CorrelationID == "corr-1"
	})).Return(nil)

	ctx := middleware.WithCorrelationID(context.Background(), "corr-1")
	svc := NewService(status, pub)
	jobID, err := svc.SubmitURL(ctx, "https://example.com/doc", map[string]any{"category": "docs"})
	require.NoError(t, err)

	_, err = uuid.Parse(jobID)
	assert.NoError(t, err, "job id should be a uuid")

	status.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestService_SubmitURL_RejectsBadSchemes(t *testing.T) {
	svc := NewService(new(MockStatusStore), new(MockPublisher))

	for _, raw := range []string{"ftp://example.com/doc", "file:///etc/passwd", "not a url", "https://"} {
		_, err := svc.SubmitURL(context.Background(), raw, nil)
		assert.ErrorIs(t, err, ErrInvalidRequest, "url %q should be rejected", raw)
	}
}

func TestService_SubmitURL_RejectsBadMetadata(t *testing.T) {
	svc := NewService(new(MockStatusStore), new(MockPublisher))

	cases := []map[string]any{
		{"source": "clobber"},
		{"text": "clobber"},
		{"chunk_index": 1},
		{"": "empty key"},
		{"nested": map[string]any{"no": "nesting"}},
		{"list": []any{1, 2}},
	}
	for _, md := range cases {
		_, err := svc.SubmitURL(context.Background(), "https://example.com/doc", md)
		assert.ErrorIs(t, err, ErrInvalidRequest, "metadata %v should be rejected", md)
	}
}

func TestService_SubmitURL_StatusWriteFailureSurfaces(t *testing.T) {
	status := new(MockStatusStore)
	pub := new(MockPublisher)

	status.On("Put", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := NewService(status, pub)
	_, err := svc.SubmitURL(context.Background(), "https://example.com/doc", nil)
	require.Error(t, err)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestService_SubmitURL_PublishFailureSurfaces(t *testing.T) {
	status := new(MockStatusStore)
	pub := new(MockPublisher)

	status.On("Put", mock.Anything, mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nsqd unreachable"))

	svc := NewService(status, pub)
	_, err := svc.SubmitURL(context.Background(), "https://example.com/doc", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish")
}

func TestService_SubmitFile_Success(t *testing.T) {
	status := new(MockStatusStore)
	pub := new(MockPublisher)

	status.On("Put", mock.Anything, mock.Anything).Return(nil)
	pub.On("Publish", config.TopicIngestTask, mock.MatchedBy(func(b []byte) bool {
		var msg TaskMessage
		json.Unmarshal(b, &msg)
		return msg.SourceType == "file" && msg.Source == "uploads/20260828_120000_notes.md"
	})).Return(nil)

	svc := NewService(status, pub)
	_, err := svc.SubmitFile(context.Background(), "uploads/20260828_120000_notes.md", map[string]any{"filename": "notes.md"})
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestService_SubmitDeletion_Success(t *testing.T) {
	status := new(MockStatusStore)
	pub := new(MockPublisher)

	status.On("Put", mock.Anything, mock.MatchedBy(func(s *jobstatus.Snapshot) bool {
		return s.Kind == jobstatus.KindDelete && s.State == jobstatus.StateAccepted
	})).Return(nil)
	pub.On("Publish", config.TopicDeleteTask, mock.Anything).Return(nil)

	svc := NewService(status, pub)
	jobID, err := svc.SubmitDeletion(context.Background(), "https://example.com/doc")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	pub.AssertExpectations(t)
}

func TestService_SubmitDeletion_EmptySource(t *testing.T) {
	svc := NewService(new(MockStatusStore), new(MockPublisher))
	_, err := svc.SubmitDeletion(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_GetStatus_NotFound(t *testing.T) {
	status := new(MockStatusStore)
	status.On("Get", mock.Anything, "unknown").Return(nil, jobstatus.ErrNotFound)

	svc := NewService(status, new(MockPublisher))
	_, err := svc.GetStatus(context.Background(), "unknown")
	assert.ErrorIs(t, err, jobstatus.ErrNotFound)
}

func TestValidateMetadata_AcceptsScalars(t *testing.T) {
	err := ValidateMetadata(map[string]any{
		"category": "docs",
		"draft":    false,
		"year":     float64(2026),
		"rank":     3,
	})
	assert.NoError(t, err)
}
