package pipeline_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"qsearch/internal/jobstatus"
	"qsearch/internal/pipeline"
	"qsearch/internal/vector"
)

type MockFetcher struct{ mock.Mock }

func (m *MockFetcher) Fetch(ctx context.Context, source, sourceType string) ([]byte, error) {
	args := m.Called(ctx, source, sourceType)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type MockParser struct{ mock.Mock }

func (m *MockParser) Parse(data []byte) (pipeline.SegmentIterator, error) {
	args := m.Called(data)
	it, _ := args.Get(0).(pipeline.SegmentIterator)
	return it, args.Error(1)
}

type sliceIterator struct {
	segs []pipeline.Segment
	pos  int
}

func (it *sliceIterator) Next() (pipeline.Segment, bool) {
	if it.pos >= len(it.segs) {
		return pipeline.Segment{}, false
	}
	seg := it.segs[it.pos]
	it.pos++
	return seg, true
}

func segments(texts ...string) pipeline.SegmentIterator {
	segs := make([]pipeline.Segment, len(texts))
	for i, txt := range texts {
		segs[i] = pipeline.Segment{Text: txt, Index: i}
	}
	return &sliceIterator{segs: segs}
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	v, _ := args.Get(0).([][]float32)
	return v, args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) EnsureCollection(ctx context.Context, dimension int) error {
	args := m.Called(ctx, dimension)
	return args.Error(0)
}

func (m *MockVectorStore) Upsert(ctx context.Context, points []vector.Point) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

func (m *MockVectorStore) DeleteBySource(ctx context.Context, source string) error {
	args := m.Called(ctx, source)
	return args.Error(0)
}

func (m *MockVectorStore) Search(ctx context.Context, queryVector []float32, params vector.SearchParams) ([]vector.ScoredPoint, error) {
	args := m.Called(ctx, queryVector, params)
	r, _ := args.Get(0).([]vector.ScoredPoint)
	return r, args.Error(1)
}

func (m *MockVectorStore) CountPoints(ctx context.Context) (uint64, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(uint64)
	return n, args.Error(1)
}

// statusRecorder keeps every snapshot write so tests can assert on the
// observed state sequence.
type statusRecorder struct {
	mu     sync.Mutex
	snaps  []jobstatus.Snapshot
	putErr error
}

func (s *statusRecorder) Put(ctx context.Context, snap *jobstatus.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.snaps = append(s.snaps, *snap)
	return nil
}

func (s *statusRecorder) Get(ctx context.Context, jobID string) (*jobstatus.Snapshot, error) {
	return nil, jobstatus.ErrNotFound
}

func (s *statusRecorder) CountByState(ctx context.Context) (map[jobstatus.State]int, error) {
	return nil, nil
}

func (s *statusRecorder) PurgeExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (s *statusRecorder) states() []jobstatus.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]jobstatus.State, len(s.snaps))
	for i, snap := range s.snaps {
		out[i] = snap.State
	}
	return out
}

func (s *statusRecorder) last() jobstatus.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[len(s.snaps)-1]
}
