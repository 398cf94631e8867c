package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qsearch/internal/jobstatus"
	"qsearch/internal/vector"
)

// Segment is one (text, position) pair produced by the parsing collaborator.
type Segment struct {
	Text  string
	Index int
}

// SegmentIterator is a lazy, finite, non-restartable chunk sequence.
type SegmentIterator interface {
	Next() (Segment, bool)
}

// Fetcher acquires raw document bytes for a source. Implementations must
// return a *StageError of kind AcquisitionError for failures they can
// classify, marking transient ones retryable.
type Fetcher interface {
	Fetch(ctx context.Context, source, sourceType string) ([]byte, error)
}

// Parser turns acquired bytes into a lazy segment sequence.
type Parser interface {
	Parse(data []byte) (SegmentIterator, error)
}

// Embedder is the embedding gateway: one vector per input text, same order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Task is one unit of ingestion work as delivered by the queue.
type Task struct {
	JobID      string
	Source     string
	SourceType string
	Metadata   map[string]any
}

// Policies holds the per-stage retry configuration.
type Policies struct {
	Acquire RetryPolicy
	Embed   RetryPolicy
	Upsert  RetryPolicy
	Delete  RetryPolicy
}

// Timeouts bound the blocking operations of a single attempt.
type Timeouts struct {
	Fetch  time.Duration
	Embed  time.Duration
	Upsert time.Duration
}

// Runner drives one job at a time through the ingestion state machine.
// Stages execute strictly sequentially; the only shared state it touches
// is the vector store (guarded by point-id determinism plus a per-source
// lock around the replace window) and the status store.
type Runner struct {
	fetcher   Fetcher
	parser    Parser
	embedder  Embedder
	store     vector.Store
	status    jobstatus.Store
	locks     *sourceLocks
	dimension int
	policies  Policies
	timeouts  Timeouts
}

func NewRunner(f Fetcher, p Parser, e Embedder, store vector.Store, status jobstatus.Store, dimension int, policies Policies, timeouts Timeouts) *Runner {
	return &Runner{
		fetcher:   f,
		parser:    p,
		embedder:  e,
		store:     store,
		status:    status,
		locks:     newSourceLocks(),
		dimension: dimension,
		policies:  policies,
		timeouts:  timeouts,
	}
}

// RunIngestion executes the full state machine for one ingestion job.
// Terminal job failures are recorded in the status store and reported as
// nil; a non-nil return means a snapshot write itself failed and the task
// should be redelivered.
func (r *Runner) RunIngestion(ctx context.Context, t Task) error {
	snap := &jobstatus.Snapshot{
		JobID:  t.JobID,
		Kind:   jobstatus.KindIngest,
		Source: t.Source,
	}

	// ACQUIRING
	if err := r.enter(ctx, snap, jobstatus.StateAcquiring); err != nil {
		return err
	}
	var data []byte
	err := r.policies.Acquire.Do(ctx, func() error {
		fctx, cancel := context.WithTimeout(ctx, r.timeouts.Fetch)
		defer cancel()
		b, err := r.fetcher.Fetch(fctx, t.Source, t.SourceType)
		if err != nil {
			if isTimeout(err) {
				return NewStageError(KindAcquisition, true, err)
			}
			return err
		}
		data = b
		return nil
	}, r.logRetry(ctx, snap, "acquire"))
	if err != nil {
		return r.fail(ctx, snap, Classify(err, KindAcquisition))
	}

	// PARSING. Deterministic given the bytes, so never retried.
	if err := r.enter(ctx, snap, jobstatus.StateParsing); err != nil {
		return err
	}
	chunks, texts, err := r.materialize(t, data)
	if err != nil {
		return r.fail(ctx, snap, Classify(err, KindParse))
	}

	// EMBEDDING
	if err := r.enter(ctx, snap, jobstatus.StateEmbedding); err != nil {
		return err
	}
	err = r.policies.Embed.Do(ctx, func() error {
		ectx, cancel := context.WithTimeout(ctx, r.timeouts.Embed)
		defer cancel()
		vectors, err := r.embedder.EmbedBatch(ectx, texts)
		if err != nil {
			return classifyRetryable(err, KindEmbedding)
		}
		if len(vectors) != len(texts) {
			return NewStageError(KindEmbedding, false,
				fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts)))
		}
		for i, v := range vectors {
			if len(v) != r.dimension {
				// Wrong collection dimension is a setup problem, not a
				// transient fault.
				return NewStageError(KindConfiguration, false,
					fmt.Errorf("vector %d has dimension %d, collection expects %d", i, len(v), r.dimension))
			}
			chunks[i].Vector = v
		}
		return nil
	}, r.logRetry(ctx, snap, "embed"))
	if err != nil {
		return r.fail(ctx, snap, Classify(err, KindEmbedding))
	}

	// UPSERTING replaces this source's prior generation. The per-source
	// lock keeps the delete+upsert window from interleaving with another
	// job for the same source in this process.
	if err := r.enter(ctx, snap, jobstatus.StateUpserting); err != nil {
		return err
	}
	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:         vector.PointID(c.Source, c.Index),
			Vector:     c.Vector,
			Text:       c.Text,
			Source:     c.Source,
			ChunkIndex: c.Index,
			Metadata:   c.Metadata,
		}
	}

	release := r.locks.Acquire(t.Source)
	err = r.policies.Upsert.Do(ctx, func() error {
		uctx, cancel := context.WithTimeout(ctx, r.timeouts.Upsert)
		defer cancel()
		if err := r.store.DeleteBySource(uctx, t.Source); err != nil {
			return classifyRetryable(err, KindStore)
		}
		if err := r.store.Upsert(uctx, points); err != nil {
			return classifyRetryable(err, KindStore)
		}
		return nil
	}, r.logRetry(ctx, snap, "upsert"))
	release()
	if err != nil {
		return r.fail(ctx, snap, Classify(err, KindStore))
	}

	// SUCCEEDED
	snap.State = jobstatus.StateSucceeded
	snap.Result = &jobstatus.Result{
		NumChunks:          len(chunks),
		Source:             t.Source,
		EmbeddingDimension: r.dimension,
	}
	slog.InfoContext(ctx, "ingestion succeeded", "job_id", t.JobID, "source", t.Source, "num_chunks", len(chunks))
	return r.status.Put(ctx, snap)
}

// RunDeletion executes the deletion state machine: ACCEPTED -> DELETING ->
// SUCCEEDED/FAILED. Deleting an absent source succeeds with zero effect.
func (r *Runner) RunDeletion(ctx context.Context, t Task) error {
	snap := &jobstatus.Snapshot{
		JobID:  t.JobID,
		Kind:   jobstatus.KindDelete,
		Source: t.Source,
	}

	if err := r.enter(ctx, snap, jobstatus.StateDeleting); err != nil {
		return err
	}

	release := r.locks.Acquire(t.Source)
	err := r.policies.Delete.Do(ctx, func() error {
		dctx, cancel := context.WithTimeout(ctx, r.timeouts.Upsert)
		defer cancel()
		if err := r.store.DeleteBySource(dctx, t.Source); err != nil {
			return classifyRetryable(err, KindStore)
		}
		return nil
	}, r.logRetry(ctx, snap, "delete"))
	release()
	if err != nil {
		return r.fail(ctx, snap, Classify(err, KindStore))
	}

	snap.State = jobstatus.StateSucceeded
	slog.InfoContext(ctx, "deletion succeeded", "job_id", t.JobID, "source", t.Source)
	return r.status.Put(ctx, snap)
}

// materialize consumes the lazy segment sequence fully. An empty sequence
// is a parse failure: a document that parses to nothing is not ingestible.
func (r *Runner) materialize(t Task, data []byte) ([]vector.Chunk, []string, error) {
	it, err := r.parser.Parse(data)
	if err != nil {
		return nil, nil, Classify(err, KindParse)
	}

	var chunks []vector.Chunk
	var texts []string
	for {
		seg, ok := it.Next()
		if !ok {
			break
		}
		chunks = append(chunks, vector.Chunk{
			Text:     seg.Text,
			Index:    seg.Index,
			Source:   t.Source,
			Metadata: t.Metadata,
		})
		texts = append(texts, seg.Text)
	}

	if len(chunks) == 0 {
		return nil, nil, NewStageError(KindParse, false, errors.New("document produced no chunks"))
	}
	return chunks, texts, nil
}

// enter records the stage transition before the stage does any work, so a
// status query never observes a state older than the last completed stage.
func (r *Runner) enter(ctx context.Context, snap *jobstatus.Snapshot, s jobstatus.State) error {
	snap.State = s
	snap.Attempts = 0
	slog.InfoContext(ctx, "job stage entered", "job_id", snap.JobID, "source", snap.Source, "state", s)
	if err := r.status.Put(ctx, snap); err != nil {
		slog.ErrorContext(ctx, "failed to persist job state", "job_id", snap.JobID, "state", s, "error", err)
		return err
	}
	return nil
}

// fail records the terminal failure. The returned error is nil unless the
// snapshot write itself failed.
func (r *Runner) fail(ctx context.Context, snap *jobstatus.Snapshot, se *StageError) error {
	snap.State = jobstatus.StateFailed
	snap.Error = &jobstatus.Failure{Kind: string(se.Kind), Message: se.Err.Error()}
	slog.ErrorContext(ctx, "job failed", "job_id", snap.JobID, "source", snap.Source, "error_kind", se.Kind, "error", se.Err)
	return r.status.Put(ctx, snap)
}

func (r *Runner) logRetry(ctx context.Context, snap *jobstatus.Snapshot, stage string) func(int, error) {
	return func(attempt int, err error) {
		snap.Attempts = attempt
		slog.WarnContext(ctx, "stage attempt failed, retrying", "job_id", snap.JobID, "stage", stage, "attempt", attempt, "error", err)
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyRetryable wraps unclassified collaborator errors as a retryable
// error of the given kind; errors that already carry a classification keep
// it.
func classifyRetryable(err error, kind ErrorKind) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Kind: kind, Retryable: true, Err: err}
}
