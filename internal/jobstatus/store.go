package jobstatus

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for unknown or retention-expired job ids. It is
// deliberately distinct from a FAILED job, which is a found snapshot.
var ErrNotFound = errors.New("job not found")

type State string

const (
	StateAccepted  State = "ACCEPTED"
	StateAcquiring State = "ACQUIRING"
	StateParsing   State = "PARSING"
	StateEmbedding State = "EMBEDDING"
	StateUpserting State = "UPSERTING"
	StateDeleting  State = "DELETING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type Kind string

const (
	KindIngest Kind = "ingest"
	KindDelete Kind = "delete"
)

// Result is set only on SUCCEEDED ingestion jobs. Deletion jobs carry no
// result.
type Result struct {
	NumChunks          int    `json:"num_chunks"`
	Source             string `json:"source"`
	EmbeddingDimension int    `json:"embedding_dimension"`
}

// Failure is set only on FAILED jobs.
type Failure struct {
	Kind    string `json:"error_kind"`
	Message string `json:"message"`
}

// Snapshot is the latest known state of one job. No history is retained;
// each Put replaces the previous snapshot for the same job id.
type Snapshot struct {
	JobID     string    `json:"job_id"`
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	Result    *Result   `json:"result,omitempty"`
	Error     *Failure  `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is written only by the worker executing a job and read by status
// queries. Get never blocks on an in-flight job.
type Store interface {
	Put(ctx context.Context, snap *Snapshot) error
	Get(ctx context.Context, jobID string) (*Snapshot, error)
	CountByState(ctx context.Context) (map[State]int, error)
	PurgeExpired(ctx context.Context) (int64, error)
}
