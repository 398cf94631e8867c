package jobstatus

import (
	"context"
	"database/sql"
	"time"
)

type PostgresStore struct {
	db        *sql.DB
	retention time.Duration
}

func NewPostgresStore(db *sql.DB, retention time.Duration) *PostgresStore {
	return &PostgresStore{db: db, retention: retention}
}

func (s *PostgresStore) Put(ctx context.Context, snap *Snapshot) error {
	query := `INSERT INTO ingestion_jobs (id, kind, source, state, attempts, num_chunks, embedding_dimension, error_kind, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			num_chunks = EXCLUDED.num_chunks,
			embedding_dimension = EXCLUDED.embedding_dimension,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			updated_at = now()`

	var numChunks, dimension sql.NullInt64
	if snap.Result != nil {
		numChunks = sql.NullInt64{Int64: int64(snap.Result.NumChunks), Valid: true}
		dimension = sql.NullInt64{Int64: int64(snap.Result.EmbeddingDimension), Valid: true}
	}
	var errKind, errMsg sql.NullString
	if snap.Error != nil {
		errKind = sql.NullString{String: snap.Error.Kind, Valid: true}
		errMsg = sql.NullString{String: snap.Error.Message, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		snap.JobID, string(snap.Kind), snap.Source, string(snap.State), snap.Attempts,
		numChunks, dimension, errKind, errMsg)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Snapshot, error) {
	query := `SELECT id, kind, source, state, attempts, num_chunks, embedding_dimension, error_kind, error_message, updated_at
		FROM ingestion_jobs
		WHERE id = $1 AND updated_at > now() - make_interval(secs => $2)`

	snap := &Snapshot{}
	var kind, state string
	var numChunks, dimension sql.NullInt64
	var errKind, errMsg sql.NullString

	err := s.db.QueryRowContext(ctx, query, jobID, s.retention.Seconds()).Scan(
		&snap.JobID, &kind, &snap.Source, &state, &snap.Attempts,
		&numChunks, &dimension, &errKind, &errMsg, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap.Kind = Kind(kind)
	snap.State = State(state)
	if numChunks.Valid {
		snap.Result = &Result{
			NumChunks:          int(numChunks.Int64),
			Source:             snap.Source,
			EmbeddingDimension: int(dimension.Int64),
		}
	}
	if errKind.Valid {
		snap.Error = &Failure{Kind: errKind.String, Message: errMsg.String}
	}
	return snap, nil
}

func (s *PostgresStore) CountByState(ctx context.Context) (map[State]int, error) {
	query := `SELECT state, COUNT(*) FROM ingestion_jobs GROUP BY state`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM ingestion_jobs WHERE updated_at <= now() - make_interval(secs => $1)`
	res, err := s.db.ExecContext(ctx, query, s.retention.Seconds())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
