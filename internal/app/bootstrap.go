package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"

	"qsearch/internal/adapter/qdrant"
	"qsearch/internal/config"
	"qsearch/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	VectorStore vector.Store
	NSQProducer *nsq.Producer

	closers []func() error
}

// Close releases everything Bootstrap opened.
func (d *Dependencies) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			slog.Warn("failed to close dependency", "error", err)
		}
	}
}

// Bootstrap connects to postgres, qdrant and nsqd, runs migrations and
// makes sure the vector collection exists with the configured dimension.
// Both stores get a retry loop because in compose setups this process
// usually races its dependencies at startup.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, fmt.Errorf("migration up error: %w", err)
	}

	store, err := qdrant.NewStore(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
	if err != nil {
		return nil, fmt.Errorf("qdrant client error: %w", err)
	}
	if err := EnsureCollectionWithRetry(ctx, store, cfg.EmbeddingDimension, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		return nil, fmt.Errorf("qdrant collection error: %w", err)
	}

	nsqCfg := nsq.NewConfig()
	producer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(cfg.NSQDHTTP)

	return &Dependencies{
		DB:          db,
		VectorStore: store,
		NSQProducer: producer,
		closers: []func() error{
			db.Close,
			store.Close,
			func() error { producer.Stop(); return nil },
		},
	}, nil
}

// CollectionEnsurer is the slice of the vector store the retry helper needs.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context, dimension int) error
}

// EnsureCollectionWithRetry keeps trying until the collection exists or the
// attempts run out. A dimension mismatch is permanent and aborts immediately.
func EnsureCollectionWithRetry(ctx context.Context, store CollectionEnsurer, dimension, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureCollection(ctx, dimension); err == nil {
			return nil
		}
		if errors.Is(err, vector.ErrDimensionMismatch) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// createTopics hits the nsqd HTTP API so consumers querying lookupd do not
// 404 before the first publish. NSQ otherwise creates topics lazily.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		url := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, topic)
		resp, err := http.Post(url, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestTask)
		create(config.TopicDeleteTask)
	}()
}
