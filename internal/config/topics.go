package config

const (
	// TopicIngestTask is the NSQ topic for document ingestion jobs.
	TopicIngestTask = "ingest.task"

	// TopicDeleteTask is the NSQ topic for document deletion jobs.
	TopicDeleteTask = "ingest.delete"

	// ChannelWorker is the consumer channel shared by the worker pool.
	// NSQ delivers each message on a channel to exactly one consumer,
	// which is what gives a job a single owner at a time.
	ChannelWorker = "worker"
)
