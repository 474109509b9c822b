package domain

import "context"

// Output channel names. Every emission of the engine lands on one of these;
// the suspicious/high-value/validated trio is mutually exclusive per record
// while enriched and analytics are fed independently from the same record.
const (
	ChannelValidated  = "validated"
	ChannelEnriched   = "enriched"
	ChannelHighValue  = "high-value"
	ChannelSuspicious = "suspicious"
	ChannelAnalytics  = "analytics"
	ChannelMonitoring = "monitoring"
	ChannelDeadLetter = "dead-letter"
)

// StreamMessage pairs a partitioned-log entry id with its opaque payload.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// TransactionStream is the inbound side of the partitioned log.
type TransactionStream interface {
	// ReadBatch reads up to count pending messages for this consumer.
	ReadBatch(ctx context.Context, count int) ([]StreamMessage, error)

	// Acknowledge marks messages as handed off to the pipeline.
	Acknowledge(ctx context.Context, messageIDs ...string) error
}

// SinkPublisher writes a structured document to a named output channel.
// Implementations must be safe for concurrent use; key may be empty for
// unkeyed channels.
type SinkPublisher interface {
	Publish(ctx context.Context, channel, key string, doc any) error
}

// DeadLetterSink accepts failure records. Implementations must never block
// the caller on downstream availability.
type DeadLetterSink interface {
	Capture(ctx context.Context, rec DeadLetterRecord) error
}

// DeadLetterWAL is the local append-only fallback used when the dead-letter
// channel itself is unreachable.
type DeadLetterWAL interface {
	// Write appends a record to the current WAL segment.
	Write(ctx context.Context, rec DeadLetterRecord) error

	// Replay feeds every retained record to handler, oldest first.
	Replay(ctx context.Context, handler func(rec DeadLetterRecord) error) error

	// Truncate removes segments after a successful replay.
	Truncate(ctx context.Context) error
}

// DeadLetterStream is the consumer side of the dead-letter channel, used by
// the archiver.
type DeadLetterStream interface {
	ReadBatch(ctx context.Context, count int) ([]DeadLetterRecord, error)
	Acknowledge(ctx context.Context, messageIDs ...string) error
}

// DeadLetterArchive is the durable store the archiver drains records into.
type DeadLetterArchive interface {
	ArchiveBatch(ctx context.Context, recs []DeadLetterRecord) error
}
