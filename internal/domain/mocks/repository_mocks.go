package mocks

import (
	"context"
	"sync"

	"github.com/user/txn-stream-engine/internal/domain"
)

// PublishedDoc records a single SinkPublisher.Publish call.
type PublishedDoc struct {
	Channel string
	Key     string
	Doc     any
}

// MockSinkPublisher is a mock implementation of domain.SinkPublisher for testing.
type MockSinkPublisher struct {
	mu         sync.Mutex
	Published  []PublishedDoc
	PublishErr error

	// FailChannels causes Publish to return PublishErr only for these channels.
	FailChannels map[string]bool
}

func (m *MockSinkPublisher) Publish(ctx context.Context, channel, key string, doc any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil && (m.FailChannels == nil || m.FailChannels[channel]) {
		return m.PublishErr
	}
	m.Published = append(m.Published, PublishedDoc{Channel: channel, Key: key, Doc: doc})
	return nil
}

// OnChannel returns all docs published to the given channel.
func (m *MockSinkPublisher) OnChannel(channel string) []PublishedDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedDoc
	for _, p := range m.Published {
		if p.Channel == channel {
			out = append(out, p)
		}
	}
	return out
}

// MockDeadLetterSink is a mock implementation of domain.DeadLetterSink.
type MockDeadLetterSink struct {
	mu         sync.Mutex
	Captured   []domain.DeadLetterRecord
	CaptureErr error
}

func (m *MockDeadLetterSink) Capture(ctx context.Context, rec domain.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CaptureErr != nil {
		return m.CaptureErr
	}
	m.Captured = append(m.Captured, rec)
	return nil
}

// Records returns a copy of the captured dead-letter records.
func (m *MockDeadLetterSink) Records() []domain.DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.DeadLetterRecord, len(m.Captured))
	copy(out, m.Captured)
	return out
}

// MockTransactionStream is a mock implementation of domain.TransactionStream.
type MockTransactionStream struct {
	mu              sync.Mutex
	Batches         [][]domain.StreamMessage
	ReadErr         error
	AckErr          error
	AckedMessageIDs []string
}

func (m *MockTransactionStream) ReadBatch(ctx context.Context, count int) ([]domain.StreamMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	if len(m.Batches) == 0 {
		return nil, nil
	}
	batch := m.Batches[0]
	m.Batches = m.Batches[1:]
	return batch, nil
}

func (m *MockTransactionStream) Acknowledge(ctx context.Context, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

// MockDeadLetterStream is a mock implementation of domain.DeadLetterStream.
type MockDeadLetterStream struct {
	mu              sync.Mutex
	ReadBatchResult []domain.DeadLetterRecord
	ReadErr         error
	AckErr          error
	AckedMessageIDs []string
}

func (m *MockDeadLetterStream) ReadBatch(ctx context.Context, count int) ([]domain.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReadErr != nil {
		return nil, m.ReadErr
	}
	out := m.ReadBatchResult
	m.ReadBatchResult = nil
	return out, nil
}

func (m *MockDeadLetterStream) Acknowledge(ctx context.Context, messageIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.AckedMessageIDs = append(m.AckedMessageIDs, messageIDs...)
	return nil
}

// MockDeadLetterArchive is a mock implementation of domain.DeadLetterArchive.
type MockDeadLetterArchive struct {
	mu         sync.Mutex
	Archived   []domain.DeadLetterRecord
	ArchiveErr error
}

func (m *MockDeadLetterArchive) ArchiveBatch(ctx context.Context, recs []domain.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ArchiveErr != nil {
		return m.ArchiveErr
	}
	m.Archived = append(m.Archived, recs...)
	return nil
}
