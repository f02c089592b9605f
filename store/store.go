// Package store defines the storage interface and implementations for the
// stream transcript archive.
package store

import (
	"context"

	"github.com/KarimAziev/elfai/domain"
)

// Store defines the interface for transcript persistence.
type Store interface {
	// Stream operations
	CreateStream(ctx context.Context, stream *domain.Stream) error
	GetStream(ctx context.Context, streamID string) (*domain.Stream, error)
	ListStreams(ctx context.Context, documentID string, limit int) ([]domain.Stream, error)
	UpdateStreamStatus(ctx context.Context, streamID string, status domain.StreamStatus) error
	UpdateStreamCompleted(ctx context.Context, streamID string, status domain.StreamStatus, errData []byte) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.StreamMessage) error
	GetMessages(ctx context.Context, streamID string, limit int) ([]domain.StreamMessage, error)

	// Event operations
	CreateEvent(ctx context.Context, event *domain.Event) error
	GetEvents(ctx context.Context, streamID string, afterTs int64, types []string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}
