// Package queue dispatches search-history writes off the request path.
package queue

import (
	"context"
	"errors"

	"heartsearch/pkg/domain"
)

// ErrQueueFull is returned when the in-process buffer has no room.
var ErrQueueFull = errors.New("history queue full")

// Handler persists one history entry. Its error is logged, never retried.
type Handler func(ctx context.Context, entry domain.SearchHistoryEntry) error

// HistoryQueue accepts history entries for asynchronous persistence.
type HistoryQueue interface {
	Enqueue(ctx context.Context, entry domain.SearchHistoryEntry) error
}
