// Package storage defines the archive contracts the fetch engine
// writes through. The engine itself does not care which backend is
// behind them.
package storage

import (
	"context"

	"github.com/vietddude/harvester/internal/core/domain"
)

// ArchiveRepository persists exported messages and job summaries.
type ArchiveRepository interface {
	// SaveMessages stores one shard's page of messages for target.
	SaveMessages(ctx context.Context, target string, msgs []domain.Message) error

	// SaveJob records a finished export job.
	SaveJob(ctx context.Context, job *domain.JobRecord) error

	// CountMessages returns how many messages are archived for target.
	CountMessages(ctx context.Context, target string) (int64, error)

	// Close releases the backend.
	Close() error
}
