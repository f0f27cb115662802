// Package memory provides an in-memory archive, used when no database
// is configured and as a test double.
package memory

import (
	"context"
	"sync"

	"github.com/vietddude/harvester/internal/core/domain"
)

// Archive implements storage.ArchiveRepository in memory.
type Archive struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	jobs     []domain.JobRecord
}

// NewArchive creates an empty in-memory archive.
func NewArchive() *Archive {
	return &Archive{messages: make(map[string][]domain.Message)}
}

func (a *Archive) SaveMessages(ctx context.Context, target string, msgs []domain.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[target] = append(a.messages[target], msgs...)
	return nil
}

func (a *Archive) SaveJob(ctx context.Context, job *domain.JobRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, *job)
	return nil
}

func (a *Archive) CountMessages(ctx context.Context, target string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.messages[target])), nil
}

// Jobs returns a copy of all recorded job summaries.
func (a *Archive) Jobs() []domain.JobRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.JobRecord, len(a.jobs))
	copy(out, a.jobs)
	return out
}

func (a *Archive) Close() error {
	return nil
}
