package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/harvester/internal/core/domain"
)

// ArchiveRepo implements storage.ArchiveRepository on PostgreSQL.
type ArchiveRepo struct {
	db *DB
}

// NewArchiveRepo creates a PostgreSQL archive repository.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// SaveMessages upserts one page of messages. Re-exports of the same
// range overwrite rather than duplicate.
func (r *ArchiveRepo) SaveMessages(ctx context.Context, target string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO messages (
			target, message_id, peer_id, sender_id, message_date,
			message_text, attachment_id, attachment_name, attachment_size
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (target, message_id) DO UPDATE SET
			message_text = EXCLUDED.message_text,
			attachment_id = EXCLUDED.attachment_id,
			attachment_name = EXCLUDED.attachment_name,
			attachment_size = EXCLUDED.attachment_size
	`

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, msg := range msgs {
		var attID, attName *string
		var attSize *int64
		if msg.Attachment != nil {
			attID = &msg.Attachment.RemoteID
			attName = &msg.Attachment.Name
			attSize = &msg.Attachment.Size
		}

		_, err := stmt.ExecContext(ctx,
			target,
			int64(msg.ID),
			int64(msg.PeerID),
			int64(msg.SenderID),
			msg.Date,
			msg.Text,
			attID,
			attName,
			attSize,
		)
		if err != nil {
			return fmt.Errorf("failed to save message %d: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

// SaveJob records a finished export job summary.
func (r *ArchiveRepo) SaveJob(ctx context.Context, job *domain.JobRecord) error {
	query := `
		INSERT INTO export_jobs (
			id, target, items, shard_count, failed_shards,
			status, started_at, finished_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.Target,
		job.Items,
		job.ShardCount,
		job.FailedShards,
		string(job.Status),
		job.StartedAt,
		job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// CountMessages returns the number of archived messages for target.
func (r *ArchiveRepo) CountMessages(ctx context.Context, target string) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE target = $1`, target)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (r *ArchiveRepo) Close() error {
	return r.db.Close()
}
