package pg

import (
	"context"

	"matchbase.io/internal/attachment"
)

func (s *Store) InsertAttachment(ctx context.Context, a attachment.Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into summary_attachments (id, summary_id, object_key, file_name, content_type, size, uploaded_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.SummaryID, a.Key, a.FileName, a.ContentType, a.Size, a.UploadedBy, a.CreatedAt)
	return mapErr(err, "insert attachment")
}

func (s *Store) AttachmentsBySummary(ctx context.Context, summaryID string) ([]attachment.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, summary_id, object_key, file_name, content_type, size, uploaded_by, created_at
		from summary_attachments
		where summary_id = $1
		order by created_at, id
	`, summaryID)
	if err != nil {
		return nil, mapErr(err, "select attachments")
	}
	defer rows.Close()
	var out []attachment.Attachment
	for rows.Next() {
		var a attachment.Attachment
		if err := rows.Scan(&a.ID, &a.SummaryID, &a.Key, &a.FileName, &a.ContentType, &a.Size, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, mapErr(err, "scan attachment")
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err(), "iterate attachments")
}
