package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mediarepo/internal/repository"
)

// NewMediaRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// MediaRepository 实现 repository.MediaRepository。
type MediaRepository struct {
	db *sql.DB
}

var mediaSelectColumns = []string{
	"media_id",
	"media_type",
	"media_length",
	"upload_name",
	"user_id",
	"created_at",
}

var mediaInsertColumns = []string{
	"media_id",
	"media_type",
	"media_length",
	"upload_name",
	"user_id",
	"created_at",
}

// Create 插入媒体记录并返回数据库视角的最终字段。
func (r *MediaRepository) Create(ctx context.Context, record *repository.MediaRecord) (*repository.MediaRecord, error) {
	if record == nil {
		return nil, fmt.Errorf("media record is nil")
	}

	placeholders := make([]string, len(mediaInsertColumns))
	for i := range mediaInsertColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO media (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(mediaInsertColumns, ","),
		strings.Join(placeholders, ","),
		strings.Join(mediaSelectColumns, ","),
	)

	row := r.db.QueryRowContext(
		ctx,
		query,
		record.MediaID,
		record.MediaType,
		record.MediaLength,
		record.UploadName,
		record.UserID,
		record.CreatedAt,
	)

	return scanMediaRecord(row)
}

// GetByID 通过媒体标识查询元数据。
func (r *MediaRepository) GetByID(ctx context.Context, mediaID string) (*repository.MediaRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM media WHERE media_id = $1`, strings.Join(mediaSelectColumns, ","))
	row := r.db.QueryRowContext(ctx, query, mediaID)
	record, err := scanMediaRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// List 按上传者过滤并分页。
func (r *MediaRepository) List(ctx context.Context, params repository.ListMediaParams) ([]repository.MediaRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	args := make([]any, 0, 3)
	whereClause := ""
	if params.UserID != "" {
		args = append(args, params.UserID)
		whereClause = fmt.Sprintf("WHERE user_id = $%d", len(args))
	}

	args = append(args, limit)
	tail := fmt.Sprintf("ORDER BY created_at DESC LIMIT $%d", len(args))

	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM media %s %s`, strings.Join(mediaSelectColumns, ","), whereClause, tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.MediaRecord
	for rows.Next() {
		rec, err := scanMediaRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMediaRecord(rs rowScanner) (*repository.MediaRecord, error) {
	var rec repository.MediaRecord

	if err := rs.Scan(
		&rec.MediaID,
		&rec.MediaType,
		&rec.MediaLength,
		&rec.UploadName,
		&rec.UserID,
		&rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	return &rec, nil
}
