package repository

import (
	"context"
	"time"
)

// MediaRecord 代表一条媒体元数据。媒体标识在上传时生成，此后不可变；
// 本子系统除创建外不修改这些字段。
type MediaRecord struct {
	MediaID     string    `json:"media_id"`
	MediaType   string    `json:"media_type"`
	MediaLength int64     `json:"media_length"`
	UploadName  string    `json:"upload_name"`
	UserID      string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListMediaParams 用于按上传者分页检索媒体。
type ListMediaParams struct {
	UserID string
	Limit  int
	Offset int
}

// MediaRepository 统一媒体元数据持久层接口。
type MediaRepository interface {
	Create(ctx context.Context, record *MediaRecord) (*MediaRecord, error)
	GetByID(ctx context.Context, mediaID string) (*MediaRecord, error)
	List(ctx context.Context, params ListMediaParams) ([]MediaRecord, error)
}
