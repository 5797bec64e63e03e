package s3

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"mediarepo/internal/storage"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func init() {
	storage.Register("s3", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse s3 provider config: %w", err)
		}
		return New(ctx, cfg)
	})
}

// Config 包含 S3/MinIO 后端所需的配置。
type Config struct {
	Endpoint  string `json:"endpoint"` // 不含协议，如 "localhost:9000" 或 "s3.amazonaws.com"
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	UseSSL    bool   `json:"use_ssl"`
}

// Backend 使用 S3 兼容存储保存媒体副本。
type Backend struct {
	client *minio.Client
	bucket string
}

// New 创建 S3 后端实例，bucket 不存在则创建。
func New(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{
			Region: cfg.Region,
		}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Backend{client: client, bucket: cfg.Bucket}, nil
}

// Store 把本地缓存副本上传为对象，key 即寻址相对路径。
func (b *Backend) Store(ctx context.Context, info storage.FileInfo, localPath string) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("s3 backend uninitialized")
	}

	key := path.Clean(storage.RelativeFilePath(info))
	_, err := b.client.FPutObject(ctx, b.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Fetch 按寻址路径读取对象，对象不存在时返回 (nil, nil)。
func (b *Backend) Fetch(ctx context.Context, p string, info storage.FileInfo) (storage.Responder, error) {
	if b == nil || b.client == nil {
		return nil, fmt.Errorf("s3 backend uninitialized")
	}

	key := path.Clean(p)
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}

	// GetObject 是惰性的，Stat 确认对象确实存在
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	return storage.NewReaderResponder(obj), nil
}
