package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mediarepo/internal/storage"
)

func init() {
	storage.Register("file", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var cfg Config
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse file provider config: %w", err)
			}
		}
		return New(cfg.Directory)
	})
}

// Config 是文件系统后端的配置。
type Config struct {
	Directory string `json:"directory"`
}

// Backend 把内容副本存放在独立基目录下的文件系统后端，
// 目录布局与本地缓存一致，由寻址函数统一决定。
type Backend struct {
	baseDir string
}

func New(baseDir string) (*Backend, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("file provider requires a directory")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base dir: %w", err)
	}
	return &Backend{baseDir: baseDir}, nil
}

// Store 把本地缓存副本复制进基目录。
func (b *Backend) Store(ctx context.Context, info storage.FileInfo, localPath string) error {
	if b == nil {
		return fmt.Errorf("file backend uninitialized")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local copy: %w", err)
	}
	defer src.Close()

	targetPath := filepath.Join(b.baseDir, filepath.FromSlash(storage.RelativeFilePath(info)))
	return storage.WriteFileAtomic(targetPath, src)
}

// Fetch 打开基目录下的副本，不存在时返回 (nil, nil)。
func (b *Backend) Fetch(ctx context.Context, path string, info storage.FileInfo) (storage.Responder, error) {
	if b == nil {
		return nil, fmt.Errorf("file backend uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	targetPath := filepath.Join(b.baseDir, filepath.FromSlash(path))
	file, err := os.Open(targetPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return storage.NewReaderResponder(file), nil
}
