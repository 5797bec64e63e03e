package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediarepo/internal/repository"
	"mediarepo/internal/storage"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrNotFound 表示本地缓存与全部后端都没有这份内容。
var ErrNotFound = errors.New("service: media content not found")

// cacheFills 统计后端命中后回填本地缓存的次数
var cacheFills = promauto.NewCounter(prometheus.CounterOpts{
	Name: "media_cache_fills_total",
	Help: "Total number of provider hits written back into the local cache",
})

// MediaStorage 是媒体读写的统一入口：写入先落本地缓存再按策略
// 分发到各后端；读取本地优先，未命中时按配置顺序询问后端。
type MediaStorage struct {
	repo      repository.MediaRepository
	basePath  string
	providers []*storage.Wrapper
	logger    *zap.Logger
}

func NewMediaStorage(repo repository.MediaRepository, basePath string, providers []*storage.Wrapper, logger *zap.Logger) *MediaStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MediaStorage{
		repo:      repo,
		basePath:  basePath,
		providers: providers,
		logger:    logger,
	}
}

// CreateContent 写入上传内容并返回新生成的媒体标识。
// 本地写入失败则整个上传失败；同步后端写入失败只降级为告警，
// 本地副本此时已经落盘，标识依然有效。
func (s *MediaStorage) CreateContent(ctx context.Context, mediaType, uploadName string, content io.Reader, mediaLength int64, userID string) (string, error) {
	if s == nil || s.repo == nil {
		return "", errors.New("media storage not initialized")
	}
	if content == nil {
		return "", fmt.Errorf("content reader is required")
	}

	mediaID := newMediaID()
	info := storage.FileInfo{MediaID: mediaID}
	localPath := s.localPath(info)

	if err := storage.WriteFileAtomic(localPath, content); err != nil {
		return "", fmt.Errorf("write local cache: %w", err)
	}

	record := &repository.MediaRecord{
		MediaID:     mediaID,
		MediaType:   mediaType,
		MediaLength: mediaLength,
		UploadName:  uploadName,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("record media metadata: %w", err)
	}

	for _, p := range s.providers {
		if err := p.Store(ctx, info, localPath); err != nil {
			s.logger.Warn("存储后端写入失败，本地副本不受影响",
				zap.String("provider", p.Name()),
				zap.String("media_id", mediaID),
				zap.Error(err))
		}
	}

	return mediaID, nil
}

// GetMetadata 返回媒体元数据，未登记的标识返回 repository.ErrNotFound。
func (s *MediaStorage) GetMetadata(ctx context.Context, mediaID string) (*repository.MediaRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("media storage not initialized")
	}
	return s.repo.GetByID(ctx, mediaID)
}

// ListMedia 以分页形式列出某个上传者的媒体。
func (s *MediaStorage) ListMedia(ctx context.Context, params repository.ListMediaParams) ([]repository.MediaRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("media storage not initialized")
	}
	return s.repo.List(ctx, params)
}

// FetchLocalOrRemote 解析媒体内容。本地缓存最便宜，先查；未命中时
// 按配置顺序逐个询问后端，第一个命中即胜出。后端命中的内容在流出
// 时旁路回填进本地缓存，后续读取不再经过后端。回填是尽力而为的：
// 缓存写失败只记告警，本次读取照常完成。都未命中返回 ErrNotFound。
func (s *MediaStorage) FetchLocalOrRemote(ctx context.Context, mediaID string) (storage.Responder, error) {
	if s == nil {
		return nil, errors.New("media storage not initialized")
	}

	info := storage.FileInfo{MediaID: mediaID}
	rel := storage.RelativeFilePath(info)
	localPath := s.localPath(info)

	if file, err := os.Open(localPath); err == nil {
		return storage.NewReaderResponder(file), nil
	} else if !os.IsNotExist(err) {
		// 缓存不可读不算致命，后端仍可能给出内容
		s.logger.Warn("本地缓存打开失败，转向后端",
			zap.String("media_id", mediaID),
			zap.Error(err))
	}

	for _, p := range s.providers {
		responder, err := p.Fetch(ctx, rel, info)
		if err != nil {
			s.logger.Warn("后端读取失败，尝试下一个",
				zap.String("provider", p.Name()),
				zap.String("media_id", mediaID),
				zap.Error(err))
			continue
		}
		if responder == nil {
			continue
		}

		return &cacheFillResponder{
			inner:     responder,
			localPath: localPath,
			mediaID:   mediaID,
			logger:    s.logger,
		}, nil
	}

	return nil, ErrNotFound
}

// Wait 排空全部后端的后台写入，供进程退出前调用。
func (s *MediaStorage) Wait() {
	for _, p := range s.providers {
		p.Wait()
	}
}

func (s *MediaStorage) localPath(info storage.FileInfo) string {
	return filepath.Join(s.basePath, filepath.FromSlash(storage.RelativeFilePath(info)))
}

// cacheFillResponder 把后端内容转发给调用方，同时旁路写一份进本地
// 缓存。缓存失败不污染主流：内容照常送达，只丢掉这次回填机会。
type cacheFillResponder struct {
	inner     storage.Responder
	localPath string
	mediaID   string
	logger    *zap.Logger
}

func (c *cacheFillResponder) Stream(w io.Writer) error {
	sink, err := newCacheSink(c.localPath)
	if err != nil {
		c.logger.Warn("缓存回填失败",
			zap.String("media_id", c.mediaID),
			zap.Error(err))
		return c.inner.Stream(w)
	}

	if err := c.inner.Stream(io.MultiWriter(w, sink)); err != nil {
		sink.abort()
		return err
	}

	if err := sink.commit(); err != nil {
		c.logger.Warn("缓存回填失败",
			zap.String("media_id", c.mediaID),
			zap.Error(err))
		return nil
	}
	cacheFills.Inc()
	return nil
}

func (c *cacheFillResponder) Close() error {
	return c.inner.Close()
}

// cacheSink 把流经的字节攒进临时文件，提交时原子改名落位。
// 它的 Write 永不报错，底层写失败只记下状态让主流继续。
type cacheSink struct {
	file     *os.File
	target   string
	writeErr error
}

func newCacheSink(targetPath string) (*cacheSink, error) {
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	file, err := os.CreateTemp(dir, filepath.Base(targetPath)+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &cacheSink{file: file, target: targetPath}, nil
}

func (s *cacheSink) Write(p []byte) (int, error) {
	if s.writeErr == nil {
		if _, err := s.file.Write(p); err != nil {
			s.writeErr = err
		}
	}
	return len(p), nil
}

func (s *cacheSink) commit() error {
	if s.writeErr != nil {
		s.abort()
		return fmt.Errorf("write temp file: %w", s.writeErr)
	}
	if err := s.file.Sync(); err != nil {
		s.abort()
		return fmt.Errorf("sync file: %w", err)
	}
	name := s.file.Name()
	if err := s.file.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(name, s.target); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *cacheSink) abort() {
	name := s.file.Name()
	s.file.Close()
	os.Remove(name)
}

// newMediaID 生成不带连字符的随机标识，保持扇出目录为纯十六进制。
func newMediaID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
