package storage

import (
	"context"
	"errors"
	"io"
)

// ErrConsumed 表示 Responder 已被消费过，内容流只允许读取一次。
var ErrConsumed = errors.New("storage: responder already consumed")

// FileInfo 描述一份待存取内容的寻址信息。
// MediaID、Server 与 Variant 三者相同的 FileInfo 永远解析到同一路径。
type FileInfo struct {
	MediaID string
	// Server 是远端媒体的归属服务器名，本地媒体为空。
	Server string
	// Variant 区分同一媒体的变体（如缩略图参数），原始内容为空。
	Variant string
}

// Remote 报告该内容是否来自其他服务器。
func (f FileInfo) Remote() bool {
	return f.Server != ""
}

// Responder 是一次性的内容流句柄：Stream 最多调用一次，
// 无论消费成功、中断或出错，都必须调用 Close 释放底层资源。
type Responder interface {
	// Stream 将全部内容写入 w。
	Stream(w io.Writer) error
	// Close 释放底层资源，可重复调用。
	Close() error
}

// Provider 定义可插拔存储后端必须实现的能力契约。
type Provider interface {
	// Store 将本地缓存中 localPath 的内容复制进该后端。
	Store(ctx context.Context, info FileInfo, localPath string) error
	// Fetch 按寻址路径读取内容，内容不存在时返回 (nil, nil)。
	Fetch(ctx context.Context, path string, info FileInfo) (Responder, error)
}

// NewReaderResponder 把一个已打开的读取流包装为 Responder。
func NewReaderResponder(rc io.ReadCloser) Responder {
	return &readerResponder{rc: rc}
}

type readerResponder struct {
	rc       io.ReadCloser
	consumed bool
	closed   bool
}

func (r *readerResponder) Stream(w io.Writer) error {
	if r.consumed {
		return ErrConsumed
	}
	r.consumed = true
	_, err := io.Copy(w, r.rc)
	return err
}

func (r *readerResponder) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.rc.Close()
}
