package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Policy 约束单个后端参与写入的方式，绑定后不再变化。
// 读取不受策略限制：任何配置的后端都可以响应读。
type Policy struct {
	// StoreLocal 为真时本地产生的媒体写入该后端。
	StoreLocal bool
	// StoreRemote 为真时远端来源的媒体写入该后端。
	StoreRemote bool
	// StoreSynchronous 为真时写入阻塞请求，否则在后台尽力完成。
	StoreSynchronous bool
}

// Wrapper 在原始后端外套上策略、日志与指标，编排层只与 Wrapper 交互。
type Wrapper struct {
	name    string
	backend Provider
	policy  Policy
	logger  *zap.Logger

	tasks sync.WaitGroup
}

func NewWrapper(name string, backend Provider, policy Policy, logger *zap.Logger) *Wrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Wrapper{name: name, backend: backend, policy: policy, logger: logger}
}

// Name 返回该后端在配置中的模块名。
func (w *Wrapper) Name() string {
	return w.name
}

// Store 按策略决定是否、以何种方式把本地副本写入后端。
// 异步写入脱离请求上下文运行，失败只记日志，绝不回滚已落盘的本地副本。
func (w *Wrapper) Store(ctx context.Context, info FileInfo, localPath string) error {
	if info.Remote() {
		if !w.policy.StoreRemote {
			return nil
		}
	} else if !w.policy.StoreLocal {
		return nil
	}

	if w.policy.StoreSynchronous {
		if err := w.backend.Store(ctx, info, localPath); err != nil {
			providerStoreFailures.WithLabelValues(w.name, "sync").Inc()
			return err
		}
		return nil
	}

	w.tasks.Add(1)
	go func() {
		defer w.tasks.Done()
		if err := w.backend.Store(context.Background(), info, localPath); err != nil {
			providerStoreFailures.WithLabelValues(w.name, "async").Inc()
			w.logger.Warn("后台写入存储后端失败",
				zap.String("provider", w.name),
				zap.String("media_id", info.MediaID),
				zap.Error(err))
		}
	}()
	return nil
}

// Fetch 原样转发给后端，策略不参与读路径。
func (w *Wrapper) Fetch(ctx context.Context, path string, info FileInfo) (Responder, error) {
	responder, err := w.backend.Fetch(ctx, path, info)
	if err == nil && responder != nil {
		providerFetchHits.WithLabelValues(w.name).Inc()
	}
	return responder, err
}

// Wait 阻塞直到全部后台写入结束，用于进程退出前排空任务。
func (w *Wrapper) Wait() {
	w.tasks.Wait()
}
