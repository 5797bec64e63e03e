package storage

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// ProviderConfig 是一条来自配置的存储后端声明。
type ProviderConfig struct {
	Module           string          `json:"module"`
	StoreLocal       bool            `json:"store_local"`
	StoreRemote      bool            `json:"store_remote"`
	StoreSynchronous bool            `json:"store_synchronous"`
	Config           json.RawMessage `json:"config"`
}

// Factory 按后端自身的配置构造实例。返回值在加载时做能力校验，
// 不满足 Provider 契约的实例会被拒绝。
type Factory func(ctx context.Context, config json.RawMessage) (any, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register 登记一个后端模块。内置后端在各自包的 init 中注册，
// 使用方通过空白导入引入，与 database/sql 驱动注册同一套路。
func Register(module string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[module] = factory
}

func lookupFactory(module string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[module]
	return factory, ok
}

// BuildProviders 按配置顺序实例化后端并做一次性的能力校验。
// 被拒绝的后端只记日志并跳过，进程继续运行；返回的 complete 为假时，
// 依赖完整后端链的特性（联邦媒体端点）应当整体降级而不是半开。
func BuildProviders(ctx context.Context, configs []ProviderConfig, logger *zap.Logger) (wrappers []*Wrapper, complete bool) {
	if logger == nil {
		logger = zap.NewNop()
	}

	complete = true
	for _, pc := range configs {
		factory, ok := lookupFactory(pc.Module)
		if !ok {
			providerRejections.Inc()
			complete = false
			logger.Error("未知的存储后端模块", zap.String("module", pc.Module))
			continue
		}

		instance, err := factory(ctx, pc.Config)
		if err != nil {
			providerRejections.Inc()
			complete = false
			logger.Error("存储后端初始化失败", zap.String("module", pc.Module), zap.Error(err))
			continue
		}

		backend, ok := instance.(Provider)
		if !ok {
			providerRejections.Inc()
			complete = false
			logger.Error("存储后端不满足能力契约，已拒绝",
				zap.String("module", pc.Module))
			continue
		}

		policy := Policy{
			StoreLocal:       pc.StoreLocal,
			StoreRemote:      pc.StoreRemote,
			StoreSynchronous: pc.StoreSynchronous,
		}
		wrappers = append(wrappers, NewWrapper(pc.Module, backend, policy, logger))
	}

	return wrappers, complete
}
