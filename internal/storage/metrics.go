package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// providerStoreFailures 按后端与写入模式统计写入失败次数
	providerStoreFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_provider_store_failures_total",
			Help: "Total number of failed provider store operations",
		},
		[]string{"provider", "mode"},
	)

	// providerFetchHits 统计由各后端命中的读取次数
	providerFetchHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_provider_fetch_hits_total",
			Help: "Total number of media fetches served by a provider",
		},
		[]string{"provider"},
	)

	// providerRejections 统计配置加载时被拒绝的后端声明
	providerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_provider_rejections_total",
		Help: "Total number of provider declarations rejected at load time",
	})
)
