package logging

import "go.uber.org/zap"

// New 构建结构化日志器，输出 JSON 到标准输出。
func New() *zap.Logger {
	return zap.Must(zap.NewProduction())
}
