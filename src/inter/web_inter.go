package inter

import "context"

// WebServer 对外提供终端状态与同步结果的 JSON 接口
type WebServer interface {
	// Start 启动 HTTP 服务，ctx 结束时优雅关闭 (阻塞调用)
	Start(ctx context.Context) error
}
