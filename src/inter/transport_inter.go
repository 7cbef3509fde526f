package inter

import (
	"context"
	"time"
)

// TransportKind 传输方式
type TransportKind int

const (
	TransportTCP TransportKind = iota
	TransportUDP
)

func (k TransportKind) String() string {
	if k == TransportUDP {
		return "udp"
	}
	return "tcp"
}

// Transport 定义了原始套接字的最小操作集
// UDP 使用已连接的数据报套接字，因此收发与 TCP 共用同一接口
type Transport interface {
	Send(b []byte) error
	// Recv 读取最多 max 字节；UDP 下一次返回一个完整数据报
	Recv(max int) ([]byte, error)
	SetTimeout(d time.Duration) error
	Close() error
	Kind() TransportKind
}

// Prober 主机可达性探测
type Prober interface {
	// Ping ICMP 探测，返回主机是否响应
	Ping(ctx context.Context, host string) bool
	// ProbeTCP 尝试建立 TCP 连接，0 表示端口可连，否则为错误码
	ProbeTCP(ctx context.Context, host string, port int) int
}

// Dialer 按选定的方式打开传输
type Dialer func(ctx context.Context, kind TransportKind, host string, port int, timeout time.Duration) (Transport, error)
