package transport

import (
	"context"

	"github.com/nhirsama/goster-zk/src/inter"
)

// Options 影响传输方式选择的连接参数
type Options struct {
	ForceUDP bool
	OmitPing bool
}

// Select 决定本次连接使用 TCP 还是 UDP
// ping 失败时返回 inter.ErrUnreachable，调用方不应打开任何套接字
func Select(ctx context.Context, p inter.Prober, host string, port int, opts Options) (inter.TransportKind, error) {
	if !opts.OmitPing && !p.Ping(ctx, host) {
		return inter.TransportTCP, inter.ErrUnreachable
	}
	if !opts.ForceUDP && p.ProbeTCP(ctx, host, port) == 0 {
		return inter.TransportTCP, nil
	}
	return inter.TransportUDP, nil
}
