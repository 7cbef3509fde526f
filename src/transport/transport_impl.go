package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
)

// connTransport 基于 net.Conn 的 TCP / 已连接 UDP 传输
type connTransport struct {
	conn    net.Conn
	kind    inter.TransportKind
	timeout time.Duration
}

// Dial 按选定方式连接终端，满足 inter.Dialer
func Dial(ctx context.Context, kind inter.TransportKind, host string, port int, timeout time.Duration) (inter.Transport, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, kind.String(), net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("%w: 连接 %s:%d 失败: %v", inter.ErrNetwork, host, port, err)
	}
	return NewConnTransport(conn, kind, timeout), nil
}

// NewConnTransport 包装一个已建立的连接
func NewConnTransport(conn net.Conn, kind inter.TransportKind, timeout time.Duration) inter.Transport {
	return &connTransport{conn: conn, kind: kind, timeout: timeout}
}

func (c *connTransport) Send(b []byte) error {
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("%w: %v", inter.ErrNetwork, err)
		}
	}
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("%w: 发送失败: %w", inter.ErrNetwork, err)
	}
	return nil
}

func (c *connTransport) Recv(max int) ([]byte, error) {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", inter.ErrNetwork, err)
		}
	}
	buf := make([]byte, max)
	n, err := c.conn.Read(buf)
	if n == 0 && err == nil {
		return nil, fmt.Errorf("%w: 对端未返回数据", inter.ErrNetwork)
	}
	if err != nil && n == 0 {
		return nil, fmt.Errorf("%w: 接收失败: %w", inter.ErrNetwork, err)
	}
	return buf[:n], nil
}

func (c *connTransport) SetTimeout(d time.Duration) error {
	c.timeout = d
	return nil
}

func (c *connTransport) Close() error {
	return c.conn.Close()
}

func (c *connTransport) Kind() inter.TransportKind {
	return c.kind
}
