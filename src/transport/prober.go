package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// probeFailed 非 errno 类错误时 ProbeTCP 的返回值
const probeFailed = -1

type prober struct {
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewProber 创建基于 ICMP echo 与 TCP 握手的可达性探测器
func NewProber(timeout time.Duration, log logrus.FieldLogger) inter.Prober {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &prober{timeout: timeout, log: log}
}

func (p *prober) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(p.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// listenICMP 优先使用非特权的 ICMP 数据报套接字，失败时退回原始套接字
func listenICMP() (*icmp.PacketConn, bool, error) {
	if c, err := icmp.ListenPacket("udp4", "0.0.0.0"); err == nil {
		return c, true, nil
	}
	c, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	return c, false, err
}

func (p *prober) Ping(ctx context.Context, host string) bool {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		p.log.WithError(err).WithField("host", host).Debug("Prober: 解析主机失败")
		return false
	}
	var ip net.IP
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			ip = v4
			break
		}
	}
	if ip == nil {
		return false
	}

	conn, datagram, err := listenICMP()
	if err != nil {
		p.log.WithError(err).Warn("Prober: 无法创建 ICMP 套接字")
		return false
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: os.Getpid() & 0xffff, Seq: 1, Data: []byte("goster-zk")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if datagram {
		dst = &net.UDPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		p.log.WithError(err).WithField("host", host).Debug("Prober: 发送 echo 失败")
		return false
	}

	if err := conn.SetReadDeadline(p.deadline(ctx)); err != nil {
		return false
	}
	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			return false
		}
		rm, err := icmp.ParseMessage(ipv4.ICMPTypeEcho.Protocol(), rb[:n])
		if err != nil {
			continue
		}
		if rm.Type == ipv4.ICMPTypeEchoReply && peerIP(peer).Equal(ip) {
			return true
		}
	}
}

func peerIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

func (p *prober) ProbeTCP(ctx context.Context, host string, port int) int {
	d := net.Dialer{Deadline: p.deadline(ctx)}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err == nil {
		conn.Close()
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return probeFailed
}
