package terminal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/protocol"
	"github.com/nhirsama/goster-zk/src/transport"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultChunkRetries = 3
)

// Config 单条终端会话的连接参数
type Config struct {
	Host         string
	Port         int
	Password     uint32
	ForceUDP     bool
	OmitPing     bool
	Timeout      time.Duration
	ChunkRetries int
}

// Terminal 表示一条到考勤终端的会话，持有唯一的传输
// 公共方法之间互斥，同一会话上的请求严格串行
type Terminal struct {
	cfg    Config
	prober inter.Prober
	dial   inter.Dialer
	codec  inter.ProtocolCodec
	log    logrus.FieldLogger

	mu        sync.Mutex
	link      *link
	active    atomic.Pointer[link]
	state     inter.SessionState
	sessionID uint16
	replyID   uint16

	sizes      inter.DeviceSizes
	userWidth  int
	nextUID    uint16
	nextUserID string
	live       bool
}

var _ inter.Terminal = (*Terminal)(nil)

type Option func(*Terminal)

// WithProber 替换可达性探测器
func WithProber(p inter.Prober) Option {
	return func(t *Terminal) { t.prober = p }
}

// WithDialer 替换传输的建立方式
func WithDialer(d inter.Dialer) Option {
	return func(t *Terminal) { t.dial = d }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(t *Terminal) { t.log = l }
}

// New 创建一个尚未连接的终端会话
func New(cfg Config, opts ...Option) *Terminal {
	if cfg.Port == 0 {
		cfg.Port = inter.DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ChunkRetries < 0 {
		cfg.ChunkRetries = 0
	} else if cfg.ChunkRetries == 0 {
		cfg.ChunkRetries = DefaultChunkRetries
	}

	t := &Terminal{
		cfg:        cfg,
		dial:       transport.Dial,
		codec:      protocol.NewZKCodec(),
		replyID:    inter.InitialReplyID,
		nextUID:    1,
		nextUserID: "1",
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logrus.StandardLogger()
	}
	t.log = t.log.WithField("terminal", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if t.prober == nil {
		t.prober = transport.NewProber(cfg.Timeout, t.log)
	}
	return t
}

// State 当前会话状态
func (t *Terminal) State() inter.SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SessionID 当前会话号，未连接时为 0
func (t *Terminal) SessionID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Sizes 最近一次 ReadSizes 的结果
func (t *Terminal) Sizes() inter.DeviceSizes {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sizes
}

// Connect 选择传输方式、建立会话，必要时使用口令认证
func (t *Terminal) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == inter.StateConnected {
		return nil
	}
	t.state = inter.StateConnecting

	kind, err := transport.Select(ctx, t.prober, t.cfg.Host, t.cfg.Port, transport.Options{
		ForceUDP: t.cfg.ForceUDP,
		OmitPing: t.cfg.OmitPing,
	})
	if err != nil {
		t.state = inter.StateDisconnected
		return err
	}

	tr, err := t.dial(ctx, kind, t.cfg.Host, t.cfg.Port, t.cfg.Timeout)
	if err != nil {
		t.state = inter.StateDisconnected
		return err
	}
	t.link = newLink(tr, t.codec)
	t.active.Store(t.link)
	t.sessionID = 0
	t.replyID = inter.InitialReplyID

	resp, err := t.exchange(inter.CmdConnect, nil)
	if err != nil {
		t.teardown()
		return err
	}
	t.sessionID = resp.SessionID

	if resp.Command == inter.CmdAckUnauth {
		t.state = inter.StateUnauthenticated
		t.log.WithField("session", resp.SessionID).Debug("Terminal: 终端要求口令认证")

		t.state = inter.StateAuthenticating
		resp, err = t.exchange(inter.CmdAuth, protocol.MakeCommKey(t.cfg.Password, t.sessionID, protocol.DefaultTicks))
		if err != nil {
			t.teardown()
			return err
		}
		if resp.Command != inter.CmdAckOK {
			t.teardown()
			return &inter.ResponseError{Op: "auth", Code: resp.Command}
		}
	} else if resp.Command != inter.CmdAckOK {
		t.teardown()
		return &inter.ResponseError{Op: "connect: Invalid response: Can't connect", Code: resp.Command}
	}

	t.state = inter.StateConnected
	t.log.WithFields(logrus.Fields{
		"transport": kind,
		"session":   t.sessionID,
	}).Info("Terminal: 会话已建立")
	return nil
}

// Disconnect 发送 EXIT 并关闭传输，EXIT 的应答不是必须的
func (t *Terminal) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.link == nil {
		t.state = inter.StateDisconnected
		return nil
	}
	t.state = inter.StateDisconnecting
	if _, err := t.exchange(inter.CmdExit, nil); err != nil {
		t.log.WithError(err).Debug("Terminal: EXIT 未得到应答")
	}
	t.teardown()
	t.log.Info("Terminal: 会话已关闭")
	return nil
}

// Close 从其它 goroutine 中断当前会话，阻塞中的请求将以网络错误返回
func (t *Terminal) Close() error {
	if l := t.active.Swap(nil); l != nil {
		return l.tr.Close()
	}
	return nil
}

// SendCommand 发送一条指令并等待一个应答
func (t *Terminal) SendCommand(cmd inter.CmdID, payload []byte) (*inter.Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.command(cmd, payload)
}

func (t *Terminal) command(cmd inter.CmdID, payload []byte) (*inter.Packet, error) {
	if t.state != inter.StateConnected || t.link == nil {
		return nil, inter.ErrNotConnected
	}
	return t.exchange(cmd, payload)
}

// commandOK 发送指令并要求成功应答
func (t *Terminal) commandOK(op string, cmd inter.CmdID, payload []byte) (*inter.Packet, error) {
	resp, err := t.command(cmd, payload)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &inter.ResponseError{Op: op, Code: resp.Command}
	}
	return resp, nil
}

// exchange 完成一次请求-应答
// 回复序号取自应答头部 (固件原样回显请求的序号)
func (t *Terminal) exchange(cmd inter.CmdID, payload []byte) (*inter.Packet, error) {
	reply := protocol.NextReplyID(t.replyID)
	buf := t.codec.Pack(cmd, payload, t.sessionID, reply)
	if err := t.link.send(buf); err != nil {
		return nil, t.fail(err)
	}

	resp, err := t.link.readPacket()
	if err != nil {
		if errors.Is(err, inter.ErrChecksum) {
			t.replyID = reply
			return nil, err
		}
		return nil, t.fail(err)
	}
	t.replyID = resp.ReplyID

	t.log.WithFields(logrus.Fields{
		"cmd":     cmd,
		"resp":    resp.Command,
		"session": resp.SessionID,
		"reply":   resp.ReplyID,
		"bytes":   len(resp.Payload),
	}).Debug("Terminal: 指令往返")
	return resp, nil
}

// fail 套接字级错误使会话失效
func (t *Terminal) fail(err error) error {
	t.teardown()
	if errors.Is(err, inter.ErrNetwork) {
		return err
	}
	return fmt.Errorf("%w: %w", inter.ErrNetwork, err)
}

func (t *Terminal) teardown() {
	if t.link != nil {
		t.active.CompareAndSwap(t.link, nil)
		if err := t.link.close(); err != nil {
			t.log.WithError(err).Debug("Terminal: 关闭传输失败")
		}
	}
	t.link = nil
	t.sessionID = 0
	t.live = false
	t.state = inter.StateDisconnected
}
