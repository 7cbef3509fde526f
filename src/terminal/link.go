package terminal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/protocol"
)

const (
	// tcpRecvSize 单次从 TCP 流读取的上限
	tcpRecvSize = 64 * 1024
	// udpRecvSize 单个数据报的上限
	udpRecvSize = 64 * 1024
)

// FrameKind 批量传输期间从链路读到的帧类型
type FrameKind int

const (
	// FrameData DATA 帧头及随之到达的 payload
	FrameData FrameKind = iota
	// FrameRawContinuation 同一个 DATA 帧在后续读取中到达的剩余字节
	FrameRawContinuation
	// FrameAckOK 分块传输结束
	FrameAckOK
	// FrameErrorResponse 其它任何应答
	FrameErrorResponse
)

// Frame 批量传输的最小处理单元，由指令码决定类型
type Frame struct {
	Kind   FrameKind
	Data   []byte
	Packet *inter.Packet
}

// link 负责一个传输上的收发与 TCP 流重组
// TCP 读取可能把一个包拆开，也可能把下一个控制包的开头一起带回，多余字节保留在 pending 中
type link struct {
	tr    inter.Transport
	codec inter.ProtocolCodec
	tcp   bool

	pending []byte

	// 正在接收的 DATA 帧
	frameHeader []byte
	frameBody   []byte
	frameLeft   int
}

func newLink(tr inter.Transport, codec inter.ProtocolCodec) *link {
	return &link{
		tr:    tr,
		codec: codec,
		tcp:   tr.Kind() == inter.TransportTCP,
	}
}

func (l *link) send(inner []byte) error {
	if l.tcp {
		return l.tr.Send(protocol.WrapTCP(inner))
	}
	return l.tr.Send(inner)
}

func (l *link) close() error {
	l.pending = nil
	l.frameHeader, l.frameBody, l.frameLeft = nil, nil, 0
	return l.tr.Close()
}

// inFrame 是否还有 DATA 帧的字节未读完
func (l *link) inFrame() bool {
	return l.frameLeft > 0
}

func (l *link) fill() error {
	b, err := l.tr.Recv(tcpRecvSize)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return fmt.Errorf("%w: 对端未返回数据", inter.ErrNetwork)
	}
	l.pending = append(l.pending, b...)
	return nil
}

func (l *link) fillTo(n int) error {
	for len(l.pending) < n {
		if err := l.fill(); err != nil {
			return err
		}
	}
	return nil
}

// top 读取并校验 TCP 信封，返回内层包长度，信封仍保留在 pending 中
func (l *link) top() (int, error) {
	if err := l.fillTo(inter.TCPTopSize); err != nil {
		return 0, err
	}
	n, err := protocol.ParseTCPTop(l.pending[:inter.TCPTopSize])
	if err != nil {
		l.pending = nil
		return 0, err
	}
	return n, nil
}

func (l *link) unpack(b []byte) (*inter.Packet, error) {
	p, err := l.codec.Unpack(b)
	if errors.Is(err, inter.ErrShortPacket) {
		return nil, fmt.Errorf("%w: %w", inter.ErrNetwork, err)
	}
	return p, err
}

// readPacket 读取一个完整的包
func (l *link) readPacket() (*inter.Packet, error) {
	if !l.tcp {
		b, err := l.tr.Recv(udpRecvSize)
		if err != nil {
			return nil, err
		}
		return l.unpack(b)
	}
	if l.inFrame() {
		return nil, fmt.Errorf("link: DATA 帧尚余 %d 字节未读", l.frameLeft)
	}

	n, err := l.top()
	if err != nil {
		return nil, err
	}
	if err := l.fillTo(inter.TCPTopSize + n); err != nil {
		return nil, err
	}
	inner := l.pending[inter.TCPTopSize : inter.TCPTopSize+n]
	l.pending = l.pending[inter.TCPTopSize+n:]
	return l.unpack(inner)
}

func classify(p *inter.Packet) Frame {
	switch p.Command {
	case inter.CmdData:
		return Frame{Kind: FrameData, Data: p.Payload, Packet: p}
	case inter.CmdAckOK:
		return Frame{Kind: FrameAckOK, Packet: p}
	}
	return Frame{Kind: FrameErrorResponse, Packet: p}
}

// nextFrame 读取批量传输中的下一帧
// UDP 下每个数据报都是完整的包；TCP 下 DATA 帧按到达的字节逐段交付
func (l *link) nextFrame() (Frame, error) {
	if !l.tcp {
		p, err := l.readPacket()
		if err != nil {
			return Frame{}, err
		}
		return classify(p), nil
	}

	if l.inFrame() {
		if len(l.pending) == 0 {
			if err := l.fill(); err != nil {
				return Frame{}, err
			}
		}
		data := l.take(l.frameLeft)
		if err := l.feed(data); err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameRawContinuation, Data: data}, nil
	}

	n, err := l.top()
	if err != nil {
		return Frame{}, err
	}
	if err := l.fillTo(inter.TCPTopSize + inter.HeaderSize); err != nil {
		return Frame{}, err
	}
	cmd := inter.CmdID(binary.LittleEndian.Uint16(l.pending[inter.TCPTopSize:]))
	if cmd != inter.CmdData {
		p, err := l.readPacket()
		if err != nil {
			return Frame{}, err
		}
		return classify(p), nil
	}

	l.frameHeader = append([]byte(nil), l.pending[inter.TCPTopSize:inter.TCPTopSize+inter.HeaderSize]...)
	l.pending = l.pending[inter.TCPTopSize+inter.HeaderSize:]
	l.frameLeft = n - inter.HeaderSize
	l.frameBody = make([]byte, 0, l.frameLeft)

	data := l.take(l.frameLeft)
	if err := l.feed(data); err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameData, Data: data}, nil
}

// take 从 pending 中取出至多 max 字节
func (l *link) take(max int) []byte {
	n := min(len(l.pending), max)
	data := append([]byte(nil), l.pending[:n]...)
	l.pending = l.pending[n:]
	return data
}

// feed 记录 DATA 帧已收字节，帧收齐后校验 checksum
func (l *link) feed(data []byte) error {
	l.frameBody = append(l.frameBody, data...)
	l.frameLeft -= len(data)
	if l.frameLeft > 0 {
		return nil
	}
	_, err := l.codec.Unpack(append(l.frameHeader, l.frameBody...))
	l.frameHeader, l.frameBody, l.frameLeft = nil, nil, 0
	return err
}
