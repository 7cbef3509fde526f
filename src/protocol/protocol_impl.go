package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-zk/src/inter"
)

// MaxPacketSize TCP 信封声明长度的上限
const MaxPacketSize = 1 * 1024 * 1024

// ZKCodec 实现 inter.ProtocolCodec 接口
type ZKCodec struct{}

// NewZKCodec 创建一个新的编解码器实例
func NewZKCodec() inter.ProtocolCodec {
	return &ZKCodec{}
}

// Checksum 计算内层包校验和
// buf 为 checksum 字段置零后的完整包 (头部 + payload)
func Checksum(buf []byte) uint16 {
	var sum uint32
	n := len(buf)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.LittleEndian.Uint16(buf[i:]))
		if sum > 0xFFFF {
			sum -= 0xFFFF
		}
	}
	if i < n {
		sum += uint32(buf[i])
	}
	for sum > 0xFFFF {
		sum -= 0xFFFF
	}
	return uint16(^sum & 0xFFFF)
}

// NextReplyID 由已保存的序号计算下一条请求的线上序号
func NextReplyID(stored uint16) uint16 {
	next := uint32(stored) + 1
	if next >= uint32(inter.USHRTMax) {
		next -= uint32(inter.USHRTMax)
	}
	return uint16(next)
}

func (c *ZKCodec) Pack(cmd inter.CmdID, payload []byte, sessionID, replyID uint16) []byte {
	buf := make([]byte, inter.HeaderSize, inter.HeaderSize+len(payload))

	// checksum 字段先置零参与计算
	binary.LittleEndian.PutUint16(buf[0:], uint16(cmd))
	binary.LittleEndian.PutUint16(buf[4:], sessionID)
	binary.LittleEndian.PutUint16(buf[6:], replyID)
	buf = append(buf, payload...)

	binary.LittleEndian.PutUint16(buf[2:], Checksum(buf))
	return buf
}

func (c *ZKCodec) Unpack(buf []byte) (*inter.Packet, error) {
	if len(buf) < inter.HeaderSize {
		return nil, fmt.Errorf("%w: %d 字节", inter.ErrShortPacket, len(buf))
	}

	p := &inter.Packet{
		Command:   inter.CmdID(binary.LittleEndian.Uint16(buf[0:])),
		Checksum:  binary.LittleEndian.Uint16(buf[2:]),
		SessionID: binary.LittleEndian.Uint16(buf[4:]),
		ReplyID:   binary.LittleEndian.Uint16(buf[6:]),
	}

	// 校验时复制一份，避免改写调用方缓冲区
	zeroed := make([]byte, len(buf))
	copy(zeroed, buf)
	zeroed[2], zeroed[3] = 0, 0
	if actual := Checksum(zeroed); actual != p.Checksum {
		return nil, fmt.Errorf("%w: cmd %d 期望 0x%04X, 实际 0x%04X", inter.ErrChecksum, p.Command, p.Checksum, actual)
	}

	p.Payload = zeroed[inter.HeaderSize:]
	return p, nil
}

// WrapTCP 为内层包加上 TCP 信封
func WrapTCP(inner []byte) []byte {
	buf := make([]byte, inter.TCPTopSize, inter.TCPTopSize+len(inner))
	binary.LittleEndian.PutUint16(buf[0:], inter.MachinePrepareData1)
	binary.LittleEndian.PutUint16(buf[2:], inter.MachinePrepareData2)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(inner)))
	return append(buf, inner...)
}

// ParseTCPTop 校验信封魔数并返回内层包长度
func ParseTCPTop(top []byte) (int, error) {
	if len(top) < inter.TCPTopSize {
		return 0, inter.ErrTCPTopInvalid
	}
	m1 := binary.LittleEndian.Uint16(top[0:])
	m2 := binary.LittleEndian.Uint16(top[2:])
	if m1 != inter.MachinePrepareData1 || m2 != inter.MachinePrepareData2 {
		return 0, fmt.Errorf("%w: 无效Magic: 0x%04X%04X", inter.ErrTCPTopInvalid, m1, m2)
	}
	length := binary.LittleEndian.Uint32(top[4:])
	if length < inter.HeaderSize {
		return 0, fmt.Errorf("%w: 内层包长度 %d", inter.ErrTCPTopInvalid, length)
	}
	if length > MaxPacketSize {
		return 0, fmt.Errorf("%w: 接收到的包过大: %d", inter.ErrTCPTopInvalid, length)
	}
	return int(length), nil
}
