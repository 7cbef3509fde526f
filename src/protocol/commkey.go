package protocol

import (
	"encoding/binary"
	"math/bits"
)

// DefaultTicks AUTH 口令混淆使用的默认 tick 值
const DefaultTicks byte = 50

// MakeCommKey 根据通讯口令与会话号生成 AUTH 指令的 4 字节 payload
func MakeCommKey(password uint32, sessionID uint16, ticks byte) []byte {
	k := bits.Reverse32(password) + uint32(sessionID)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	// 交换高低两个 uint16
	b[0], b[1], b[2], b[3] = b[2], b[3], b[0], b[1]

	return []byte{b[0] ^ ticks, b[1] ^ ticks, ticks, b[3] ^ ticks}
}
