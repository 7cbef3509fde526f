package record

import (
	"encoding/binary"
	"strconv"

	"github.com/nhirsama/goster-zk/src/inter"
)

// minEventSize 最短的事件布局 <H B B 6s>
const minEventSize = 10

// eventLayout 由事件长度决定工号字段宽度与整条记录长度
func eventLayout(n int) (idWidth, size int) {
	switch {
	case n == 10:
		return 2, 10
	case n == 12:
		return 4, 12
	case n == 14:
		return 2, 14
	case n == 32:
		return 24, 32
	case n == 36:
		return 24, 36
	case n == 37:
		return 24, 37
	case n >= 52:
		return 24, 52
	}
	return 0, 0
}

// DecodeEvents 解析 REG_EVENT 推送的考勤事件，一个包内可能包含多条
// 无法识别的剩余长度被丢弃
func DecodeEvents(data []byte) []inter.LiveEvent {
	var events []inter.LiveEvent
	for len(data) >= minEventSize {
		idWidth, size := eventLayout(len(data))
		if size == 0 {
			break
		}
		b := data[:size]
		var ev inter.LiveEvent
		switch idWidth {
		case 2:
			ev.UserID = strconv.Itoa(int(binary.LittleEndian.Uint16(b)))
		case 4:
			ev.UserID = strconv.FormatUint(uint64(binary.LittleEndian.Uint32(b)), 10)
		default:
			ev.UserID = cString(b[:24])
		}
		ev.Status = b[idWidth]
		ev.Punch = b[idWidth+1]
		ev.Timestamp = DecodeTimeHex(b[idWidth+2 : idWidth+8])
		events = append(events, ev)
		data = data[size:]
	}
	return events
}
