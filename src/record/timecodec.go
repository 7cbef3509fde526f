package record

import (
	"encoding/binary"
	"time"
)

// DecodeTimeValue 解析终端的压缩时间编码 (以 2000 年为基准)
func DecodeTimeValue(v uint32) time.Time {
	t := v
	second := int(t % 60)
	t /= 60
	minute := int(t % 60)
	t /= 60
	hour := int(t % 24)
	t /= 24
	day := int(t%31) + 1
	t /= 31
	month := time.Month(t%12) + 1
	t /= 12
	year := int(t) + 2000

	return time.Date(year, month, day, hour, minute, second, 0, time.Local)
}

// DecodeTime 从 4 字节小端数据解析时间
func DecodeTime(b []byte) time.Time {
	return DecodeTimeValue(binary.LittleEndian.Uint32(b))
}

// EncodeTime 按 t 自身时区的墙上时间编码
func EncodeTime(t time.Time) uint32 {
	days := (t.Year()%100)*12*31 + (int(t.Month())-1)*31 + t.Day() - 1
	return uint32(days*86400 + (t.Hour()*60+t.Minute())*60 + t.Second())
}

// DecodeTimeHex 解析实时事件中的 6 字节时间 (年-2000, 月, 日, 时, 分, 秒)
func DecodeTimeHex(b []byte) time.Time {
	return time.Date(int(b[0])+2000, time.Month(b[1]), int(b[2]), int(b[3]), int(b[4]), int(b[5]), 0, time.Local)
}
