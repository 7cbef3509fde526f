package record

import (
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-zk/src/inter"
)

// FingerHeaderSize 模板记录头 <H H b b>: 总长度(含头), uid, 手指序号, 有效标志
const FingerHeaderSize = 6

// DecodeTemplates 解析变长的指纹模板表体
func DecodeTemplates(body []byte) ([]inter.Finger, error) {
	var fingers []inter.Finger
	for len(body) >= FingerHeaderSize {
		size := int(binary.LittleEndian.Uint16(body[0:]))
		if size < FingerHeaderSize || size > len(body) {
			return fingers, fmt.Errorf("%w: 模板长度 %d, 剩余 %d", ErrMalformedTable, size, len(body))
		}
		tpl := make([]byte, size-FingerHeaderSize)
		copy(tpl, body[FingerHeaderSize:size])
		fingers = append(fingers, inter.Finger{
			UID:         binary.LittleEndian.Uint16(body[2:]),
			FingerIndex: int8(body[4]),
			Valid:       int8(body[5]),
			Template:    tpl,
		})
		body = body[size:]
	}
	return fingers, nil
}

// EncodeTemplate 按与解析相同的布局重新打包
func EncodeTemplate(f inter.Finger) []byte {
	b := make([]byte, FingerHeaderSize, FingerHeaderSize+len(f.Template))
	binary.LittleEndian.PutUint16(b[0:], uint16(FingerHeaderSize+len(f.Template)))
	binary.LittleEndian.PutUint16(b[2:], f.UID)
	b[4] = byte(f.FingerIndex)
	b[5] = byte(f.Valid)
	return append(b, f.Template...)
}
