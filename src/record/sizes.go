package record

import (
	"encoding/binary"
	"fmt"

	"github.com/nhirsama/goster-zk/src/inter"
)

// SizesMinLen GET_FREE_SIZES 应答至少包含 20 个 int32
const SizesMinLen = 80

// DecodeSizes 解析容量统计；额外的 12 字节存在时包含人脸数据
func DecodeSizes(payload []byte) (inter.DeviceSizes, error) {
	var s inter.DeviceSizes
	if len(payload) < SizesMinLen {
		return s, fmt.Errorf("%w: 容量应答仅 %d 字节", ErrMalformedTable, len(payload))
	}
	field := func(b []byte, i int) int {
		return int(int32(binary.LittleEndian.Uint32(b[i*4:])))
	}

	s.Users = field(payload, 4)
	s.Fingers = field(payload, 6)
	s.Records = field(payload, 8)
	s.Dummy = field(payload, 10)
	s.Cards = field(payload, 12)
	s.FingersCap = field(payload, 14)
	s.UsersCap = field(payload, 15)
	s.RecCap = field(payload, 16)
	s.FingersAv = field(payload, 17)
	s.UsersAv = field(payload, 18)
	s.RecAv = field(payload, 19)

	if rest := payload[SizesMinLen:]; len(rest) >= 12 {
		s.Faces = field(rest, 0)
		s.FacesCap = field(rest, 2)
	}
	return s, nil
}
