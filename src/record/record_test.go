package record

import (
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 抓包得到的 K20 用户表 (含 4 字节长度前缀, 两条 72 字节记录)
const k20UserTable = "90000000" +
	"01000000000000000000006366756c616e6f0000000000000000000000000000000000000000000000000000000000003130303030316c70000000000000000000000000000000" +
	"00" +
	"0200000000000000000000726d656e67616e6f0000000000000000000000000000000000000000000000000000000000323232323232636200000000000000000000000000000000"

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestTableBody(t *testing.T) {
	body, declared, err := TableBody(mustHex(t, "03000000aabbccdd"))
	require.NoError(t, err)
	assert.Equal(t, 3, declared)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, body)

	_, _, err = TableBody([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestDecodeUsers_K20(t *testing.T) {
	raw := mustHex(t, k20UserTable)
	require.Len(t, raw, 148)

	body, declared, err := TableBody(raw)
	require.NoError(t, err)
	assert.Equal(t, 144, declared)

	width := UserWidth(declared, 2)
	assert.Equal(t, UserSizeZK8, width)

	users, err := DecodeUsers(body, width)
	require.NoError(t, err)
	require.Len(t, users, 2)

	assert.Equal(t, uint16(1), users[0].UID)
	assert.Equal(t, "cfulano", users[0].Name)
	assert.Equal(t, "100001lp", users[0].UserID)

	assert.Equal(t, uint16(2), users[1].UID)
	assert.Equal(t, "rmengano", users[1].Name)
	assert.Equal(t, "222222cb", users[1].UserID)
	assert.Equal(t, "", users[1].Password)
	assert.False(t, users[1].Disabled())
}

func TestUsers_RoundTrip(t *testing.T) {
	cases := []struct {
		width int
		user  inter.User
	}{
		{UserSizeZK6, inter.User{UID: 4, UserID: "831", Name: "Ana", Privilege: inter.UserAdmin, Password: "1234", GroupID: "3", Card: 99887766}},
		{UserSizeZK8, inter.User{UID: 70, UserID: "3494866", Name: "NievesLopez", Privilege: inter.UserDefault | 1, Password: "pw", GroupID: "1", Card: 7}},
	}
	for _, tc := range cases {
		b, err := EncodeUser(tc.user, tc.width)
		require.NoError(t, err)
		require.Len(t, b, tc.width)

		users, err := DecodeUsers(b, tc.width)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, tc.user, users[0])

		// 解析是纯函数，重复解析结果一致
		again, _ := DecodeUsers(b, tc.width)
		assert.Equal(t, users, again)
	}
}

func TestDecodeUsers_DefaultNameAndPadding(t *testing.T) {
	b, err := EncodeUser(inter.User{UID: 4, UserID: "831"}, UserSizeZK8)
	require.NoError(t, err)

	// 末尾不足一条的数据被丢弃
	body := append(b, 0x01, 0x02, 0x03)
	users, err := DecodeUsers(body, UserSizeZK8)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "NN-831", users[0].Name)
}

func TestEncodeUser_Errors(t *testing.T) {
	_, err := EncodeUser(inter.User{UserID: "abc"}, UserSizeZK6)
	assert.Error(t, err)

	_, err = EncodeUser(inter.User{UserID: "1", GroupID: "x"}, UserSizeZK6)
	assert.Error(t, err)

	_, err = EncodeUser(inter.User{UserID: "1"}, 30)
	assert.ErrorIs(t, err, ErrMalformedTable)

	_, err = DecodeUsers(nil, 30)
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestUserWidth(t *testing.T) {
	assert.Equal(t, UserSizeZK8, UserWidth(504, 7))
	assert.Equal(t, UserSizeZK6, UserWidth(56, 2))
	assert.Equal(t, UserSizeZK6, UserWidth(56, 0))
	assert.Equal(t, UserSizeZK8, UserWidth(0, 0))
}

func TestTemplates_RoundTrip(t *testing.T) {
	fingers := []inter.Finger{
		{UID: 1, FingerIndex: 0, Valid: 1, Template: []byte{0xde, 0xad, 0xbe, 0xef}},
		{UID: 1, FingerIndex: 6, Valid: 1, Template: make([]byte, 600)},
		{UID: 9, FingerIndex: 3, Valid: 0, Template: []byte{}},
	}
	var body []byte
	for _, f := range fingers {
		body = append(body, EncodeTemplate(f)...)
	}

	decoded, err := DecodeTemplates(body)
	require.NoError(t, err)
	assert.Equal(t, fingers, decoded)
}

func TestDecodeTemplates_Malformed(t *testing.T) {
	good := EncodeTemplate(inter.Finger{UID: 2, Template: []byte{1, 2, 3}})
	bad := []byte{0x40, 0x00, 0x02, 0x00, 0x00, 0x01}

	fingers, err := DecodeTemplates(append(good, bad...))
	assert.ErrorIs(t, err, ErrMalformedTable)
	assert.Len(t, fingers, 1)
}

func TestTimeCodec(t *testing.T) {
	ts := time.Date(2018, time.July, 15, 9, 30, 45, 0, time.Local)
	assert.Equal(t, uint32(595848645), EncodeTime(ts))
	assert.True(t, ts.Equal(DecodeTimeValue(595848645)))

	zero := DecodeTimeValue(0)
	assert.Equal(t, 2000, zero.Year())
	assert.Equal(t, time.January, zero.Month())
	assert.Equal(t, 1, zero.Day())

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], EncodeTime(ts))
	assert.True(t, ts.Equal(DecodeTime(b[:])))

	hexTime := DecodeTimeHex([]byte{24, 2, 29, 23, 59, 58})
	assert.True(t, time.Date(2024, time.February, 29, 23, 59, 58, 0, time.Local).Equal(hexTime))
}

func TestAttendance_Layouts(t *testing.T) {
	ts := time.Date(2019, time.March, 3, 8, 1, 2, 0, time.Local)
	users := []inter.User{{UID: 7, UserID: "1007"}}

	t.Run("8 bytes resolves user id from uid", func(t *testing.T) {
		body := append(EncodeAttendance(inter.Attendance{UID: 7, Status: 1, Punch: 0, Timestamp: ts}, 8),
			EncodeAttendance(inter.Attendance{UID: 8, Status: 1, Punch: 1, Timestamp: ts}, 8)...)
		records := DecodeAttendance(body, AttendanceWidth(len(body), 2), users)
		require.Len(t, records, 2)
		assert.Equal(t, "1007", records[0].UserID)
		assert.Equal(t, "8", records[1].UserID)
		assert.Equal(t, uint8(1), records[1].Punch)
		assert.True(t, ts.Equal(records[0].Timestamp))
	})

	t.Run("16 bytes resolves uid from user id", func(t *testing.T) {
		body := append(EncodeAttendance(inter.Attendance{UserID: "1007", Status: 15, Punch: 4, Timestamp: ts}, 16),
			EncodeAttendance(inter.Attendance{UserID: "42", Timestamp: ts}, 16)...)
		records := DecodeAttendance(body, AttendanceWidth(len(body), 2), users)
		require.Len(t, records, 2)
		assert.Equal(t, uint16(7), records[0].UID)
		assert.Equal(t, uint8(15), records[0].Status)
		assert.Equal(t, uint8(4), records[0].Punch)
		assert.Equal(t, uint16(42), records[1].UID)
	})

	t.Run("40 bytes", func(t *testing.T) {
		in := inter.Attendance{UID: 3, UserID: "ABC-3", Status: 2, Punch: 5, Timestamp: ts}
		records := DecodeAttendance(EncodeAttendance(in, 40), AttendanceWidth(40, 1), nil)
		require.Len(t, records, 1)
		assert.Equal(t, in.UserID, records[0].UserID)
		assert.Equal(t, in.UID, records[0].UID)
		assert.True(t, ts.Equal(records[0].Timestamp))
	})

	t.Run("zero width does not loop", func(t *testing.T) {
		assert.Empty(t, DecodeAttendance(make([]byte, 10), 0, nil))
	})
}

func TestDecodeEvents(t *testing.T) {
	timehex := []byte{19, 12, 31, 18, 5, 6}
	want := time.Date(2019, time.December, 31, 18, 5, 6, 0, time.Local)

	ev10 := append([]byte{0x39, 0x03, 1, 0}, timehex...)
	events := DecodeEvents(ev10)
	require.Len(t, events, 1)
	assert.Equal(t, "825", events[0].UserID)
	assert.Equal(t, uint8(1), events[0].Status)
	assert.True(t, want.Equal(events[0].Timestamp))

	ev12 := append([]byte{0x40, 0x42, 0x0f, 0x00, 15, 1}, timehex...)
	events = DecodeEvents(ev12)
	require.Len(t, events, 1)
	assert.Equal(t, "1000000", events[0].UserID)
	assert.Equal(t, uint8(1), events[0].Punch)

	ev36 := make([]byte, 36)
	copy(ev36, "3494866")
	ev36[24], ev36[25] = 1, 0
	copy(ev36[26:], timehex)
	events = DecodeEvents(ev36)
	require.Len(t, events, 1)
	assert.Equal(t, "3494866", events[0].UserID)

	// 两条 52 字节事件合并在一个包内
	ev52 := make([]byte, 52)
	copy(ev52, "77")
	copy(ev52[26:], timehex)
	events = DecodeEvents(append(append([]byte{}, ev52...), ev52...))
	assert.Len(t, events, 2)

	assert.Empty(t, DecodeEvents([]byte{1, 2, 3}))
}

func TestDecodeSizes(t *testing.T) {
	payload := make([]byte, 92)
	put := func(i, v int) { binary.LittleEndian.PutUint32(payload[i*4:], uint32(v)) }
	put(4, 7)
	put(6, 6)
	put(8, 605)
	put(14, 3000)
	put(15, 10000)
	put(16, 100000)
	put(19, 99395)
	put(20, 2)
	put(22, 400)

	s, err := DecodeSizes(payload)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Users)
	assert.Equal(t, 6, s.Fingers)
	assert.Equal(t, 605, s.Records)
	assert.Equal(t, 3000, s.FingersCap)
	assert.Equal(t, 10000, s.UsersCap)
	assert.Equal(t, 100000, s.RecCap)
	assert.Equal(t, 99395, s.RecAv)
	assert.Equal(t, 2, s.Faces)
	assert.Equal(t, 400, s.FacesCap)

	s, err = DecodeSizes(payload[:86])
	require.NoError(t, err)
	assert.Zero(t, s.Faces)

	_, err = DecodeSizes(payload[:79])
	assert.ErrorIs(t, err, ErrMalformedTable)
}
