package record

import (
	"encoding/binary"
	"strconv"

	"github.com/nhirsama/goster-zk/src/inter"
)

// 考勤记录的三种固件布局
const (
	AttendanceSize8  = 8
	AttendanceSize16 = 16
	AttendanceSize40 = 40
)

// AttendanceWidth 由表长度与记录数推断记录宽度，无法识别时按 40 字节处理
func AttendanceWidth(tableLen, records int) int {
	if records > 0 {
		switch tableLen / records {
		case AttendanceSize8:
			return AttendanceSize8
		case AttendanceSize16:
			return AttendanceSize16
		}
	}
	return AttendanceSize40
}

func normalizeWidth(width int) int {
	if width == AttendanceSize8 || width == AttendanceSize16 {
		return width
	}
	return AttendanceSize40
}

// userIndex 同时按 uid 与工号索引用户表
type userIndex struct {
	byUID    map[uint16]inter.User
	byUserID map[string]inter.User
}

func newUserIndex(users []inter.User) userIndex {
	idx := userIndex{
		byUID:    make(map[uint16]inter.User, len(users)),
		byUserID: make(map[string]inter.User, len(users)),
	}
	for _, u := range users {
		if _, ok := idx.byUID[u.UID]; !ok {
			idx.byUID[u.UID] = u
		}
		if _, ok := idx.byUserID[u.UserID]; !ok {
			idx.byUserID[u.UserID] = u
		}
	}
	return idx
}

// DecodeAttendance 解析考勤表体，uid 与工号通过用户表互相补全
func DecodeAttendance(body []byte, width int, users []inter.User) []inter.Attendance {
	width = normalizeWidth(width)
	idx := newUserIndex(users)
	records := make([]inter.Attendance, 0, len(body)/width)
	for len(body) >= width {
		b := body[:width]
		var a inter.Attendance
		switch width {
		case AttendanceSize8:
			// <H B 4s B>
			a = inter.Attendance{
				UID:       binary.LittleEndian.Uint16(b[0:]),
				Status:    b[2],
				Timestamp: DecodeTime(b[3:7]),
				Punch:     b[7],
			}
			if u, ok := idx.byUID[a.UID]; ok {
				a.UserID = u.UserID
			} else {
				a.UserID = strconv.Itoa(int(a.UID))
			}
		case AttendanceSize16:
			// <I 4s B B 2s I>
			a = inter.Attendance{
				UserID:    strconv.FormatUint(uint64(binary.LittleEndian.Uint32(b[0:])), 10),
				Timestamp: DecodeTime(b[4:8]),
				Status:    b[8],
				Punch:     b[9],
			}
			if u, ok := idx.byUserID[a.UserID]; ok {
				a.UID = u.UID
			} else {
				a.UID = uint16(binary.LittleEndian.Uint32(b[0:]))
			}
		default:
			// <H 24s B 4s B 8s>
			a = inter.Attendance{
				UID:       binary.LittleEndian.Uint16(b[0:]),
				UserID:    cString(b[2:26]),
				Status:    b[26],
				Timestamp: DecodeTime(b[27:31]),
				Punch:     b[31],
			}
		}
		records = append(records, a)
		body = body[width:]
	}
	return records
}

// EncodeAttendance 按指定布局打包一条考勤记录
func EncodeAttendance(a inter.Attendance, width int) []byte {
	width = normalizeWidth(width)
	b := make([]byte, width)
	switch width {
	case AttendanceSize8:
		binary.LittleEndian.PutUint16(b[0:], a.UID)
		b[2] = a.Status
		binary.LittleEndian.PutUint32(b[3:], EncodeTime(a.Timestamp))
		b[7] = a.Punch
	case AttendanceSize16:
		id, _ := strconv.ParseUint(a.UserID, 10, 32)
		binary.LittleEndian.PutUint32(b[0:], uint32(id))
		binary.LittleEndian.PutUint32(b[4:], EncodeTime(a.Timestamp))
		b[8] = a.Status
		b[9] = a.Punch
	default:
		binary.LittleEndian.PutUint16(b[0:], a.UID)
		putString(b[2:26], a.UserID)
		b[26] = a.Status
		binary.LittleEndian.PutUint32(b[27:], EncodeTime(a.Timestamp))
		b[31] = a.Punch
	}
	return b
}
