package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nhirsama/goster-zk/src/inter"
)

// 用户记录的两种固件布局
const (
	UserSizeZK6 = 28
	UserSizeZK8 = 72
)

var ErrMalformedTable = errors.New("record: 数据表格式错误")

// TableBody 去掉数据表开头的 4 字节长度前缀
// 返回表体与声明长度；声明长度小于实际数据时表体按声明截断
func TableBody(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("%w: 缺少长度前缀", ErrMalformedTable)
	}
	declared := int(binary.LittleEndian.Uint32(data))
	body := data[4:]
	if declared < len(body) {
		body = body[:declared]
	}
	return body, declared, nil
}

// cString 截取到第一个 NUL，并丢弃非法 UTF-8 字节
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "")
}

// putString 写入定长字段，超出截断，不足补零
func putString(dst []byte, s string) {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

// UserWidth 根据表长度和用户数推断记录宽度
func UserWidth(tableLen, users int) int {
	if users > 0 {
		switch tableLen / users {
		case UserSizeZK6:
			return UserSizeZK6
		case UserSizeZK8:
			return UserSizeZK8
		}
	}
	if tableLen%UserSizeZK8 != 0 && tableLen%UserSizeZK6 == 0 {
		return UserSizeZK6
	}
	return UserSizeZK8
}

// DecodeUsers 按给定宽度逐条解析用户表体，末尾不足一条的数据视为填充
func DecodeUsers(body []byte, width int) ([]inter.User, error) {
	if width != UserSizeZK6 && width != UserSizeZK8 {
		return nil, fmt.Errorf("%w: 未知用户记录宽度 %d", ErrMalformedTable, width)
	}
	users := make([]inter.User, 0, len(body)/width)
	for len(body) >= width {
		var u inter.User
		if width == UserSizeZK6 {
			u = decodeUser28(body[:width])
		} else {
			u = decodeUser72(body[:width])
		}
		users = append(users, u)
		body = body[width:]
	}
	return users, nil
}

// <H B 5s 8s I x B h I>
func decodeUser28(b []byte) inter.User {
	u := inter.User{
		UID:       binary.LittleEndian.Uint16(b[0:]),
		Privilege: b[2],
		Password:  cString(b[3:8]),
		Name:      strings.TrimSpace(cString(b[8:16])),
		Card:      binary.LittleEndian.Uint32(b[16:]),
		GroupID:   strconv.Itoa(int(b[21])),
		UserID:    strconv.FormatUint(uint64(binary.LittleEndian.Uint32(b[24:])), 10),
	}
	return withDefaultName(u)
}

// <H B 8s 24s I x 7s x 24s>
func decodeUser72(b []byte) inter.User {
	u := inter.User{
		UID:       binary.LittleEndian.Uint16(b[0:]),
		Privilege: b[2],
		Password:  cString(b[3:11]),
		Name:      strings.TrimSpace(cString(b[11:35])),
		Card:      binary.LittleEndian.Uint32(b[35:]),
		GroupID:   strings.TrimSpace(cString(b[40:47])),
		UserID:    cString(b[48:72]),
	}
	return withDefaultName(u)
}

func withDefaultName(u inter.User) inter.User {
	if u.Name == "" {
		u.Name = "NN-" + u.UserID
	}
	return u
}

// EncodeUser 生成 USER_WRQ 的 payload，布局与解析互逆
func EncodeUser(u inter.User, width int) ([]byte, error) {
	switch width {
	case UserSizeZK6:
		userID, err := strconv.ParseUint(u.UserID, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("record: ZK6 布局要求数字工号, 实际 %q", u.UserID)
		}
		group := 0
		if u.GroupID != "" {
			if group, err = strconv.Atoi(u.GroupID); err != nil || group < 0 || group > 0xFF {
				return nil, fmt.Errorf("record: 无效分组 %q", u.GroupID)
			}
		}
		b := make([]byte, UserSizeZK6)
		binary.LittleEndian.PutUint16(b[0:], u.UID)
		b[2] = u.Privilege
		putString(b[3:8], u.Password)
		putString(b[8:16], u.Name)
		binary.LittleEndian.PutUint32(b[16:], u.Card)
		b[21] = byte(group)
		// timezone 固定为 0
		binary.LittleEndian.PutUint32(b[24:], uint32(userID))
		return b, nil
	case UserSizeZK8:
		b := make([]byte, UserSizeZK8)
		binary.LittleEndian.PutUint16(b[0:], u.UID)
		b[2] = u.Privilege
		putString(b[3:11], u.Password)
		putString(b[11:35], u.Name)
		binary.LittleEndian.PutUint32(b[35:], u.Card)
		putString(b[40:47], u.GroupID)
		putString(b[48:72], u.UserID)
		return b, nil
	}
	return nil, fmt.Errorf("%w: 未知用户记录宽度 %d", ErrMalformedTable, width)
}
