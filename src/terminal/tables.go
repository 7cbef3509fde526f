package terminal

import (
	"encoding/binary"
	"errors"
	"math"
	"strconv"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/record"
	"github.com/sirupsen/logrus"
)

// ReadSizes 读取终端的容量与存量统计
func (t *Terminal) ReadSizes() (inter.DeviceSizes, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readSizes()
}

func (t *Terminal) readSizes() (inter.DeviceSizes, error) {
	resp, err := t.commandOK("can't read sizes", inter.CmdGetFreeSizes, nil)
	if err != nil {
		return inter.DeviceSizes{}, err
	}
	s, err := record.DecodeSizes(resp.Payload)
	if err != nil {
		return inter.DeviceSizes{}, err
	}
	t.sizes = s
	return s, nil
}

// GetUsers 读取终端上的全部用户
func (t *Terminal) GetUsers() ([]inter.User, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getUsers()
}

func (t *Terminal) getUsers() ([]inter.User, error) {
	sizes, err := t.readSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Users == 0 {
		t.nextUID = 1
		t.nextUserID = "1"
		return []inter.User{}, nil
	}

	data, err := t.readWithBuffer(inter.CmdUserTempRRQ, inter.FctUser, 0)
	if err != nil {
		return nil, err
	}
	body, declared, err := record.TableBody(data)
	if err != nil {
		return nil, err
	}
	if declared > len(body) {
		t.log.WithFields(logrus.Fields{"declared": declared, "received": len(body)}).Warn("Terminal: 用户表短于声明长度")
	}

	width := record.UserWidth(declared, sizes.Users)
	users, err := record.DecodeUsers(body, width)
	if err != nil {
		return nil, err
	}
	t.userWidth = width
	t.updateNextIDs(users)

	t.log.WithFields(logrus.Fields{"users": len(users), "width": width}).Debug("Terminal: 用户表读取完成")
	return users, nil
}

// ErrUserTableFull 1..65535 的 uid 均已占用
var ErrUserTableFull = errors.New("terminal: 用户 uid 已用尽")

// updateNextIDs 计算下一个可用的 uid 与工号
// 最大 uid 已到 65535 时取最小的空闲 uid，全部占用时 nextUID 为 0
func (t *Terminal) updateNextIDs(users []inter.User) {
	var maxUID uint16
	taken := make(map[string]bool, len(users))
	for _, u := range users {
		if u.UID > maxUID {
			maxUID = u.UID
		}
		taken[u.UserID] = true
	}
	next := int(maxUID) + 1
	if next > math.MaxUint16 {
		next = lowestFreeUID(users)
	}
	t.nextUID = uint16(next)
	if next == 0 {
		t.nextUserID = ""
		return
	}
	for taken[strconv.Itoa(next)] {
		next++
	}
	t.nextUserID = strconv.Itoa(next)
}

func lowestFreeUID(users []inter.User) int {
	used := make(map[uint16]bool, len(users))
	for _, u := range users {
		used[u.UID] = true
	}
	for uid := 1; uid <= math.MaxUint16; uid++ {
		if !used[uint16(uid)] {
			return uid
		}
	}
	return 0
}

// NextUID 下一个可用的内部 uid 与工号，GetUsers 之后有效
func (t *Terminal) NextUID() (uint16, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextUID, t.nextUserID
}

// SetUser 新增或覆盖一个用户；UID 为 0 时自动分配
// 权限只允许普通用户与管理员，禁用位保留
func (t *Terminal) SetUser(u inter.User) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.userWidth == 0 {
		if _, err := t.getUsers(); err != nil {
			return err
		}
		if t.userWidth == 0 {
			t.userWidth = record.UserSizeZK8
		}
	}

	if u.UID == 0 {
		if t.nextUID == 0 {
			// 上次分配已到 65535，重新读取用户表寻找空位
			if _, err := t.getUsers(); err != nil {
				return err
			}
		}
		if t.nextUID == 0 {
			return ErrUserTableFull
		}
		u.UID = t.nextUID
	}
	if u.UserID == "" {
		u.UserID = t.nextUserID
	}
	if u.UserID == "" {
		u.UserID = strconv.Itoa(int(u.UID))
	}
	if role := u.Role(); role != inter.UserDefault && role != inter.UserAdmin {
		u.Privilege = u.Privilege & 1
	}

	payload, err := record.EncodeUser(u, t.userWidth)
	if err != nil {
		return err
	}
	if _, err := t.commandOK("can't set user", inter.CmdUserWRQ, payload); err != nil {
		return err
	}
	if err := t.refreshData(); err != nil {
		return err
	}

	if t.nextUID == u.UID {
		// 65535 之后回绕为 0，下次分配时重新计算
		t.nextUID++
	}
	if t.nextUserID == u.UserID && t.nextUID != 0 {
		t.nextUserID = strconv.Itoa(int(t.nextUID))
	}
	return nil
}

// DeleteUser 按 uid 删除用户
func (t *Terminal) DeleteUser(uid uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uid)
	if _, err := t.commandOK("can't delete user", inter.CmdDeleteUser, payload); err != nil {
		return err
	}
	if err := t.refreshData(); err != nil {
		return err
	}
	if uid == t.nextUID-1 {
		t.nextUID = uid
	}
	return nil
}

// GetTemplates 读取全部指纹模板
func (t *Terminal) GetTemplates() ([]inter.Finger, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sizes, err := t.readSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Fingers == 0 {
		return []inter.Finger{}, nil
	}

	data, err := t.readWithBuffer(inter.CmdDBRRQ, inter.FctFingerTmp, 0)
	if err != nil {
		return nil, err
	}
	body, _, err := record.TableBody(data)
	if err != nil {
		return nil, err
	}
	fingers, err := record.DecodeTemplates(body)
	if err != nil {
		return nil, err
	}
	if len(fingers) != sizes.Fingers {
		t.log.WithFields(logrus.Fields{"expected": sizes.Fingers, "decoded": len(fingers)}).Warn("Terminal: 指纹数与容量统计不一致")
	}
	return fingers, nil
}

// GetAttendance 读取全部考勤记录，uid 与工号通过用户表补全
func (t *Terminal) GetAttendance() ([]inter.Attendance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sizes, err := t.readSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Records == 0 {
		return []inter.Attendance{}, nil
	}
	users, err := t.getUsers()
	if err != nil {
		return nil, err
	}

	data, err := t.readWithBuffer(inter.CmdAttLogRRQ, 0, 0)
	if err != nil {
		return nil, err
	}
	body, declared, err := record.TableBody(data)
	if err != nil {
		return nil, err
	}
	width := record.AttendanceWidth(declared, sizes.Records)
	if declared != width*sizes.Records {
		t.log.WithFields(logrus.Fields{"declared": declared, "records": sizes.Records, "width": width}).Warn("Terminal: 考勤表长度与记录数不匹配")
	}
	return record.DecodeAttendance(body, width, users), nil
}

// ClearAttendance 清空终端上的考勤记录
func (t *Terminal) ClearAttendance() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.commandOK("can't clear attendance", inter.CmdClearAttLog, nil)
	return err
}

// ClearData 清空终端上的全部数据 (用户、指纹、考勤)
func (t *Terminal) ClearData() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.commandOK("can't clear data", inter.CmdClearData, nil); err != nil {
		return err
	}
	t.nextUID = 1
	t.nextUserID = "1"
	return nil
}

// RefreshData 让终端重新加载用户与指纹数据
func (t *Terminal) RefreshData() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshData()
}

func (t *Terminal) refreshData() error {
	_, err := t.commandOK("can't refresh data", inter.CmdRefreshData, nil)
	return err
}
