package inter

import (
	"context"
	"time"
)

// User 终端上登记的用户
type User struct {
	UID       uint16
	UserID    string
	Name      string
	Privilege uint8
	Password  string
	GroupID   string
	Card      uint32
}

// Disabled 权限位 bit0 表示用户被禁用
func (u User) Disabled() bool { return u.Privilege&1 != 0 }

// Role 去掉禁用位后的角色
func (u User) Role() uint8 { return u.Privilege &^ 1 }

// Finger 指纹模板
type Finger struct {
	UID         uint16
	FingerIndex int8
	Valid       int8
	Template    []byte
}

// Attendance 考勤记录
type Attendance struct {
	UserID    string
	UID       uint16
	Timestamp time.Time
	Status    uint8
	Punch     uint8
}

// LiveEvent 实时推送的考勤事件
type LiveEvent struct {
	UserID    string
	Timestamp time.Time
	Status    uint8
	Punch     uint8
}

// DeviceSizes 终端容量与存量统计，由 GET_FREE_SIZES 填充
type DeviceSizes struct {
	Users      int
	Fingers    int
	Records    int
	Dummy      int
	Cards      int
	FingersCap int
	UsersCap   int
	RecCap     int
	FingersAv  int
	UsersAv    int
	RecAv      int
	Faces      int
	FacesCap   int
}

// SessionState 会话状态
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateUnauthenticated
	StateAuthenticating
	StateConnected
	StateDisconnecting
)

var sessionStateNames = [...]string{"disconnected", "connecting", "unauthenticated", "authenticating", "connected", "disconnecting"}

func (s SessionState) String() string {
	if int(s) < len(sessionStateNames) {
		return sessionStateNames[s]
	}
	return "unknown"
}

// DeviceInfo 终端基本信息
type DeviceInfo struct {
	SerialNumber    string
	FirmwareVersion string
	Platform        string
	DeviceName      string
	MAC             string
	Time            time.Time
}

// Terminal 定义一条到考勤终端的会话所能执行的操作
type Terminal interface {
	Connect(ctx context.Context) error
	Disconnect() error
	State() SessionState

	ReadSizes() (DeviceSizes, error)
	GetUsers() ([]User, error)
	SetUser(u User) error
	DeleteUser(uid uint16) error
	GetTemplates() ([]Finger, error)
	GetAttendance() ([]Attendance, error)
	ClearAttendance() error

	GetTime() (time.Time, error)
	SetTime(t time.Time) error
	Unlock(seconds int) error
	Restart() error
	EnableDevice() error
	DisableDevice() error
	DeviceInfo() (DeviceInfo, error)
}
