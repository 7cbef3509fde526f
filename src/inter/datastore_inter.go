package inter

import (
	"errors"
	"time"
)

var ErrTerminalNotFound = errors.New("terminal not found")

// TerminalRecord 终端静态信息，同步时由终端回报的字段刷新
type TerminalRecord struct {
	Name            string    `json:"name"`
	Host            string    `json:"host"`
	Port            int       `json:"port"`
	SerialNumber    string    `json:"sn"`
	FirmwareVersion string    `json:"firmware_version"`
	Platform        string    `json:"platform"`
	MAC             string    `json:"mac"`
	LastSyncAt      time.Time `json:"last_sync_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// SyncRun 一次同步任务的记录
type SyncRun struct {
	ID         string    `json:"id"`
	Terminal   string    `json:"terminal"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Users      int       `json:"users"`
	Templates  int       `json:"templates"`
	Attendance int       `json:"attendance"`
	Error      string    `json:"error,omitempty"`
}

// DataStore 定义了终端数据持久化的标准接口
// 该接口兼容 SQLite 与 PostgreSQL 两种后端
type DataStore interface {
	// [终端管理]

	// SaveTerminal 新增或更新终端记录，CreatedAt 仅在首次写入时生效
	SaveTerminal(rec TerminalRecord) error
	// LoadTerminal 读取终端记录，不存在时返回 ErrTerminalNotFound
	LoadTerminal(name string) (TerminalRecord, error)
	ListTerminals() ([]TerminalRecord, error)

	// [用户与指纹]

	// ReplaceUsers 用终端上的完整用户表替换本地副本
	ReplaceUsers(terminal string, users []User) error
	ListUsers(terminal string) ([]User, error)
	// SaveTemplates 以终端为准同步指纹模板，返回写入与删除的模板数
	SaveTemplates(terminal string, fingers []Finger) (changed int, err error)
	ListTemplates(terminal string) ([]Finger, error)

	// [考勤]

	// AppendAttendance 追加考勤记录，重复记录被忽略，返回新增条数
	AppendAttendance(terminal string, records []Attendance) (inserted int, err error)
	// QueryAttendance 查询时间闭区间内的考勤记录
	QueryAttendance(terminal string, start, end time.Time) ([]Attendance, error)

	// [同步任务与日志]

	BeginSyncRun(terminal string) (SyncRun, error)
	FinishSyncRun(run SyncRun) error
	ListSyncRuns(terminal string, limit int) ([]SyncRun, error)
	WriteLog(terminal string, level string, message string) error

	Close() error
}
