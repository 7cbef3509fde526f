package inter

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTerminalExists    = errors.New("manager: 终端名称已存在")
	ErrTerminalUnknown   = errors.New("manager: 未找到对应终端")
	ErrTerminalNeverSeen = errors.New("manager: 终端从未上线")
)

// DeviceStatus 定义终端的逻辑在线状态
type DeviceStatus int

const (
	StatusOffline DeviceStatus = iota // 离线
	StatusOnline                      // 在线
	StatusDelayed                     // 延迟（最近一次成功会话超过阈值但未完全判定为离线）
)

func (s DeviceStatus) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusDelayed:
		return "delayed"
	}
	return "offline"
}

// TerminalConfig 一台终端的连接参数
type TerminalConfig struct {
	Name     string        `mapstructure:"name" json:"name"`
	Host     string        `mapstructure:"host" json:"host"`
	Port     int           `mapstructure:"port" json:"port"`
	Password uint32        `mapstructure:"password" json:"-"`
	ForceUDP bool          `mapstructure:"force_udp" json:"force_udp"`
	OmitPing bool          `mapstructure:"omit_ping" json:"omit_ping"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// CommandKind 下行指令类型
type CommandKind int

const (
	CommandUnlock CommandKind = iota + 1
	CommandSetTime
	CommandRestart
)

// DownlinkMessage 表示一个待在下一次会话中执行的终端指令
type DownlinkMessage struct {
	Kind    CommandKind `json:"kind"`
	Seconds int         `json:"seconds,omitempty"`
	Time    time.Time   `json:"time,omitempty"`
}

// TerminalFactory 根据配置创建一个尚未连接的终端会话
type TerminalFactory func(cfg TerminalConfig) Terminal

// DeviceManager 定义多终端管理的核心业务逻辑接口
type DeviceManager interface {

	// --- 终端注册 ---

	// Register 登记一台终端
	Register(cfg TerminalConfig) error
	// Terminals 按名称排序返回已登记的终端
	Terminals() []TerminalConfig

	// --- 同步 ---

	// SyncTerminal 建立独立会话，拉取用户、指纹与考勤并写入存储
	SyncTerminal(ctx context.Context, name string) (SyncRun, error)
	// SyncAll 并发同步所有终端，各终端互不共享会话
	SyncAll(ctx context.Context) error

	// --- 运行时状态 ---

	// HandleSeen 记录一次成功的会话
	HandleSeen(name string)
	// QueryDeviceStatus 查询终端在线状态
	QueryDeviceStatus(name string) (DeviceStatus, error)

	// --- 消息队列 ---

	QueuePush(name string, message DownlinkMessage) error
	QueuePop(name string) (DownlinkMessage, bool)
	QueueIsEmpty(name string) bool
}

// MessageQueue 定义消息队列的底层操作接口
// 用于缓冲后端发往终端的指令
type MessageQueue interface {
	// Push 入队
	Push(name string, message DownlinkMessage) error

	// PushFront 把未能执行的指令放回队首
	PushFront(name string, message DownlinkMessage) error

	// Pop 出队 (FIFO)
	// 返回: (指令内容, 是否存在指令)
	Pop(name string) (DownlinkMessage, bool)

	IsEmpty(name string) bool
}
