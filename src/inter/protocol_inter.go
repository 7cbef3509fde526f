package inter

// =============================================================================
// 考勤终端协议常量与类型定义
// =============================================================================

const (
	// MachinePrepareData1 TCP 外层信封魔数前半 (0x5050)
	MachinePrepareData1 uint16 = 0x5050
	// MachinePrepareData2 TCP 外层信封魔数后半 (0x7d82)
	MachinePrepareData2 uint16 = 0x7d82
	// HeaderSize 内层包头大小 (cmd, checksum, session, reply)
	HeaderSize = 8
	// TCPTopSize TCP 信封大小 (magic 4B + length 4B)
	TCPTopSize = 8
	// DefaultPort 终端默认端口
	DefaultPort = 4370
	// USHRTMax 回复序号回绕边界，固件按 0xFFFF 取模而非 0x10000
	USHRTMax uint16 = 0xFFFF
	// InitialReplyID 连接前保存的回复序号，使 CONNECT 的线上序号为 0
	InitialReplyID uint16 = USHRTMax - 1
)

// CmdID 指令码类型
type CmdID uint16

// 控制指令
const (
	CmdConnect       CmdID = 1000
	CmdExit          CmdID = 1001
	CmdEnableDevice  CmdID = 1002
	CmdDisableDevice CmdID = 1003
	CmdRestart       CmdID = 1004
	CmdPowerOff      CmdID = 1005
	CmdRefreshData   CmdID = 1013
	CmdTestVoice     CmdID = 1017
	CmdGetVersion    CmdID = 1100
	CmdAuth          CmdID = 1102
)

// 批量传输指令
const (
	CmdPrepareData   CmdID = 1500
	CmdData          CmdID = 1501
	CmdFreeData      CmdID = 1502
	CmdPrepareBuffer CmdID = 1503 // 固件中亦称 DATA_WRRQ
	CmdReadBuffer    CmdID = 1504 // 固件中亦称 DATA_RDY
)

// 数据表读写指令
const (
	CmdDBRRQ         CmdID = 7
	CmdUserWRQ       CmdID = 8
	CmdUserTempRRQ   CmdID = 9
	CmdOptionsRRQ    CmdID = 11
	CmdOptionsWRQ    CmdID = 12
	CmdAttLogRRQ     CmdID = 13
	CmdClearData     CmdID = 14
	CmdClearAttLog   CmdID = 15
	CmdDeleteUser    CmdID = 18
	CmdUnlock        CmdID = 31
	CmdGetFreeSizes  CmdID = 50
	CmdCancelCapture CmdID = 62
	CmdGetPinWidth   CmdID = 69
	CmdGetTime       CmdID = 201
	CmdSetTime       CmdID = 202
	CmdRegEvent      CmdID = 500
)

// 应答码
const (
	CmdAckOK        CmdID = 2000
	CmdAckError     CmdID = 2001
	CmdAckData      CmdID = 2002
	CmdAckRetry     CmdID = 2003
	CmdAckRepeat    CmdID = 2004
	CmdAckUnauth    CmdID = 2005
	CmdAckUnknown   CmdID = 0xFFFF
	CmdAckErrorCmd  CmdID = 0xFFFD
	CmdAckErrorInit CmdID = 0xFFFC
	CmdAckErrorData CmdID = 0xFFFB
)

// 数据表类型 (FCT)
const (
	FctAttLog    = 1
	FctFingerTmp = 2
	FctOpLog     = 4
	FctUser      = 5
	FctSMS       = 6
	FctUData     = 7
	FctWorkCode  = 8
)

// EfAttLog 实时事件订阅标志: 考勤
const EfAttLog = 1

// 用户权限
const (
	UserDefault  = 0
	UserEnroller = 2
	UserManager  = 6
	UserAdmin    = 14
)

// Packet 表示一个解码后的内层协议包
type Packet struct {
	Command   CmdID
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Payload   []byte
}

// OK 与固件一致: ACK_OK、PREPARE_DATA 与 DATA 都视为成功
func (p *Packet) OK() bool {
	switch p.Command {
	case CmdAckOK, CmdPrepareData, CmdData:
		return true
	}
	return false
}

// ProtocolCodec 定义了内层包封包与解包的核心接口
type ProtocolCodec interface {
	// Pack 生成带校验和的内层包，replyID 为线上序号
	Pack(cmd CmdID, payload []byte, sessionID, replyID uint16) []byte

	// Unpack 解析一个完整的内层包并校验 checksum
	Unpack(buf []byte) (*Packet, error)
}
