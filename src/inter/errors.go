package inter

import (
	"errors"
	"fmt"
)

// 定义终端通信相关的标准错误
var (
	// ErrNetwork 套接字级失败: 超时、连接重置、信封非法
	ErrNetwork = errors.New("network: 通信失败")

	// ErrUnreachable ping 探测失败，未发送任何数据
	ErrUnreachable = fmt.Errorf("%w: can't reach device", ErrNetwork)

	// ErrTCPTopInvalid TCP 信封魔数不匹配或长度不足
	ErrTCPTopInvalid = fmt.Errorf("%w: TCP packet invalid", ErrNetwork)

	ErrChecksum    = errors.New("protocol: 校验和不匹配")
	ErrShortPacket = errors.New("protocol: 数据包长度不足")

	ErrNotConnected = errors.New("session: 未连接")

	// ErrResponse 终端返回了非预期的应答码
	ErrResponse = errors.New("response: 终端拒绝请求")

	// ErrUnauthenticated 口令认证被拒绝
	ErrUnauthenticated = errors.New("response: Unauthenticated")

	// ErrTransfer 批量传输未能得到完整数据
	ErrTransfer = errors.New("transfer: 批量传输失败")
)

// ResponseError 携带终端实际返回的应答码
type ResponseError struct {
	Op   string
	Code CmdID
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: 终端应答 %d", e.Op, e.Code)
}

func (e *ResponseError) Is(target error) bool {
	if target == ErrResponse {
		return true
	}
	return target == ErrUnauthenticated && e.Code == CmdAckUnauth
}

// TransferError 描述一次失败的批量读取
type TransferError struct {
	Op       string
	Expected int
	Received int
	Err      error
}

func (e *TransferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: 期望 %d 字节, 已收 %d 字节: %v", e.Op, e.Expected, e.Received, e.Err)
	}
	return fmt.Sprintf("%s: 期望 %d 字节, 已收 %d 字节", e.Op, e.Expected, e.Received)
}

func (e *TransferError) Is(target error) bool { return target == ErrTransfer }

func (e *TransferError) Unwrap() error { return e.Err }
