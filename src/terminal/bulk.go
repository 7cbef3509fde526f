package terminal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/sirupsen/logrus"
)

const (
	MaxChunkTCP = 0xFFC0
	MaxChunkUDP = 16 * 1024
)

var errPrematureAck = errors.New("数据未收齐即收到 ACK_OK")

// ReadWithBuffer 通过 PREPARE_BUFFER / READ_BUFFER 读取一整张数据表
// 返回的数据以 4 字节表长度开头
func (t *Terminal) ReadWithBuffer(cmd inter.CmdID, fct int, ext uint32) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readWithBuffer(cmd, fct, ext)
}

func (t *Terminal) readWithBuffer(cmd inter.CmdID, fct int, ext uint32) ([]byte, error) {
	// <b h i i>
	req := make([]byte, 11)
	req[0] = 1
	binary.LittleEndian.PutUint16(req[1:], uint16(cmd))
	binary.LittleEndian.PutUint32(req[3:], uint32(fct))
	binary.LittleEndian.PutUint32(req[7:], ext)

	resp, err := t.command(inter.CmdPrepareBuffer, req)
	if err != nil {
		return nil, err
	}
	switch resp.Command {
	case inter.CmdData:
		// 数据量小时整张表直接内嵌在应答中
		return resp.Payload, nil
	case inter.CmdAckOK:
	default:
		return nil, &inter.ResponseError{Op: "read buffer not supported", Code: resp.Command}
	}
	if len(resp.Payload) < 5 {
		return nil, &inter.TransferError{Op: "prepare buffer", Err: fmt.Errorf("应答仅 %d 字节", len(resp.Payload))}
	}
	size := int(binary.LittleEndian.Uint32(resp.Payload[1:5]))

	maxChunk := MaxChunkTCP
	if !t.link.tcp {
		maxChunk = MaxChunkUDP
	}

	data := make([]byte, 0, size)
	for start := 0; start < size; start += maxChunk {
		n := min(maxChunk, size-start)
		chunk, err := t.readChunkWithRetry(start, n)
		if err != nil {
			return nil, err
		}
		data = append(data, chunk...)
	}

	t.freeData()
	t.log.WithFields(logrus.Fields{"cmd": cmd, "bytes": len(data)}).Debug("Terminal: 批量读取完成")
	return data, nil
}

func (t *Terminal) freeData() {
	resp, err := t.command(inter.CmdFreeData, nil)
	if err != nil {
		t.log.WithError(err).Warn("Terminal: FREE_DATA 失败")
		return
	}
	if !resp.OK() {
		t.log.WithField("resp", resp.Command).Warn("Terminal: FREE_DATA 被拒绝")
	}
}

func (t *Terminal) readChunkWithRetry(start, size int) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		chunk, retry, err := t.readChunk(start, size)
		if err == nil {
			return chunk, nil
		}
		if !retry || attempt >= t.cfg.ChunkRetries {
			return nil, err
		}
		t.log.WithFields(logrus.Fields{"start": start, "size": size, "attempt": attempt + 1}).
			WithError(err).Warn("Terminal: 分块读取被拒绝，重试")
	}
}

// readChunk 读取 [start, start+size) 区间
// retry 为 true 表示终端以普通错误应答拒绝了请求，尚未消费任何数据流
func (t *Terminal) readChunk(start, size int) (chunk []byte, retry bool, err error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], uint32(start))
	binary.LittleEndian.PutUint32(req[4:], uint32(size))

	resp, err := t.command(inter.CmdReadBuffer, req)
	if err != nil {
		return nil, false, &inter.TransferError{Op: "read buffer", Expected: size, Err: err}
	}

	switch resp.Command {
	case inter.CmdData:
		return t.fitChunk(resp.Payload, size)
	case inter.CmdPrepareData:
		if len(resp.Payload) < 4 {
			return nil, false, &inter.TransferError{Op: "prepare data", Expected: size, Err: fmt.Errorf("应答仅 %d 字节", len(resp.Payload))}
		}
		declared := int(binary.LittleEndian.Uint32(resp.Payload[0:4]))
		data, err := t.receiveStream(declared)
		if err != nil {
			return nil, false, err
		}
		return t.fitChunk(data, size)
	}
	return nil, true, &inter.TransferError{Op: "read buffer", Expected: size, Err: &inter.ResponseError{Op: "read buffer", Code: resp.Command}}
}

// fitChunk 多余字节截断并告警，不足则判定传输失败
func (t *Terminal) fitChunk(data []byte, size int) ([]byte, bool, error) {
	if len(data) > size {
		t.log.WithFields(logrus.Fields{"expected": size, "received": len(data)}).Warn("Terminal: 收到的数据多于声明长度，已截断")
		return data[:size], false, nil
	}
	if len(data) < size {
		return nil, false, &inter.TransferError{Op: "read chunk", Expected: size, Received: len(data)}
	}
	return data, false, nil
}

// receiveStream 在 PREPARE_DATA 之后按字节数累积 DATA 帧，随后等待 ACK_OK
// 不更新回复序号
func (t *Terminal) receiveStream(declared int) ([]byte, error) {
	buf := make([]byte, 0, declared)
	// 链路停在完整控制包之后时会话仍可用，其余情况流的位置未知，只能断开
	stall := func(err error) error {
		clean := errors.Is(err, errPrematureAck) || errors.Is(err, inter.ErrResponse)
		if !clean || t.link.inFrame() {
			t.teardown()
		}
		return &inter.TransferError{Op: "receive data", Expected: declared, Received: len(buf), Err: err}
	}

	for len(buf) < declared || t.link.inFrame() {
		f, err := t.link.nextFrame()
		if err != nil {
			return nil, stall(err)
		}
		switch f.Kind {
		case FrameData, FrameRawContinuation:
			buf = append(buf, f.Data...)
		case FrameAckOK:
			return nil, stall(errPrematureAck)
		default:
			return nil, stall(&inter.ResponseError{Op: "receive data", Code: f.command()})
		}
	}
	if len(buf) > declared {
		t.log.WithFields(logrus.Fields{"expected": declared, "received": len(buf)}).Warn("Terminal: 数据流多于声明长度，已截断")
		buf = buf[:declared]
	}

	f, err := t.link.nextFrame()
	if err != nil {
		return nil, stall(err)
	}
	if f.Kind != FrameAckOK {
		return nil, stall(&inter.ResponseError{Op: "receive data", Code: f.command()})
	}
	return buf, nil
}

func (f Frame) command() inter.CmdID {
	if f.Packet != nil {
		return f.Packet.Command
	}
	return inter.CmdData
}
