package terminal

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/protocol"
	"github.com/nhirsama/goster-zk/src/record"
)

var errNotLive = errors.New("session: 未处于实时采集模式")

// StartLiveCapture 订阅实时考勤事件
func (t *Terminal) StartLiveCapture() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if resp, err := t.command(inter.CmdCancelCapture, nil); err != nil {
		return err
	} else if !resp.OK() {
		t.log.WithField("resp", resp.Command).Debug("Terminal: CANCELCAPTURE 被拒绝")
	}
	if err := t.regEvent(inter.EfAttLog); err != nil {
		return err
	}
	t.live = true
	t.log.Info("Terminal: 实时采集已开启")
	return nil
}

// NextEvent 等待下一批实时事件，超时返回 nil, nil
// 收到的每个推送包都以 ACK_OK 确认
func (t *Terminal) NextEvent(timeout time.Duration) ([]inter.LiveEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live || t.link == nil {
		return nil, errNotLive
	}
	if err := t.link.tr.SetTimeout(timeout); err != nil {
		return nil, err
	}
	defer func() {
		if t.link != nil {
			_ = t.link.tr.SetTimeout(t.cfg.Timeout)
		}
	}()

	p, err := t.link.readPacket()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, nil
		}
		if errors.Is(err, inter.ErrChecksum) {
			return nil, err
		}
		return nil, t.fail(err)
	}

	ack := t.codec.Pack(inter.CmdAckOK, nil, t.sessionID, protocol.NextReplyID(inter.InitialReplyID))
	if err := t.link.send(ack); err != nil {
		return nil, t.fail(err)
	}
	if p.Command != inter.CmdRegEvent {
		t.log.WithField("cmd", p.Command).Debug("Terminal: 忽略非事件推送")
		return nil, nil
	}
	return record.DecodeEvents(p.Payload), nil
}

// StopLiveCapture 取消事件订阅
func (t *Terminal) StopLiveCapture() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.live {
		return nil
	}
	t.live = false
	return t.regEvent(0)
}

func (t *Terminal) regEvent(flags uint32) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, flags)
	_, err := t.commandOK("can't reg events", inter.CmdRegEvent, payload)
	return err
}
