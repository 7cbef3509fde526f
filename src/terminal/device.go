package terminal

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/record"
)

// 设备参数键
const (
	OptionSerialNumber = "~SerialNumber"
	OptionPlatform     = "~Platform"
	OptionDeviceName   = "~DeviceName"
	OptionMAC          = "MAC"
	OptionFPVersion    = "~ZKFPVersion"
)

// GetTime 读取终端时钟
func (t *Terminal) GetTime() (time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getTime()
}

func (t *Terminal) getTime() (time.Time, error) {
	resp, err := t.commandOK("can't get time", inter.CmdGetTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	if len(resp.Payload) < 4 {
		return time.Time{}, &inter.ResponseError{Op: "can't get time", Code: resp.Command}
	}
	return record.DecodeTime(resp.Payload[:4]), nil
}

// SetTime 设置终端时钟，按本地时区编码
func (t *Terminal) SetTime(ts time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, record.EncodeTime(ts))
	_, err := t.commandOK("can't set time", inter.CmdSetTime, payload)
	return err
}

// Unlock 开门 seconds 秒，固件以 0.1 秒为单位
func (t *Terminal) Unlock(seconds int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, uint32(seconds*10))
	_, err := t.commandOK("can't open door", inter.CmdUnlock, payload)
	return err
}

// Restart 重启终端，成功后会话随之结束
func (t *Terminal) Restart() error {
	return t.terminate("can't restart device", inter.CmdRestart)
}

// PowerOff 关闭终端电源
func (t *Terminal) PowerOff() error {
	return t.terminate("can't power off device", inter.CmdPowerOff)
}

func (t *Terminal) terminate(op string, cmd inter.CmdID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.commandOK(op, cmd, nil); err != nil {
		return err
	}
	t.teardown()
	return nil
}

// EnableDevice 恢复终端的按键与识别
func (t *Terminal) EnableDevice() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.commandOK("can't enable device", inter.CmdEnableDevice, nil)
	return err
}

// DisableDevice 锁定终端，批量读取前调用可避免数据变动
func (t *Terminal) DisableDevice() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.commandOK("can't disable device", inter.CmdDisableDevice, nil)
	return err
}

// TestVoice 播放第 index 条提示音
func (t *Terminal) TestVoice(index uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, index)
	_, err := t.commandOK("can't test voice", inter.CmdTestVoice, payload)
	return err
}

// GetFirmwareVersion 固件版本字符串
func (t *Terminal) GetFirmwareVersion() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firmwareVersion()
}

func (t *Terminal) firmwareVersion() (string, error) {
	resp, err := t.commandOK("can't read firmware version", inter.CmdGetVersion, nil)
	if err != nil {
		return "", err
	}
	return cut(resp.Payload), nil
}

// GetOption 读取设备参数，应答形如 "key=value\x00"
func (t *Terminal) GetOption(key string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.option(key)
}

func (t *Terminal) option(key string) (string, error) {
	resp, err := t.commandOK("can't read option "+key, inter.CmdOptionsRRQ, append([]byte(key), 0))
	if err != nil {
		return "", err
	}
	_, value, found := bytes.Cut(resp.Payload, []byte("="))
	if !found {
		return "", nil
	}
	return cut(value), nil
}

func (t *Terminal) GetSerialNumber() (string, error) { return t.GetOption(OptionSerialNumber) }
func (t *Terminal) GetPlatform() (string, error)     { return t.GetOption(OptionPlatform) }
func (t *Terminal) GetDeviceName() (string, error)   { return t.GetOption(OptionDeviceName) }
func (t *Terminal) GetMAC() (string, error)          { return t.GetOption(OptionMAC) }
func (t *Terminal) GetFPVersion() (string, error)    { return t.GetOption(OptionFPVersion) }

// GetPinWidth 工号最大位数
func (t *Terminal) GetPinWidth() (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.commandOK("can't read pin width", inter.CmdGetPinWidth, []byte(" P"))
	if err != nil {
		return 0, err
	}
	if len(resp.Payload) == 0 {
		return 0, &inter.ResponseError{Op: "can't read pin width", Code: resp.Command}
	}
	return int(resp.Payload[0]), nil
}

// DeviceInfo 汇总序列号、固件、平台、名称、MAC 与时钟
// 单项参数读取失败只留空，会话级错误直接返回
func (t *Terminal) DeviceInfo() (inter.DeviceInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var info inter.DeviceInfo
	fw, err := t.firmwareVersion()
	if err != nil {
		return info, err
	}
	info.FirmwareVersion = fw

	for _, f := range []struct {
		key string
		dst *string
	}{
		{OptionSerialNumber, &info.SerialNumber},
		{OptionPlatform, &info.Platform},
		{OptionDeviceName, &info.DeviceName},
		{OptionMAC, &info.MAC},
	} {
		v, err := t.option(f.key)
		if err != nil {
			if t.link == nil {
				return info, err
			}
			t.log.WithError(err).WithField("option", f.key).Debug("Terminal: 读取参数失败")
			continue
		}
		*f.dst = v
	}

	ts, err := t.getTime()
	if err != nil {
		return info, err
	}
	info.Time = ts
	return info, nil
}

// cut 截取第一个 NUL 之前的部分
func cut(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
