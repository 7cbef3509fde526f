package cli

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/protocol"
	"github.com/nhirsama/goster-zk/src/record"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// 模拟终端: 在本地 TCP 端口上按固件行为应答
// =============================================================================

const simSession uint16 = 0x45cf

type simDevice struct {
	ln       net.Listener
	password uint32
	users    []inter.User
	records  []inter.Attendance
	options  map[string]string
	clock    time.Time

	mu       sync.Mutex
	commands []inter.CmdID
	unlocked []uint32
}

func startSimDevice(t *testing.T, password uint32) *simDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	clock := time.Date(2024, 5, 1, 8, 0, 0, 0, time.Local)
	d := &simDevice{
		ln:       ln,
		password: password,
		users: []inter.User{
			{UID: 1, UserID: "5147983", Name: "JesusSaldivar", Privilege: 14, Password: "123"},
			{UID: 2, UserID: "3494866", Name: "NievesLopez"},
		},
		records: []inter.Attendance{
			{UID: 1, UserID: "5147983", Timestamp: clock.Add(30 * time.Minute), Status: 1},
			{UID: 2, UserID: "3494866", Timestamp: clock.Add(45 * time.Minute), Punch: 1},
		},
		options: map[string]string{
			"~SerialNumber": "OIN7040057121100044",
			"~Platform":     "ZMM220_TFT",
			"~DeviceName":   "F22/ID",
			"MAC":           "00:17:61:c8:ec:17",
		},
		clock: clock,
	}
	go d.serve()
	t.Cleanup(func() { ln.Close() })
	return d
}

func (d *simDevice) port() int { return d.ln.Addr().(*net.TCPAddr).Port }

func (d *simDevice) serve() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		go d.handle(conn)
	}
}

// handle 处理一条连接，可达性探测的空连接读到 EOF 后直接结束
func (d *simDevice) handle(conn net.Conn) {
	defer conn.Close()
	codec := protocol.NewZKCodec()
	top := make([]byte, inter.TCPTopSize)
	for {
		if _, err := io.ReadFull(conn, top); err != nil {
			return
		}
		n, err := protocol.ParseTCPTop(top)
		if err != nil {
			return
		}
		inner := make([]byte, n)
		if _, err := io.ReadFull(conn, inner); err != nil {
			return
		}
		pkt, err := codec.Unpack(inner)
		if err != nil {
			return
		}

		cmd, payload := d.reply(pkt)
		if _, err := conn.Write(protocol.WrapTCP(codec.Pack(cmd, payload, simSession, pkt.ReplyID))); err != nil {
			return
		}
		if pkt.Command == inter.CmdExit {
			return
		}
	}
}

func (d *simDevice) reply(pkt *inter.Packet) (inter.CmdID, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, pkt.Command)

	switch pkt.Command {
	case inter.CmdConnect:
		if d.password != 0 {
			return inter.CmdAckUnauth, nil
		}
	case inter.CmdAuth:
		if !bytes.Equal(pkt.Payload, protocol.MakeCommKey(d.password, simSession, protocol.DefaultTicks)) {
			return inter.CmdAckUnauth, nil
		}
	case inter.CmdGetVersion:
		return inter.CmdAckOK, []byte("Ver 6.60 Apr 28 2017\x00")
	case inter.CmdOptionsRRQ:
		key := strings.TrimRight(string(pkt.Payload), "\x00")
		return inter.CmdAckOK, []byte(key + "=" + d.options[key] + "\x00")
	case inter.CmdGetTime:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, record.EncodeTime(d.clock))
		return inter.CmdAckOK, b
	case inter.CmdGetFreeSizes:
		p := make([]byte, record.SizesMinLen)
		binary.LittleEndian.PutUint32(p[16:], uint32(len(d.users)))
		binary.LittleEndian.PutUint32(p[32:], uint32(len(d.records)))
		return inter.CmdAckOK, p
	case inter.CmdPrepareBuffer:
		return d.table(inter.CmdID(binary.LittleEndian.Uint16(pkt.Payload[1:3])))
	case inter.CmdUnlock:
		d.unlocked = append(d.unlocked, binary.LittleEndian.Uint32(pkt.Payload))
	}
	return inter.CmdAckOK, nil
}

// table 数据量小，整张表直接以 DATA 应答
func (d *simDevice) table(cmd inter.CmdID) (inter.CmdID, []byte) {
	var body []byte
	switch cmd {
	case inter.CmdUserTempRRQ:
		for _, u := range d.users {
			b, _ := record.EncodeUser(u, record.UserSizeZK8)
			body = append(body, b...)
		}
	case inter.CmdAttLogRRQ:
		for _, a := range d.records {
			body = append(body, record.EncodeAttendance(a, record.AttendanceSize40)...)
		}
	default:
		return inter.CmdAckError, nil
	}
	data := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(data, uint32(len(body)))
	return inter.CmdData, append(data, body...)
}

func (d *simDevice) seen(cmd inter.CmdID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// =============================================================================
// 端到端同步
// =============================================================================

func simConfig(t *testing.T, dev *simDevice, password uint32) Config {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	cfg.Datastore.DSN = filepath.Join(t.TempDir(), "sim.db")
	cfg.Web.Addr = "127.0.0.1:0"
	cfg.Sync.Interval = 0
	cfg.Terminals = []inter.TerminalConfig{{
		Name:     "sim",
		Host:     "127.0.0.1",
		Port:     dev.port(),
		Password: password,
		OmitPing: true,
		Timeout:  2 * time.Second,
	}}
	return cfg
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSimulatedTerminalSync(t *testing.T) {
	dev := startSimDevice(t, 12)
	a, err := newApp(simConfig(t, dev, 12), quietLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)

	require.NoError(t, a.manager.QueuePush("sim", inter.DownlinkMessage{Kind: inter.CommandUnlock, Seconds: 4}))

	run, err := a.manager.SyncTerminal(context.Background(), "sim")
	require.NoError(t, err)
	assert.Equal(t, 2, run.Users)
	assert.Equal(t, 2, run.Attendance)
	assert.Equal(t, 0, run.Templates)

	users, err := a.store.ListUsers("sim")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "JesusSaldivar", users[0].Name)
	assert.Equal(t, "3494866", users[1].UserID)

	records, err := a.store.QueryAttendance("sim", dev.clock, dev.clock.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "5147983", records[0].UserID)
	assert.True(t, records[0].Timestamp.Equal(dev.clock.Add(30*time.Minute)))

	rec, err := a.store.LoadTerminal("sim")
	require.NoError(t, err)
	assert.Equal(t, "OIN7040057121100044", rec.SerialNumber)
	assert.Equal(t, "ZMM220_TFT", rec.Platform)
	assert.False(t, rec.LastSyncAt.IsZero())

	assert.Equal(t, []uint32{40}, dev.unlocked)
	for _, cmd := range []inter.CmdID{inter.CmdAuth, inter.CmdDisableDevice, inter.CmdEnableDevice, inter.CmdExit} {
		assert.True(t, dev.seen(cmd), "cmd %d", cmd)
	}

	status, err := a.manager.QueryDeviceStatus("sim")
	require.NoError(t, err)
	assert.Equal(t, inter.StatusOnline, status)

	// 第二次同步时考勤已存在
	run, err = a.manager.SyncTerminal(context.Background(), "sim")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Attendance)
}

func TestSimulatedTerminal_WrongPassword(t *testing.T) {
	dev := startSimDevice(t, 12)
	a, err := newApp(simConfig(t, dev, 45), quietLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)

	run, err := a.manager.SyncTerminal(context.Background(), "sim")
	assert.ErrorIs(t, err, inter.ErrUnauthenticated)
	assert.NotEmpty(t, run.Error)
	assert.False(t, dev.seen(inter.CmdDisableDevice))

	runs, err := a.store.ListSyncRuns("sim", 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.Error, runs[0].Error)
}

func TestAppRun_PeriodicSyncAndShutdown(t *testing.T) {
	dev := startSimDevice(t, 0)
	cfg := simConfig(t, dev, 0)
	cfg.Sync.Interval = 50 * time.Millisecond
	a, err := newApp(cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(a.close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	require.Eventually(t, func() bool {
		runs, err := a.store.ListSyncRuns("sim", 10)
		return err == nil && len(runs) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
