package device_manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDeathLine = 15 * time.Minute
	DefaultParallel  = 4
	DefaultQueueCap  = 100
)

type DeviceManager struct {
	DataStore inter.DataStore
	factory   inter.TerminalFactory
	log       logrus.FieldLogger

	terminals sync.Map // map[string]inter.TerminalConfig
	sessions  sync.Map // map[string]*sync.Mutex，同一终端同时只有一条会话

	// 运行时状态
	lastSeen  sync.Map // map[string]time.Time
	message   inter.MessageQueue
	DeathLine time.Duration
	// Parallel SyncAll 同时进行的会话数
	Parallel int
}

func NewDeviceManager(ds inter.DataStore, factory inter.TerminalFactory, log logrus.FieldLogger) *DeviceManager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DeviceManager{
		DataStore: ds,
		factory:   factory,
		log:       log,
		message:   NewMessageQueue(DefaultQueueCap),
		DeathLine: DefaultDeathLine,
		Parallel:  DefaultParallel,
	}
}

var _ inter.DeviceManager = (*DeviceManager)(nil)

// --- 终端注册 ---

func (d *DeviceManager) Register(cfg inter.TerminalConfig) error {
	if cfg.Name == "" || cfg.Host == "" {
		return fmt.Errorf("manager: 终端名称与地址不能为空")
	}
	if cfg.Port == 0 {
		cfg.Port = inter.DefaultPort
	}
	if _, loaded := d.terminals.LoadOrStore(cfg.Name, cfg); loaded {
		return fmt.Errorf("%w: %s", inter.ErrTerminalExists, cfg.Name)
	}
	d.sessions.Store(cfg.Name, &sync.Mutex{})

	err := d.DataStore.SaveTerminal(inter.TerminalRecord{Name: cfg.Name, Host: cfg.Host, Port: cfg.Port})
	if err != nil {
		d.terminals.Delete(cfg.Name)
		d.sessions.Delete(cfg.Name)
		return err
	}
	d.log.WithFields(logrus.Fields{"terminal": cfg.Name, "host": cfg.Host, "port": cfg.Port}).Info("DeviceManager: 终端已登记")
	return nil
}

func (d *DeviceManager) Terminals() []inter.TerminalConfig {
	var list []inter.TerminalConfig
	d.terminals.Range(func(_, v any) bool {
		list = append(list, v.(inter.TerminalConfig))
		return true
	})
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (d *DeviceManager) lookup(name string) (inter.TerminalConfig, *sync.Mutex, error) {
	v, ok := d.terminals.Load(name)
	if !ok {
		return inter.TerminalConfig{}, nil, fmt.Errorf("%w: %s", inter.ErrTerminalUnknown, name)
	}
	mu, _ := d.sessions.Load(name)
	return v.(inter.TerminalConfig), mu.(*sync.Mutex), nil
}

// --- 同步 ---

// SyncTerminal 建立一条独立会话：先执行排队指令，再拉取用户、指纹与考勤
// 重启指令放在最后执行，因为它会结束会话
func (d *DeviceManager) SyncTerminal(ctx context.Context, name string) (inter.SyncRun, error) {
	cfg, mu, err := d.lookup(name)
	if err != nil {
		return inter.SyncRun{}, err
	}
	mu.Lock()
	defer mu.Unlock()

	log := d.log.WithField("terminal", name)
	run, err := d.DataStore.BeginSyncRun(name)
	if err != nil {
		return run, err
	}

	err = d.syncSession(ctx, cfg, &run, log)
	if err != nil {
		run.Error = err.Error()
		log.WithError(err).Warn("DeviceManager: 同步失败")
		if werr := d.DataStore.WriteLog(name, "error", run.Error); werr != nil {
			log.WithError(werr).Warn("DeviceManager: 写入日志失败")
		}
	} else {
		log.WithFields(logrus.Fields{
			"users":      run.Users,
			"templates":  run.Templates,
			"attendance": run.Attendance,
		}).Info("DeviceManager: 同步完成")
	}

	run.FinishedAt = time.Now()
	if ferr := d.DataStore.FinishSyncRun(run); ferr != nil && err == nil {
		err = ferr
	}
	metrics.RecordSync(run, err)
	return run, err
}

func (d *DeviceManager) syncSession(ctx context.Context, cfg inter.TerminalConfig, run *inter.SyncRun, log logrus.FieldLogger) error {
	term := d.factory(cfg)
	if err := term.Connect(ctx); err != nil {
		return err
	}
	defer term.Disconnect()
	d.HandleSeen(cfg.Name)

	restart, err := d.drainQueue(cfg.Name, term, log)
	if err != nil {
		return err
	}

	info, err := term.DeviceInfo()
	if err != nil {
		return err
	}

	if err := term.DisableDevice(); err != nil {
		return err
	}
	err = d.pull(ctx, cfg.Name, term, run)
	if eerr := term.EnableDevice(); eerr != nil && err == nil {
		err = eerr
	}
	if err != nil {
		return err
	}

	if err := d.DataStore.SaveTerminal(inter.TerminalRecord{
		Name:            cfg.Name,
		Host:            cfg.Host,
		Port:            cfg.Port,
		SerialNumber:    info.SerialNumber,
		FirmwareVersion: info.FirmwareVersion,
		Platform:        info.Platform,
		MAC:             info.MAC,
		LastSyncAt:      time.Now(),
	}); err != nil {
		return err
	}

	if restart {
		if err := term.Restart(); err != nil {
			return err
		}
		log.Info("DeviceManager: 终端已重启")
	}
	return nil
}

// pull 读取三张表并写入存储
func (d *DeviceManager) pull(ctx context.Context, name string, term inter.Terminal, run *inter.SyncRun) error {
	users, err := term.GetUsers()
	if err != nil {
		return err
	}
	if err := d.DataStore.ReplaceUsers(name, users); err != nil {
		return err
	}
	run.Users = len(users)

	if err := ctx.Err(); err != nil {
		return err
	}
	fingers, err := term.GetTemplates()
	if err != nil {
		return err
	}
	if run.Templates, err = d.DataStore.SaveTemplates(name, fingers); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	records, err := term.GetAttendance()
	if err != nil {
		return err
	}
	run.Attendance, err = d.DataStore.AppendAttendance(name, records)
	return err
}

// drainQueue 执行排队指令，返回是否需要在最后重启
// 会话中断时把失败的指令放回队首并停止，其余指令留待下一次会话
func (d *DeviceManager) drainQueue(name string, term inter.Terminal, log logrus.FieldLogger) (bool, error) {
	restart := false
	for {
		msg, ok := d.message.Pop(name)
		if !ok {
			return restart, nil
		}
		var err error
		switch msg.Kind {
		case inter.CommandUnlock:
			err = term.Unlock(msg.Seconds)
		case inter.CommandSetTime:
			ts := msg.Time
			if ts.IsZero() {
				ts = time.Now()
			}
			err = term.SetTime(ts)
		case inter.CommandRestart:
			restart = true
			continue
		default:
			err = fmt.Errorf("未知指令 %d", msg.Kind)
		}
		if err == nil {
			continue
		}

		log.WithError(err).WithField("kind", msg.Kind).Warn("DeviceManager: 下行指令执行失败")
		if werr := d.DataStore.WriteLog(name, "warn", err.Error()); werr != nil {
			log.WithError(werr).Warn("DeviceManager: 写入日志失败")
		}
		if errors.Is(err, inter.ErrNetwork) || term.State() != inter.StateConnected {
			if perr := d.message.PushFront(name, msg); perr != nil {
				log.WithError(perr).Warn("DeviceManager: 指令放回队列失败")
			}
			if restart {
				_ = d.message.Push(name, inter.DownlinkMessage{Kind: inter.CommandRestart})
			}
			return false, err
		}
	}
}

// SyncAll 每台终端各用一条会话，单台失败不影响其它终端
func (d *DeviceManager) SyncAll(ctx context.Context) error {
	var g errgroup.Group
	if d.Parallel > 0 {
		g.SetLimit(d.Parallel)
	}

	var mu sync.Mutex
	var errs []error
	for _, cfg := range d.Terminals() {
		name := cfg.Name
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := d.SyncTerminal(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// --- 运行时状态实现 ---

func (d *DeviceManager) HandleSeen(name string) {
	d.lastSeen.Store(name, time.Now())
}

func (d *DeviceManager) QueryDeviceStatus(name string) (inter.DeviceStatus, error) {
	if _, ok := d.terminals.Load(name); !ok {
		return inter.StatusOffline, fmt.Errorf("%w: %s", inter.ErrTerminalUnknown, name)
	}
	if val, ok := d.lastSeen.Load(name); ok {
		delta := time.Since(val.(time.Time))

		switch {
		case delta < d.DeathLine:
			return inter.StatusOnline, nil
		case delta < 2*d.DeathLine:
			return inter.StatusDelayed, nil
		}
		return inter.StatusOffline, nil
	}
	return inter.StatusOffline, inter.ErrTerminalNeverSeen
}

// --- 消息队列实现 ---

func (d *DeviceManager) QueuePush(name string, message inter.DownlinkMessage) error {
	if _, ok := d.terminals.Load(name); !ok {
		return fmt.Errorf("%w: %s", inter.ErrTerminalUnknown, name)
	}
	return d.message.Push(name, message)
}

func (d *DeviceManager) QueuePop(name string) (inter.DownlinkMessage, bool) {
	return d.message.Pop(name)
}

func (d *DeviceManager) QueueIsEmpty(name string) bool {
	return d.message.IsEmpty(name)
}
