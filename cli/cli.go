package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nhirsama/goster-zk/src/datastore"
	"github.com/nhirsama/goster-zk/src/device_manager"
	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/terminal"
	"github.com/nhirsama/goster-zk/src/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

// Run 解析参数与配置，运行到收到 SIGINT/SIGTERM 为止
func Run(args []string) error {
	flags := pflag.NewFlagSet("goster-zk", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "配置文件路径 (yaml/toml/json)")
	flags.String("web.addr", "", "HTTP 监听地址")
	flags.String("log.level", "", "日志级别")
	flags.String("datastore.dsn", "", "数据库连接串")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := LoadConfig(*configPath, flags)
	if err != nil {
		return err
	}
	log, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	err = a.run(ctx)
	log.Info("系统正常关闭")
	return err
}

type app struct {
	cfg     Config
	log     logrus.FieldLogger
	store   inter.DataStore
	manager *device_manager.DeviceManager
	web     inter.WebServer
}

// newApp 打开存储并登记配置中的全部终端
func newApp(cfg Config, log logrus.FieldLogger) (*app, error) {
	store, err := datastore.NewDataStoreSql(cfg.Datastore.Driver, cfg.Datastore.DSN, log)
	if err != nil {
		return nil, err
	}

	dm := device_manager.NewDeviceManager(store, terminalFactory(cfg.Defaults, log), log)
	if cfg.Sync.Parallel > 0 {
		dm.Parallel = cfg.Sync.Parallel
	}
	if cfg.Sync.DeathLine > 0 {
		dm.DeathLine = cfg.Sync.DeathLine
	}
	for _, tc := range cfg.Terminals {
		if err := dm.Register(tc); err != nil {
			store.Close()
			return nil, err
		}
	}

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		manager: dm,
		web:     web.NewWebServer(store, dm, cfg.Web.Addr, log),
	}, nil
}

// terminalFactory 每次会话创建一个新的终端连接
func terminalFactory(d TerminalDefaults, log logrus.FieldLogger) inter.TerminalFactory {
	return func(tc inter.TerminalConfig) inter.Terminal {
		return terminal.New(terminal.Config{
			Host:         tc.Host,
			Port:         tc.Port,
			Password:     tc.Password,
			ForceUDP:     tc.ForceUDP,
			OmitPing:     tc.OmitPing,
			Timeout:      tc.Timeout,
			ChunkRetries: d.ChunkRetries,
		}, terminal.WithLogger(log.WithField("terminal", tc.Name)))
	}
}

// run 同时运行 web 服务与周期同步，任一出错即整体退出
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.web.Start(ctx) })
	g.Go(func() error { return a.syncLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) syncLoop(ctx context.Context) error {
	if a.cfg.Sync.Interval == 0 {
		a.log.Info("Sync: 未配置同步间隔，仅响应手动同步")
		return nil
	}
	ticker := time.NewTicker(a.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		if err := a.manager.SyncAll(ctx); err != nil {
			a.log.WithError(err).Warn("Sync: 本轮同步存在失败的终端")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("关闭数据库失败")
	}
}
