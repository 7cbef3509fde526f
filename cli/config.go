package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhirsama/goster-zk/src/datastore"
	"github.com/nhirsama/goster-zk/src/device_manager"
	"github.com/nhirsama/goster-zk/src/inter"
	"github.com/nhirsama/goster-zk/src/terminal"
	"github.com/nhirsama/goster-zk/src/web"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 GOSTER_ZK_DATASTORE_DSN
const EnvPrefix = "GOSTER_ZK"

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatastoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type WebConfig struct {
	Addr string `mapstructure:"addr"`
}

type SyncConfig struct {
	// Interval 为 0 时只响应手动同步
	Interval  time.Duration `mapstructure:"interval"`
	Parallel  int           `mapstructure:"parallel"`
	DeathLine time.Duration `mapstructure:"death_line"`
}

// TerminalDefaults 各终端未单独配置时使用的连接参数
type TerminalDefaults struct {
	Port         int           `mapstructure:"port"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ChunkRetries int           `mapstructure:"chunk_retries"`
}

type Config struct {
	Log       LogConfig              `mapstructure:"log"`
	Datastore DatastoreConfig        `mapstructure:"datastore"`
	Web       WebConfig              `mapstructure:"web"`
	Sync      SyncConfig             `mapstructure:"sync"`
	Defaults  TerminalDefaults       `mapstructure:"defaults"`
	Terminals []inter.TerminalConfig `mapstructure:"terminals"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("datastore.driver", datastore.DriverSQLite)
	v.SetDefault("datastore.dsn", "./data.db")
	v.SetDefault("web.addr", web.DefaultAddr)
	v.SetDefault("sync.interval", 5*time.Minute)
	v.SetDefault("sync.parallel", device_manager.DefaultParallel)
	v.SetDefault("sync.death_line", device_manager.DefaultDeathLine)
	v.SetDefault("defaults.port", inter.DefaultPort)
	v.SetDefault("defaults.timeout", terminal.DefaultTimeout)
	v.SetDefault("defaults.chunk_retries", terminal.DefaultChunkRetries)
}

// LoadConfig 依次叠加默认值、配置文件、环境变量与命令行参数
// path 为空时不读取文件，flags 可为 nil
func LoadConfig(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: 读取 %s 失败: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: 解析失败: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize 为终端补齐默认参数并检查名称冲突
func (c *Config) normalize() error {
	seen := make(map[string]bool, len(c.Terminals))
	for i := range c.Terminals {
		t := &c.Terminals[i]
		if t.Name == "" || t.Host == "" {
			return fmt.Errorf("config: 第 %d 台终端缺少 name 或 host", i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("config: %w: %s", inter.ErrTerminalExists, t.Name)
		}
		seen[t.Name] = true

		if t.Port == 0 {
			t.Port = c.Defaults.Port
		}
		if t.Timeout <= 0 {
			t.Timeout = c.Defaults.Timeout
		}
	}
	if c.Sync.Interval < 0 {
		return errors.New("config: sync.interval 不能为负")
	}
	return nil
}

// NewLogger 按配置创建 logrus 实例
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log := logrus.New()
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("config: 未知日志格式 %q", cfg.Format)
	}
	return log, nil
}
