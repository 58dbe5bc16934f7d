package config

// 统一配置加载：默认值 <- YAML 文件(VMCTL_CONFIG，可选) <- 环境变量。
// CLI flag 在此之后由调用方覆盖到具体请求上。

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 保存运行时关键参数。
type Config struct {
	DataDir  string `yaml:"data_dir"`  // 数据目录(数据库、私钥)
	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	// 默认远端目标，可被 CLI flag 覆盖
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`

	DialTimeout       time.Duration `yaml:"dial_timeout"`
	ExecTimeout       time.Duration `yaml:"exec_timeout"` // 单次远程调用
	ListTimeout       time.Duration `yaml:"list_timeout"`
	ScanTimeout       time.Duration `yaml:"scan_timeout"`
	OpTimeout         time.Duration `yaml:"op_timeout"` // 整个操作(含重试与对账)
	StartAttempts     int           `yaml:"start_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	ReconcilePolls    int           `yaml:"reconcile_polls"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	TraceCapacity int `yaml:"trace_capacity"`
	KeyMaxBytes   int `yaml:"key_max_bytes"`

	HistoryRetentionDays int           `yaml:"history_retention_days"`
	HistoryMaxRows       int           `yaml:"history_max_rows"`
	HistoryFlushInterval time.Duration `yaml:"history_flush_interval"`
	HistoryBatchSize     int           `yaml:"history_batch_size"`

	NATSURL     string `yaml:"nats_url"` // 非空则发布 trace 事件
	NATSSubject string `yaml:"nats_subject"`
	MetricsAddr string `yaml:"metrics_addr"` // 非空则暴露 /metrics
	OTelStdout  bool   `yaml:"otel_stdout"`  // span 输出到 stderr
}

var (
	once    sync.Once
	global  *Config
	loadErr error
)

// Load 读取全局配置（只初始化一次）。
// 环境变量(均以 VMCTL_ 开头)：
//
//	VMCTL_CONFIG            YAML 配置文件路径
//	VMCTL_DATA_DIR          数据目录 (默认 data)
//	VMCTL_HOST/PORT/USER    默认远端目标
//	VMCTL_EXEC_TIMEOUT      单次远程调用时限 (默认 60s)
//	VMCTL_OP_TIMEOUT        单个操作总时限 (默认 5m)
//	VMCTL_START_ATTEMPTS    启停最大尝试次数 (默认 2)
//	VMCTL_NATS_URL          trace 事件总线
//	VMCTL_METRICS_ADDR      Prometheus 监听地址
func Load() (*Config, error) {
	once.Do(func() {
		global, loadErr = load(os.Getenv)
		if loadErr == nil {
			loadErr = os.MkdirAll(global.DataDir, 0o755)
		}
	})
	return global, loadErr
}

// Defaults 返回未经文件与环境变量覆盖的默认配置
func Defaults() *Config {
	return &Config{
		DataDir:              "data",
		LogLevel:             "info",
		Port:                 22,
		DialTimeout:          10 * time.Second,
		ExecTimeout:          60 * time.Second,
		ListTimeout:          20 * time.Second,
		ScanTimeout:          120 * time.Second,
		OpTimeout:            5 * time.Minute,
		StartAttempts:        2,
		RetryDelay:           800 * time.Millisecond,
		ReconcilePolls:       5,
		ReconcileInterval:    time.Second,
		TraceCapacity:        200,
		KeyMaxBytes:          256 << 10,
		HistoryRetentionDays: 30,
		HistoryMaxRows:       10000,
		HistoryFlushInterval: 2 * time.Second,
		HistoryBatchSize:     20,
		NATSSubject:          "vmctl.trace",
	}
}

func load(getenv func(string) string) (*Config, error) {
	c := Defaults()
	if p := getenv("VMCTL_CONFIG"); p != "" {
		if err := c.mergeFile(p); err != nil {
			return nil, err
		}
	}
	e := envReader{getenv: getenv}
	c.DataDir = e.str("VMCTL_DATA_DIR", c.DataDir)
	c.LogLevel = e.str("VMCTL_LOG_LEVEL", c.LogLevel)
	c.Host = e.str("VMCTL_HOST", c.Host)
	c.Port = e.int("VMCTL_PORT", c.Port)
	c.User = e.str("VMCTL_USER", c.User)
	c.DialTimeout = e.duration("VMCTL_DIAL_TIMEOUT", c.DialTimeout)
	c.ExecTimeout = e.duration("VMCTL_EXEC_TIMEOUT", c.ExecTimeout)
	c.ListTimeout = e.duration("VMCTL_LIST_TIMEOUT", c.ListTimeout)
	c.ScanTimeout = e.duration("VMCTL_SCAN_TIMEOUT", c.ScanTimeout)
	c.OpTimeout = e.duration("VMCTL_OP_TIMEOUT", c.OpTimeout)
	c.StartAttempts = e.int("VMCTL_START_ATTEMPTS", c.StartAttempts)
	c.RetryDelay = e.duration("VMCTL_RETRY_DELAY", c.RetryDelay)
	c.ReconcilePolls = e.int("VMCTL_RECONCILE_POLLS", c.ReconcilePolls)
	c.ReconcileInterval = e.duration("VMCTL_RECONCILE_INTERVAL", c.ReconcileInterval)
	c.TraceCapacity = e.int("VMCTL_TRACE_CAPACITY", c.TraceCapacity)
	c.KeyMaxBytes = e.int("VMCTL_KEY_MAX_BYTES", c.KeyMaxBytes)
	c.HistoryRetentionDays = e.int("VMCTL_HISTORY_RETENTION_DAYS", c.HistoryRetentionDays)
	c.HistoryMaxRows = e.int("VMCTL_HISTORY_MAX_ROWS", c.HistoryMaxRows)
	c.HistoryFlushInterval = e.duration("VMCTL_HISTORY_FLUSH_INTERVAL", c.HistoryFlushInterval)
	c.HistoryBatchSize = e.int("VMCTL_HISTORY_BATCH_SIZE", c.HistoryBatchSize)
	c.NATSURL = e.str("VMCTL_NATS_URL", c.NATSURL)
	c.NATSSubject = e.str("VMCTL_NATS_SUBJECT", c.NATSSubject)
	c.MetricsAddr = e.str("VMCTL_METRICS_ADDR", c.MetricsAddr)
	c.OTelStdout = e.bool("VMCTL_OTEL_STDOUT", c.OTelStdout)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate 检查明显错误的取值
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("config: data_dir is empty")
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("config: port %d out of range", c.Port)
	case c.StartAttempts < 1:
		return fmt.Errorf("config: start_attempts must be >= 1")
	case c.ExecTimeout <= 0 || c.OpTimeout <= 0:
		return fmt.Errorf("config: timeouts must be positive")
	case c.TraceCapacity < 1:
		return fmt.Errorf("config: trace_capacity must be >= 1")
	}
	return nil
}

// DBPath 返回 sqlite 文件路径。
func (c *Config) DBPath() string { return filepath.Join(c.DataDir, "vmctl.db") }

// Helpers
type envReader struct{ getenv func(string) string }

func (e envReader) str(k, def string) string {
	if v := e.getenv(k); v != "" {
		return v
	}
	return def
}

func (e envReader) int(k string, def int) int {
	if v := e.getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (e envReader) duration(k string, def time.Duration) time.Duration {
	if v := e.getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func (e envReader) bool(k string, def bool) bool {
	if v := e.getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
