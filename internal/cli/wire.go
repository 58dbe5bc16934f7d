package cli

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/api"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/events"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/metrics"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/repository"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/service"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/ssh"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/telemetry"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/trace"
	"github.com/QingMing-Bot/vmrun-ssh-manager/pkg/config"
	"github.com/QingMing-Bot/vmrun-ssh-manager/pkg/secret"
)

// App 一次命令运行期间的全部依赖
type App struct {
	Cfg      *config.Config
	Log      *zap.Logger
	DB       *sql.DB
	Machines *repository.MachineRepo
	History  *repository.HistoryRepo
	Tracer   *trace.Tracer
	Backend  *api.Backend

	closers []func()
}

type appOptions struct {
	keyDir string // 非空时私钥存放在此目录(验证脚本用临时目录)
	exit   func(int)
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// buildApp 按配置装配存储、传输、服务与可选的观测组件
func buildApp(cfg *config.Config, o appOptions) (*App, error) {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log}
	a.closers = append(a.closers, func() { _ = log.Sync() })

	db, err := repository.Open(cfg.DBPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() { _ = db.Close() })
	a.Machines = repository.NewMachineRepo(db)
	a.History = repository.NewHistoryRepo(db)
	if cfg.HistoryRetentionDays > 0 || cfg.HistoryMaxRows > 0 {
		if err := a.History.Cleanup(cfg.HistoryRetentionDays, cfg.HistoryMaxRows); err != nil {
			log.Warn("trace archive cleanup failed", zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		metrics.RegisterMetrics(mux, reg)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})
	}

	shutdownTracing, err := telemetry.Setup(cfg.OTelStdout, os.Stderr)
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	} else {
		a.closers = append(a.closers, func() { _ = shutdownTracing(context.Background()) })
	}

	hw := service.NewHistoryWriter(a.History, cfg.HistoryFlushInterval, cfg.HistoryBatchSize, log)
	a.closers = append(a.closers, hw.Close)
	sinks := []service.TraceSink{hw}
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(cfg.NATSURL, cfg.NATSSubject, log)
		if err != nil {
			log.Warn("trace events disabled", zap.Error(err))
		} else {
			sinks = append(sinks, pub)
			a.closers = append(a.closers, pub.Close)
		}
	}

	keyDir := o.keyDir
	if keyDir == "" {
		keyDir = cfg.DataDir
	}
	creds := service.NewCredentialManager(secret.NewFileStore(keyDir), cfg.KeyMaxBytes, log)
	client := ssh.NewClient(creds.Loader(), cfg.DialTimeout, log)
	a.closers = append(a.closers, client.Close)

	a.Tracer = trace.New(cfg.TraceCapacity)
	exec := service.NewRemoteExecutor(client, a.Tracer,
		service.WithSinks(sinks...),
		service.WithMetrics(m),
		service.WithLogger(log),
		service.WithDefaultTimeout(cfg.ExecTimeout),
	)
	vm := service.NewVMService(exec, service.VMOptions{
		ExecTimeout:       cfg.ExecTimeout,
		ListTimeout:       cfg.ListTimeout,
		ScanTimeout:       cfg.ScanTimeout,
		MaxAttempts:       cfg.StartAttempts,
		RetryDelay:        cfg.RetryDelay,
		ReconcilePolls:    cfg.ReconcilePolls,
		ReconcileInterval: cfg.ReconcileInterval,
	}, m, log)

	opts := []api.Option{api.WithOpTimeout(cfg.OpTimeout), api.WithLogger(log)}
	if o.exit != nil {
		opts = append(opts, api.WithExit(o.exit))
	}
	a.Backend = api.NewBackend(vm, creds, a.Tracer, opts...)
	return a, nil
}

// Close 逆序释放资源
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// tempKeyDir 验证脚本使用的一次性私钥目录
func tempKeyDir() (string, func(), error) {
	dir, err := os.MkdirTemp("", "vmctl-e2e-")
	if err != nil {
		return "", nil, err
	}
	return filepath.Clean(dir), func() { _ = os.RemoveAll(dir) }, nil
}
