// Package api 对外操作面：每个方法对应一个外部操作，统一施加操作级时限。
package api

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/service"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/trace"
)

// DefaultOpTimeout 单个操作(含重试与对账)的默认时限
const DefaultOpTimeout = 5 * time.Minute

// Backend 绑定对象，供 CLI 与验证脚本调用
type Backend struct {
	vm        *service.VMService
	creds     *service.CredentialManager
	tracer    *trace.Tracer
	opTimeout time.Duration
	exit      func(int)
	log       *zap.Logger
}

type Option func(*Backend)

// WithExit 替换进程退出函数(测试用)
func WithExit(fn func(int)) Option { return func(b *Backend) { b.exit = fn } }

func WithOpTimeout(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.opTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.log = l
		}
	}
}

func NewBackend(vm *service.VMService, creds *service.CredentialManager, tracer *trace.Tracer, opts ...Option) *Backend {
	b := &Backend{vm: vm, creds: creds, tracer: tracer, opTimeout: DefaultOpTimeout, exit: os.Exit, log: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, b.opTimeout)
}

// SSHKeyStatus 本地是否已保存私钥
func (b *Backend) SSHKeyStatus() (bool, error) { return b.creds.Status() }

// SSHSetPrivateKey 保存私钥，不连接远端
func (b *Backend) SSHSetPrivateKey(keyText string) error { return b.creds.Set(keyText) }

// SSHClearPrivateKey 删除私钥，幂等
func (b *Backend) SSHClearPrivateKey() error { return b.creds.Clear() }

// SSHExec 执行任意命令，返回解码后的输出
func (b *Backend) SSHExec(ctx context.Context, target domain.RemoteTarget, command, requestID string) (string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.Exec(ctx, target, command, requestID)
}

func (b *Backend) VMwareListRunning(ctx context.Context, target domain.RemoteTarget, requestID string) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.ListRunning(ctx, target, requestID)
}

func (b *Backend) VMwareStartVM(ctx context.Context, target domain.RemoteTarget, vmxPath, password, requestID string) (string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.Start(ctx, target, vmxPath, password, requestID)
}

// VMwareStopVM mode 为 soft|hard，空串为 soft
func (b *Backend) VMwareStopVM(ctx context.Context, target domain.RemoteTarget, vmxPath, mode, password, requestID string) (string, error) {
	m, err := domain.ParseStopMode(mode)
	if err != nil {
		return "", err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.Stop(ctx, target, vmxPath, m, password, requestID)
}

func (b *Backend) VMwareScanDefaultVMX(ctx context.Context, target domain.RemoteTarget, requestID string) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.ScanDefaultRoots(ctx, target, requestID)
}

func (b *Backend) VMwareScanVMX(ctx context.Context, target domain.RemoteTarget, roots []string, requestID string) ([]string, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.ScanRoots(ctx, target, roots, requestID)
}

// VMwareStatusForKnown 一次 list 标注已知路径的运行状态
func (b *Backend) VMwareStatusForKnown(ctx context.Context, target domain.RemoteTarget, paths []string, requestID string) ([]domain.VMStatus, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()
	return b.vm.StatusForKnown(ctx, target, paths, requestID)
}

// TraceList 最新在前的快照
func (b *Backend) TraceList() []domain.TraceEntry { return b.tracer.List() }

func (b *Backend) TraceClear() { b.tracer.Clear() }

// E2EExit 以给定退出码结束进程
func (b *Backend) E2EExit(code int) {
	b.log.Info("exiting", zap.Int("code", code))
	_ = b.log.Sync()
	b.exit(code)
}
