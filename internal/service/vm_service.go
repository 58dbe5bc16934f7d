package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/metrics"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/vmrun"
)

// VMOptions 启停策略。零值字段取默认值。
type VMOptions struct {
	ExecTimeout       time.Duration // start/stop/exec 单次尝试，默认 60s
	ListTimeout       time.Duration // list 及每次对账轮询，默认 20s
	ScanTimeout       time.Duration // 扫描 .vmx，默认 120s
	MaxAttempts       int           // start/stop 最大尝试次数，默认 2
	RetryDelay        time.Duration // 尝试间隔，默认 800ms
	ReconcilePolls    int           // 对账轮询次数，默认 5
	ReconcileInterval time.Duration // 对账轮询间隔，默认 1s
}

func (o VMOptions) withDefaults() VMOptions {
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 60 * time.Second
	}
	if o.ListTimeout <= 0 {
		o.ListTimeout = 20 * time.Second
	}
	if o.ScanTimeout <= 0 {
		o.ScanTimeout = 120 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 2
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 800 * time.Millisecond
	}
	if o.ReconcilePolls <= 0 {
		o.ReconcilePolls = 5
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = time.Second
	}
	return o
}

// VMService 在远端 Windows 主机上通过 vmrun 管理 VMware 虚拟机。
// 同一 .vmx 的启停串行执行，不同路径互不影响。
type VMService struct {
	exec    *RemoteExecutor
	locks   *pathLocks
	opts    VMOptions
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewVMService(exec *RemoteExecutor, opts VMOptions, m *metrics.Metrics, log *zap.Logger) *VMService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VMService{exec: exec, locks: newPathLocks(), opts: opts.withDefaults(), metrics: m, log: log}
}

// RequestID 为空时生成新的 UUID
func RequestID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// Exec 原样执行一条命令，单次尝试。
func (s *VMService) Exec(ctx context.Context, target domain.RemoteTarget, command, requestID string) (string, error) {
	return s.exec.Execute(ctx, ExecRequest{
		Target: target, Command: vmrun.Raw(command), RequestID: RequestID(requestID), Timeout: s.opts.ExecTimeout,
	})
}

// ListRunning 返回运行中的 .vmx 路径，忽略大小写去重。
func (s *VMService) ListRunning(ctx context.Context, target domain.RemoteTarget, requestID string) ([]string, error) {
	return s.listRunning(ctx, target, RequestID(requestID), 1)
}

func (s *VMService) listRunning(ctx context.Context, target domain.RemoteTarget, requestID string, attempt int) ([]string, error) {
	out, err := s.exec.Execute(ctx, ExecRequest{
		Target: target, Command: vmrun.List(), RequestID: requestID, Attempt: attempt, Timeout: s.opts.ListTimeout,
	})
	if err != nil {
		return nil, err
	}
	return vmrun.ParseListOutput(out), nil
}

// StatusForKnown 用一次 list 标注给定路径是否在运行，顺序与输入一致。
func (s *VMService) StatusForKnown(ctx context.Context, target domain.RemoteTarget, paths []string, requestID string) ([]domain.VMStatus, error) {
	running, err := s.ListRunning(ctx, target, requestID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.VMStatus, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, domain.VMStatus{DefinitionPath: p, Running: vmrun.ContainsFold(running, p)})
	}
	return out, nil
}

// ScanDefaultRoots 在默认目录下查找 .vmx
func (s *VMService) ScanDefaultRoots(ctx context.Context, target domain.RemoteTarget, requestID string) ([]string, error) {
	return s.scan(ctx, target, vmrun.ScanDefault(), RequestID(requestID))
}

// ScanRoots 在调用方给定的目录下查找 .vmx，空白项被忽略。
func (s *VMService) ScanRoots(ctx context.Context, target domain.RemoteTarget, roots []string, requestID string) ([]string, error) {
	cleaned := make([]string, 0, len(roots))
	for _, r := range roots {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	return s.scan(ctx, target, vmrun.Scan(cleaned), RequestID(requestID))
}

func (s *VMService) scan(ctx context.Context, target domain.RemoteTarget, cmd vmrun.Command, requestID string) ([]string, error) {
	out, err := s.exec.Execute(ctx, ExecRequest{
		Target: target, Command: cmd, RequestID: requestID, Timeout: s.opts.ScanTimeout,
	})
	if err != nil {
		return nil, err
	}
	paths, err := vmrun.ParseJSONList(out)
	if err != nil {
		return nil, &domain.OpError{Kind: domain.ErrRemoteCommand, Target: target.String(), Class: cmd.Class(), Err: err}
	}
	if len(paths) > vmrun.MaxScanResults {
		paths = paths[:vmrun.MaxScanResults]
	}
	return paths, nil
}

// Start 启动虚拟机并确认其出现在运行列表中。已在运行视为成功。
func (s *VMService) Start(ctx context.Context, target domain.RemoteTarget, path, password, requestID string) (string, error) {
	return s.transition(ctx, target, vmrun.Start(path, password), requestID, true, "already running")
}

// Stop 关闭虚拟机并确认其从运行列表消失。soft 不会自动升级为 hard。
func (s *VMService) Stop(ctx context.Context, target domain.RemoteTarget, path string, mode domain.StopMode, password, requestID string) (string, error) {
	if mode == "" {
		mode = domain.StopSoft
	}
	return s.transition(ctx, target, vmrun.Stop(path, mode, password), requestID, false, "not powered on")
}

// transition 校验、加路径锁、带重试执行，再对账。
func (s *VMService) transition(ctx context.Context, target domain.RemoteTarget, cmd vmrun.Command, requestID string, wantRunning bool, benign string) (string, error) {
	if err := target.Validate(); err != nil {
		return "", err
	}
	if err := cmd.Validate(); err != nil {
		return "", err
	}
	requestID = RequestID(requestID)
	path := cmd.DefinitionPath()
	log := s.log.With(zap.String("request_id", requestID), zap.String("action", cmd.Action()), zap.String("vmx", path))

	waitStart := time.Now()
	release, err := s.locks.acquire(ctx, path)
	s.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		return "", &domain.OpError{Kind: domain.ErrTimeout, Target: target.String(), Class: cmd.Class(),
			Err: fmt.Errorf("waiting for in-flight operation on %s: %w", path, err)}
	}
	defer release()

	out, err := s.runWithRetry(ctx, target, cmd, requestID, benign, log)
	if err != nil {
		return "", err
	}
	if err := s.reconcile(ctx, target, cmd, requestID, wantRunning); err != nil {
		log.Warn("state reconciliation failed", zap.Error(err))
		return "", err
	}
	return out, nil
}

// runWithRetry 固定间隔重试，仅重试执行阶段的连接/命令/超时错误，返回最后一次错误。
func (s *VMService) runWithRetry(ctx context.Context, target domain.RemoteTarget, cmd vmrun.Command, requestID, benign string, log *zap.Logger) (string, error) {
	var (
		out     string
		attempt int
		lastErr error
	)
	op := func() error {
		if attempt > 0 && ctx.Err() != nil {
			return backoff.Permanent(lastErr)
		}
		attempt++
		if attempt > 1 {
			s.metrics.IncRetry(cmd.Action())
		}
		o, err := s.exec.Execute(ctx, ExecRequest{
			Target: target, Command: cmd, RequestID: requestID, Attempt: attempt, Timeout: s.opts.ExecTimeout,
		})
		if err == nil {
			out = o
			return nil
		}
		if errors.Is(err, domain.ErrRemoteCommand) && containsFold(err.Error(), benign) {
			log.Info("treating remote response as success", zap.String("matched", benign))
			out = o
			return nil
		}
		lastErr = err
		if !domain.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), uint64(s.opts.MaxAttempts-1))
	notify := func(err error, wait time.Duration) {
		log.Warn("attempt failed, retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return out, nil
}

// reconcile 轮询运行列表直到观测状态与期望一致
func (s *VMService) reconcile(ctx context.Context, target domain.RemoteTarget, cmd vmrun.Command, requestID string, wantRunning bool) error {
	path := cmd.DefinitionPath()
	var last error
polls:
	for i := 1; i <= s.opts.ReconcilePolls; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				break polls
			case <-time.After(s.opts.ReconcileInterval):
			}
		}
		running, err := s.listRunning(ctx, target, requestID, i)
		if err != nil {
			last = err
			continue
		}
		if vmrun.ContainsFold(running, path) == wantRunning {
			s.metrics.IncReconcile(cmd.Action(), true)
			return nil
		}
		if wantRunning {
			last = fmt.Errorf("%s not in running list after %d poll(s)", path, i)
		} else {
			last = fmt.Errorf("%s still in running list after %d poll(s)", path, i)
		}
	}
	s.metrics.IncReconcile(cmd.Action(), false)
	return &domain.OpError{Kind: domain.ErrReconciliation, Target: target.String(), Class: cmd.Class(), Err: last}
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
