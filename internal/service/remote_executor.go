package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/metrics"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/ssh"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/trace"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/vmrun"
)

// 写入 trace 的字段上限
const (
	maxTraceCommandBytes = 16 << 10
	maxTraceOutputBytes  = 64 << 10
	maxTraceErrorBytes   = 8 << 10
)

// DefaultExecTimeout 单次远程调用默认时限
const DefaultExecTimeout = 30 * time.Second

// 超时后后台调用最多再等待的时间，之后强制取消
const lateResultGrace = 2 * time.Minute

// ShellClient 远程 shell 传输。*ssh.Client 与 *ssh.MockExecutor 均满足。
type ShellClient interface {
	Connect(ctx context.Context, target domain.RemoteTarget) (ssh.Conn, error)
}

// TraceSink 接收每条已记录的 trace(持久化归档、事件总线)。实现不得阻塞。
type TraceSink interface {
	Write(e domain.TraceEntry)
}

// ExecRequest 单次执行尝试
type ExecRequest struct {
	Target    domain.RemoteTarget
	Command   vmrun.Command
	RequestID string
	Attempt   int           // 从 1 开始，<=0 视为 1
	Timeout   time.Duration // <=0 使用默认值
}

// RemoteExecutor 执行一次远程命令并记录恰好一条 trace，不做重试。
type RemoteExecutor struct {
	shell          ShellClient
	tracer         *trace.Tracer
	sinks          []TraceSink
	metrics        *metrics.Metrics
	log            *zap.Logger
	defaultTimeout time.Duration
}

type ExecutorOption func(*RemoteExecutor)

func WithSinks(s ...TraceSink) ExecutorOption {
	return func(e *RemoteExecutor) { e.sinks = append(e.sinks, s...) }
}

func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *RemoteExecutor) { e.metrics = m }
}

func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *RemoteExecutor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithDefaultTimeout(d time.Duration) ExecutorOption {
	return func(e *RemoteExecutor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

func NewRemoteExecutor(shell ShellClient, tracer *trace.Tracer, opts ...ExecutorOption) *RemoteExecutor {
	e := &RemoteExecutor{shell: shell, tracer: tracer, log: zap.NewNop(), defaultTimeout: DefaultExecTimeout}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Tracer 返回底层记录簿
func (e *RemoteExecutor) Tracer() *trace.Tracer { return e.tracer }

type execResult struct {
	out        []byte
	status     int
	err        error
	connectErr bool
}

// Execute 连接目标、发送命令、等待完成或超时。无论成败都在返回前记录一条 trace。
// 输入校验失败不产生远程调用，也不记录。
func (e *RemoteExecutor) Execute(ctx context.Context, req ExecRequest) (string, error) {
	if err := req.Target.Validate(); err != nil {
		return "", err
	}
	if err := req.Command.Validate(); err != nil {
		return "", err
	}
	if req.Attempt <= 0 {
		req.Attempt = 1
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	action := req.Command.Action()
	class := req.Command.Class()
	targetStr := req.Target.String()

	ctx, span := otel.Tracer("github.com/QingMing-Bot/vmrun-ssh-manager/internal/service").Start(ctx, "remote_exec",
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("vmctl.action", action),
			attribute.String("vmctl.request_id", req.RequestID),
			attribute.Int("vmctl.attempt", req.Attempt),
			attribute.String("vmctl.target", targetStr),
		),
	)
	defer span.End()

	entry := domain.TraceEntry{
		RequestID: req.RequestID,
		Action:    action,
		Attempt:   req.Attempt,
		Target:    targetStr,
		Command:   truncateText(req.Command.Redacted(), maxTraceCommandBytes),
	}
	started := time.Now()
	entry.StartedAt = started

	// 远程调用脱离调用方 ctx 运行，超时后仍可拿到迟到的结果
	bg, cancelBg := context.WithTimeout(context.WithoutCancel(ctx), timeout+lateResultGrace)
	done := make(chan execResult, 1)
	rendered := req.Command.Render()
	go func() {
		defer cancelBg()
		conn, err := e.shell.Connect(bg, req.Target)
		if err != nil {
			done <- execResult{err: err, connectErr: true}
			return
		}
		out, status, err := conn.Exec(bg, rendered)
		done <- execResult{out: out, status: status, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		res      execResult
		finished bool
		waitErr  error
	)
	select {
	case res = <-done:
		finished = true
	case <-timer.C:
		waitErr = fmt.Errorf("no result after %s", timeout)
	case <-ctx.Done():
		waitErr = fmt.Errorf("no result before caller deadline: %w", ctx.Err())
	}
	elapsed := time.Since(started)
	entry.DurationMs = elapsed.Milliseconds()

	var (
		output string
		opErr  error
	)
	if finished {
		output, opErr = classify(res, targetStr, class)
	} else {
		opErr = &domain.OpError{Kind: domain.ErrTimeout, Target: targetStr, Class: class, Err: waitErr}
	}
	entry.OK = opErr == nil
	entry.Output = truncateText(output, maxTraceOutputBytes)
	if opErr != nil {
		entry.ErrorMessage = truncateText(opErr.Error(), maxTraceErrorBytes)
	}
	entry.SequenceID = e.tracer.Record(entry)
	for _, s := range e.sinks {
		s.Write(entry)
	}

	outcome := domain.KindName(opErr)
	e.metrics.ObserveAttempt(action, outcome, elapsed)
	fields := []zap.Field{
		zap.String("request_id", req.RequestID),
		zap.String("action", action),
		zap.String("target", targetStr),
		zap.Int("attempt", req.Attempt),
		zap.Duration("duration", elapsed),
	}
	if opErr != nil {
		span.RecordError(opErr)
		span.SetStatus(codes.Error, outcome)
		e.log.Warn("remote exec failed", append(fields, zap.Error(opErr))...)
	} else {
		e.log.Debug("remote exec ok", fields...)
	}

	if !finished {
		go e.awaitLate(entry.SequenceID, done, targetStr, class, fields)
	}
	return output, opErr
}

// awaitLate 把超时尝试的最终结果补记到同一条 trace 上
func (e *RemoteExecutor) awaitLate(seq uint64, done <-chan execResult, target, class string, fields []zap.Field) {
	res := <-done
	output, err := classify(res, target, class)
	note := "late result: ok"
	if err != nil {
		note = "late result: " + err.Error()
	}
	amended := e.tracer.Amend(seq, func(t *domain.TraceEntry) {
		t.Output = truncateText(output, maxTraceOutputBytes)
		t.ErrorMessage = truncateText(t.ErrorMessage+" ("+note+")", maxTraceErrorBytes)
	})
	e.log.Info("remote exec finished after timeout",
		append(fields, zap.Bool("amended", amended), zap.NamedError("late_error", err))...)
}

// classify 把传输层结果映射为错误分类
func classify(res execResult, target, class string) (string, error) {
	output := vmrun.DecodeOutput(res.out)
	switch {
	case res.connectErr:
		return "", &domain.OpError{Kind: domain.ErrConnection, Target: target, Class: class, Err: res.err}
	case res.err != nil:
		kind := domain.ErrConnection
		if errors.Is(res.err, context.DeadlineExceeded) {
			kind = domain.ErrTimeout
		}
		return output, &domain.OpError{Kind: kind, Target: target, Class: class, Err: res.err}
	case res.status != 0:
		msg := strings.TrimSpace(output)
		if msg == "" {
			msg = fmt.Sprintf("remote command exited with status %d", res.status)
		}
		return output, &domain.OpError{Kind: domain.ErrRemoteCommand, Target: target, Class: class,
			Err: errors.New(truncateText(msg, maxTraceErrorBytes))}
	}
	return output, nil
}

// truncateText 按字节截断并保证结果仍是合法 UTF-8
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const ellipsis = "…"
	cut := max - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
