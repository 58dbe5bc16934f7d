package domain

import (
	"errors"
	"strings"
)

// 错误分类。用 errors.Is(err, domain.ErrTimeout) 判断。
var (
	ErrConnection     = errors.New("connection error")     // 无法连接/认证，单次调用内致命
	ErrRemoteCommand  = errors.New("remote command error") // 远端非零退出或输出异常
	ErrTimeout        = errors.New("timeout")              // 超过时限
	ErrReconciliation = errors.New("reconciliation error") // 远端声称成功但观测状态不一致
	ErrValidation     = errors.New("validation error")     // 远程调用前的输入校验失败
)

// OpError 携带目标、命令类别与底层原因。
type OpError struct {
	Kind   error  // 上面的分类之一
	Target string // user@host:port，可为空
	Class  string // list/start/stop/scan/exec
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Class != "" {
		b.WriteString(": ")
		b.WriteString(e.Class)
	}
	if e.Target != "" {
		b.WriteString(" on ")
		b.WriteString(e.Target)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OpError) Unwrap() error { return e.Err }

// Is 使 errors.Is 能按分类匹配。
func (e *OpError) Is(target error) bool { return target == e.Kind }

// Validation 构造不带目标信息的校验错误。
func Validation(msg string) error {
	return &OpError{Kind: ErrValidation, Err: errors.New(msg)}
}

// Retryable 只有执行阶段的连接/命令/超时错误允许重试。
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrValidation) || errors.Is(err, ErrReconciliation) {
		return false
	}
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrRemoteCommand) || errors.Is(err, ErrTimeout)
}

// KindName 返回分类名，未分类返回 "unknown"。
func KindName(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrReconciliation):
		return "reconciliation"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrRemoteCommand):
		return "remote_command"
	}
	return "unknown"
}
