// Package e2e 针对真实主机的端到端验证：只从环境变量取参数，输出一行机器可读结果后退出。
package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/api"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/vmrun"
)

// ResultPrefix 结果行前缀，后接 JSON
const ResultPrefix = "VMCTL_E2E_RESULT "

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
)

// DefaultStepTimeout 每一步的默认时限
const DefaultStepTimeout = 60 * time.Second

// Env 验证参数
type Env struct {
	Target      domain.RemoteTarget
	Key         string // 内联私钥，空表示使用已保存的私钥
	VMX         string // 非空则做真实启停
	ScanRoots   []string
	HardStop    bool
	StepTimeout time.Duration
}

// EnvFromOS 读取 VMCTL_E2E_*；缺少 host/port/user 立即报错。
func EnvFromOS(getenv func(string) string) (Env, error) {
	var missing []string
	host := strings.TrimSpace(getenv("VMCTL_E2E_HOST"))
	portStr := strings.TrimSpace(getenv("VMCTL_E2E_PORT"))
	user := strings.TrimSpace(getenv("VMCTL_E2E_USER"))
	if host == "" {
		missing = append(missing, "VMCTL_E2E_HOST")
	}
	if portStr == "" {
		missing = append(missing, "VMCTL_E2E_PORT")
	}
	if user == "" {
		missing = append(missing, "VMCTL_E2E_USER")
	}
	if len(missing) > 0 {
		return Env{}, fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Env{}, fmt.Errorf("invalid VMCTL_E2E_PORT %q", portStr)
	}
	env := Env{
		Target:      domain.RemoteTarget{Host: host, Port: port, User: user},
		Key:         getenv("VMCTL_E2E_KEY"),
		VMX:         strings.TrimSpace(getenv("VMCTL_E2E_VMX")),
		StepTimeout: DefaultStepTimeout,
	}
	if raw := strings.TrimSpace(getenv("VMCTL_E2E_SCAN_ROOTS")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &env.ScanRoots); err != nil {
			return Env{}, fmt.Errorf("VMCTL_E2E_SCAN_ROOTS must be a JSON array of strings: %w", err)
		}
	}
	if v := strings.TrimSpace(getenv("VMCTL_E2E_HARD_STOP")); v != "" {
		env.HardStop, _ = strconv.ParseBool(v)
	}
	if v := strings.TrimSpace(getenv("VMCTL_E2E_STEP_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Env{}, fmt.Errorf("invalid VMCTL_E2E_STEP_TIMEOUT %q", v)
		}
		env.StepTimeout = d
	}
	return env, nil
}

// Step 单步结果
type Step struct {
	Name       string `json:"name"`
	OK         bool   `json:"ok"`
	Skipped    bool   `json:"skipped,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report 整体结果
type Report struct {
	Status       string    `json:"status"`
	Target       string    `json:"target,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	TraceEntries int       `json:"trace_entries"`
	Steps        []Step    `json:"steps"`
	Error        string    `json:"error,omitempty"`
}

// Runner 依次调用外部操作面
type Runner struct {
	b      *api.Backend
	env    Env
	log    *zap.Logger
	report Report
	failed bool
}

func NewRunner(b *api.Backend, env Env, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if env.StepTimeout <= 0 {
		env.StepTimeout = DefaultStepTimeout
	}
	return &Runner{b: b, env: env, log: log}
}

var errSkip = errors.New("skipped")

// step 执行一步；已有失败时远程步骤被跳过，always 步骤照常执行。
func (r *Runner) step(ctx context.Context, name string, always bool, fn func(ctx context.Context) (string, error)) {
	s := Step{Name: name}
	if r.failed && !always {
		s.Skipped, s.OK, s.Detail = true, true, "skipped after earlier failure"
		r.report.Steps = append(r.report.Steps, s)
		return
	}
	sctx, cancel := context.WithTimeout(ctx, r.env.StepTimeout)
	start := time.Now()
	detail, err := fn(sctx)
	cancel()
	s.DurationMs = time.Since(start).Milliseconds()
	s.Detail = detail
	switch {
	case errors.Is(err, errSkip):
		s.OK, s.Skipped = true, true
	case err != nil:
		s.Error = err.Error()
		r.failed = true
		r.log.Warn("e2e step failed", zap.String("step", name), zap.Error(err))
	default:
		s.OK = true
		r.log.Info("e2e step ok", zap.String("step", name), zap.Int64("duration_ms", s.DurationMs))
	}
	r.report.Steps = append(r.report.Steps, s)
}

// Run 执行完整序列并返回报告
func (r *Runner) Run(ctx context.Context) Report {
	started := time.Now()
	r.report = Report{Target: r.env.Target.String(), StartedAt: started}
	t := r.env.Target
	b := r.b
	rid := func(name string) string { return fmt.Sprintf("e2e-%s-%d", name, started.UnixNano()) }

	r.step(ctx, "trace_clear", true, func(context.Context) (string, error) {
		b.TraceClear()
		return "", nil
	})
	r.step(ctx, "ssh_key_status", false, func(context.Context) (string, error) {
		ok, err := b.SSHKeyStatus()
		return fmt.Sprintf("configured=%v", ok), err
	})
	inlineKey := strings.TrimSpace(r.env.Key) != ""
	r.step(ctx, "ssh_set_private_key", false, func(context.Context) (string, error) {
		if inlineKey {
			return "inline key stored", b.SSHSetPrivateKey(r.env.Key)
		}
		err := b.SSHSetPrivateKey("")
		if errors.Is(err, domain.ErrValidation) {
			return "empty key rejected as expected", nil
		}
		return "", fmt.Errorf("empty key should be rejected with a validation error, got %v", err)
	})
	r.step(ctx, "ssh_exec", false, func(ctx context.Context) (string, error) {
		out, err := b.SSHExec(ctx, t, "whoami", rid("exec"))
		return strings.TrimSpace(out), err
	})
	r.step(ctx, "vmware_list_running", false, func(ctx context.Context) (string, error) {
		list, err := b.VMwareListRunning(ctx, t, rid("list"))
		return fmt.Sprintf("%d running", len(list)), err
	})
	r.step(ctx, "vmware_scan_default_vmx", false, func(ctx context.Context) (string, error) {
		list, err := b.VMwareScanDefaultVMX(ctx, t, rid("scan-default"))
		return fmt.Sprintf("%d found", len(list)), err
	})
	r.step(ctx, "vmware_scan_vmx", false, func(ctx context.Context) (string, error) {
		if len(r.env.ScanRoots) == 0 {
			return "no VMCTL_E2E_SCAN_ROOTS", errSkip
		}
		list, err := b.VMwareScanVMX(ctx, t, r.env.ScanRoots, rid("scan"))
		return fmt.Sprintf("%d found", len(list)), err
	})

	vmx := r.env.VMX
	needVMX := func(fn func(ctx context.Context) (string, error)) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			if vmx == "" {
				return "no VMCTL_E2E_VMX", errSkip
			}
			return fn(ctx)
		}
	}
	expectRunning := func(want bool) func(ctx context.Context) (string, error) {
		return needVMX(func(ctx context.Context) (string, error) {
			list, err := b.VMwareListRunning(ctx, t, rid("verify"))
			if err != nil {
				return "", err
			}
			if got := vmrun.ContainsFold(list, vmx); got != want {
				return "", fmt.Errorf("running=%v, want %v", got, want)
			}
			return fmt.Sprintf("running=%v", want), nil
		})
	}
	r.step(ctx, "vmware_start_vm", false, needVMX(func(ctx context.Context) (string, error) {
		_, err := b.VMwareStartVM(ctx, t, vmx, "", rid("start"))
		return vmx, err
	}))
	r.step(ctx, "verify_running", false, expectRunning(true))
	r.step(ctx, "vmware_stop_vm_soft", false, needVMX(func(ctx context.Context) (string, error) {
		_, err := b.VMwareStopVM(ctx, t, vmx, string(domain.StopSoft), "", rid("stop-soft"))
		return vmx, err
	}))
	r.step(ctx, "verify_stopped", false, expectRunning(false))

	hard := func(fn func(ctx context.Context) (string, error)) func(ctx context.Context) (string, error) {
		return needVMX(func(ctx context.Context) (string, error) {
			if !r.env.HardStop {
				return "VMCTL_E2E_HARD_STOP not set", errSkip
			}
			return fn(ctx)
		})
	}
	r.step(ctx, "vmware_start_vm_for_hard_stop", false, hard(func(ctx context.Context) (string, error) {
		_, err := b.VMwareStartVM(ctx, t, vmx, "", rid("start-hard"))
		return vmx, err
	}))
	r.step(ctx, "vmware_stop_vm_hard", false, hard(func(ctx context.Context) (string, error) {
		_, err := b.VMwareStopVM(ctx, t, vmx, string(domain.StopHard), "", rid("stop-hard"))
		return vmx, err
	}))

	r.step(ctx, "ssh_clear_private_key", true, func(context.Context) (string, error) {
		if !inlineKey {
			return "no inline key was set", errSkip
		}
		return "", b.SSHClearPrivateKey()
	})
	r.step(ctx, "trace_list", true, func(context.Context) (string, error) {
		entries := b.TraceList()
		r.report.TraceEntries = len(entries)
		if len(entries) == 0 {
			return "", errors.New("trace is empty")
		}
		for _, e := range entries {
			if e.DurationMs < 0 {
				return "", fmt.Errorf("entry %d has negative duration", e.SequenceID)
			}
		}
		return fmt.Sprintf("%d entries", len(entries)), nil
	})

	r.report.Status = StatusPass
	if r.failed {
		r.report.Status = StatusFail
	}
	r.report.DurationMs = time.Since(started).Milliseconds()
	return r.report
}

// WriteResult 输出唯一的结果行
func WriteResult(w io.Writer, rep Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s%s\n", ResultPrefix, b)
	return err
}

// ExitCode PASS 为 0，其它为 1
func ExitCode(rep Report) int {
	if rep.Status == StatusPass {
		return 0
	}
	return 1
}

// Execute 运行一次验证：输出结果行并通过 e2e_exit 结束进程。
func Execute(ctx context.Context, b *api.Backend, env Env, out io.Writer, log *zap.Logger) {
	rep := NewRunner(b, env, log).Run(ctx)
	if err := WriteResult(out, rep); err != nil && log != nil {
		log.Error("write e2e result", zap.Error(err))
	}
	b.E2EExit(ExitCode(rep))
}

// FailEarly 参数错误时不做任何操作，直接输出 FAIL。
func FailEarly(b *api.Backend, cause error, out io.Writer) {
	rep := Report{Status: StatusFail, StartedAt: time.Now(), Steps: []Step{}, Error: cause.Error()}
	_ = WriteResult(out, rep)
	b.E2EExit(1)
}
