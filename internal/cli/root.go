// Package cli vmctl 命令行：通过 SSH 在远端 Windows 主机上用 vmrun 管理 VMware 虚拟机。
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/pkg/config"
)

// 不需要装配 App 的命令
const annotationNoApp = "vmctl/no-app"

type rootFlags struct {
	host      string
	port      int
	user      string
	requestID string
	timeout   time.Duration
	jsonOut   bool
}

// cliState 单次执行共享的状态
type cliState struct {
	flags rootFlags
	cfg   *config.Config
	app   *App
}

func (s *cliState) target() domain.RemoteTarget {
	t := domain.RemoteTarget{Host: s.cfg.Host, Port: s.cfg.Port, User: s.cfg.User}
	if s.flags.host != "" {
		t.Host = s.flags.host
	}
	if s.flags.port != 0 {
		t.Port = s.flags.port
	}
	if s.flags.user != "" {
		t.User = s.flags.user
	}
	return t
}

// ctx 带 --timeout 的上下文；未指定时由操作层的默认时限约束
func (s *cliState) ctx() (context.Context, context.CancelFunc) {
	if s.flags.timeout > 0 {
		return context.WithTimeout(context.Background(), s.flags.timeout)
	}
	return context.WithCancel(context.Background())
}

func (s *cliState) close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

// NewRootCommand 构造命令树
func NewRootCommand() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *cliState) {
	st := &cliState{}
	root := &cobra.Command{
		Use:   "vmctl",
		Short: "Manage VMware Workstation VMs on a remote Windows host over SSH",
		Long: `vmctl drives vmrun.exe on a remote Windows host through PowerShell over SSH.

It lists, starts, stops and discovers virtual machines, keeps a bounded trace
of every remote invocation, and stores the SSH private key locally.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st.cfg = cfg
			if cmd.Annotations[annotationNoApp] != "" {
				return nil
			}
			app, err := buildApp(cfg, appOptions{})
			if err != nil {
				return err
			}
			st.app = app
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&st.flags.host, "host", "", "remote Windows host (default $VMCTL_HOST)")
	pf.IntVar(&st.flags.port, "port", 0, "SSH port (default $VMCTL_PORT or 22)")
	pf.StringVar(&st.flags.user, "user", "", "SSH user (default $VMCTL_USER)")
	pf.StringVar(&st.flags.requestID, "request-id", "", "correlation id recorded in the trace (generated when empty)")
	pf.DurationVar(&st.flags.timeout, "timeout", 0, "overall deadline for the command")
	pf.BoolVar(&st.flags.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newKeyCmd(st),
		newExecCmd(st),
		newVMCmd(st),
		newTraceCmd(st),
		newMachinesCmd(st),
		newE2ECmd(st),
	)
	return root, st
}

// Execute 运行命令并返回进程退出码
func Execute() int {
	root, st := newRoot()
	err := root.Execute()
	st.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed, color.Bold).Sprint("error:"), err)
		return exitCode(err)
	}
	return 0
}

// exitCode 按错误分类区分退出码
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return 2
	case errors.Is(err, domain.ErrConnection):
		return 3
	case errors.Is(err, domain.ErrRemoteCommand):
		return 4
	case errors.Is(err, domain.ErrTimeout):
		return 5
	case errors.Is(err, domain.ErrReconciliation):
		return 6
	}
	return 1
}
