// Package vmrun 构造在远端 Windows 主机上通过 PowerShell 调用 vmrun.exe 的命令文本，
// 并解析其输出。命令按种类建模，只在执行边界序列化为字符串，同样输入必得同样文本。
package vmrun

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// MaxRawCommandBytes 原始命令长度上限
const MaxRawCommandBytes = 8192

// MaxScanResults 单次扫描返回的最大路径数
const MaxScanResults = 500

// Kind 命令种类
type Kind int

const (
	KindRaw Kind = iota
	KindList
	KindStart
	KindStop
	KindScan
)

// DefaultRoots 默认扫描目录，由远端 PowerShell 展开环境变量。
var DefaultRoots = []string{
	`$env:USERPROFILE\Documents\Virtual Machines`,
	`$env:PUBLIC\Documents\Shared Virtual Machines`,
}

const redactedSecret = "********"

// Command 单条远程命令的类型化描述。零值不可用，请用构造函数。
type Command struct {
	kind        Kind
	raw         string
	vmx         string
	mode        domain.StopMode
	password    string
	roots       []string
	defaultScan bool
}

// Raw 任意命令，原样发送。
func Raw(cmd string) Command { return Command{kind: KindRaw, raw: cmd} }

// List 查询运行中的虚拟机。
func List() Command { return Command{kind: KindList} }

// Start 启动虚拟机；password 为加密虚拟机的口令，可空。
func Start(vmx, password string) Command {
	return Command{kind: KindStart, vmx: vmx, password: password}
}

// Stop 关闭虚拟机。
func Stop(vmx string, mode domain.StopMode, password string) Command {
	return Command{kind: KindStop, vmx: vmx, mode: mode, password: password}
}

// Scan 在给定根目录下递归查找 .vmx。
func Scan(roots []string) Command {
	return Command{kind: KindScan, roots: append([]string(nil), roots...)}
}

// ScanDefault 在 DefaultRoots 下查找。
func ScanDefault() Command {
	c := Scan(DefaultRoots)
	c.defaultScan = true
	return c
}

func (c Command) Kind() Kind { return c.kind }

// Class 命令类别，用于错误信息与指标标签。
func (c Command) Class() string {
	switch c.kind {
	case KindList:
		return "list"
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindScan:
		return "scan"
	}
	return "exec"
}

// Action 对外操作名，写入 trace。
func (c Command) Action() string {
	switch c.kind {
	case KindList:
		return "vmware_list_running"
	case KindStart:
		return "vmware_start_vm"
	case KindStop:
		return "vmware_stop_vm"
	case KindScan:
		if c.defaultScan {
			return "vmware_scan_default_vmx"
		}
		return "vmware_scan_vmx"
	}
	return "ssh_exec"
}

// DefinitionPath 启停命令的目标路径
func (c Command) DefinitionPath() string { return c.vmx }

// Validate 在任何远程调用之前检查输入。
func (c Command) Validate() error {
	switch c.kind {
	case KindRaw:
		if strings.TrimSpace(c.raw) == "" {
			return domain.Validation("command is empty")
		}
		if len(c.raw) > MaxRawCommandBytes {
			return domain.Validation(fmt.Sprintf("command too long (%d > %d bytes)", len(c.raw), MaxRawCommandBytes))
		}
	case KindStart, KindStop:
		if strings.TrimSpace(c.vmx) == "" {
			return domain.Validation("vmx path is empty")
		}
		if hasControl(c.vmx) {
			return domain.Validation("vmx path contains control characters")
		}
		if hasControl(c.password) {
			return domain.Validation("password contains control characters")
		}
		if c.kind == KindStop && c.mode != domain.StopSoft && c.mode != domain.StopHard {
			return domain.Validation(fmt.Sprintf("unknown stop mode %q", c.mode))
		}
	case KindScan:
		if len(c.roots) == 0 {
			return domain.Validation("no scan roots")
		}
		for _, r := range c.roots {
			if hasControl(r) {
				return domain.Validation("scan root contains control characters")
			}
		}
	}
	return nil
}

// Render 返回真正发送到远端的命令文本(含口令)。
func (c Command) Render() string { return c.render(c.password) }

// Redacted 与 Render 相同，但口令被替换，可安全写入 trace / 日志。
func (c Command) Redacted() string {
	if c.password == "" {
		return c.render("")
	}
	return c.render(redactedSecret)
}

func (c Command) render(password string) string {
	switch c.kind {
	case KindList:
		return vmrunInvocation("list", "")
	case KindStart:
		return vmrunInvocation(fmt.Sprintf("start '%s' nogui", psQuote(c.vmx)), password)
	case KindStop:
		return vmrunInvocation(fmt.Sprintf("stop '%s' %s", psQuote(c.vmx), c.mode), password)
	case KindScan:
		return EncodedCommand(scanScript(c.roots))
	}
	return c.raw
}

// vmrunInvocation 定位 vmrun.exe 后执行子命令；非零退出时先输出再以同一退出码结束。
func vmrunInvocation(sub, password string) string {
	auth := "-T ws"
	if password != "" {
		auth += fmt.Sprintf(" -vp '%s'", psQuote(password))
	}
	ps := fmt.Sprintf(`& { %s ; $out = & $vmrun %s %s 2>&1; if ($LASTEXITCODE -ne 0) { $out; exit $LASTEXITCODE }; $out }`,
		vmrunLocator, auth, sub)
	return InlineCommand(ps)
}

const vmrunLocator = `$paths=@('C:\Program Files (x86)\VMware\VMware Workstation\vmrun.exe','C:\Program Files\VMware\VMware Workstation\vmrun.exe');$vmrun=$paths|Where-Object{Test-Path -LiteralPath $_}|Select-Object -First 1;if(-not $vmrun){throw 'vmrun.exe not found (check VMware Workstation install path)'}`

const scanTemplate = `
$ProgressPreference = 'SilentlyContinue'
$inputRoots = '%s' | ConvertFrom-Json
$expanded=@()
foreach($r in $inputRoots){
  if(-not $r){ continue }
  $resolved = $ExecutionContext.InvokeCommand.ExpandString([string]$r)
  if($resolved -and (Test-Path -LiteralPath $resolved)){ $expanded += $resolved }
}
$expanded = $expanded | Select-Object -Unique
$paths=@()
foreach($root in $expanded){
  $paths += Get-ChildItem -LiteralPath $root -Recurse -File -Filter *.vmx -ErrorAction SilentlyContinue |
    Where-Object { $_.Extension -ieq '.vmx' } |
    Select-Object -ExpandProperty FullName
}
$paths = $paths | Sort-Object -Unique | Select-Object -First %d
@($paths) | ConvertTo-Json -Compress
`

func scanScript(roots []string) string {
	// 编码失败只可能来自非法 UTF-8，这里 roots 都是 string，Marshal 不会失败
	b, _ := json.Marshal(roots)
	return fmt.Sprintf(scanTemplate, psQuote(string(b)), MaxScanResults)
}

func hasControl(s string) bool {
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return true
		}
	}
	return false
}
