package vmrun

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

func TestCommand_Deterministic(t *testing.T) {
	a := Stop(`C:\VMs\Test\Test.vmx`, domain.StopSoft, "")
	b := Stop(`C:\VMs\Test\Test.vmx`, domain.StopSoft, "")
	if a.Render() != b.Render() {
		t.Fatalf("same inputs produced different commands")
	}
	if Scan([]string{`D:\VMs`}).Render() != Scan([]string{`D:\VMs`}).Render() {
		t.Fatalf("scan command not deterministic")
	}
}

func TestCommand_StartStopText(t *testing.T) {
	start := Start(`C:\VMs\it's\Test.vmx`, "").Render()
	if !strings.HasPrefix(start, "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass -Command \"") {
		t.Fatalf("unexpected prefix: %s", start)
	}
	if !strings.Contains(start, `-T ws start 'C:\VMs\it''s\Test.vmx' nogui`) {
		t.Fatalf("start sub-command missing or unescaped: %s", start)
	}
	soft := Stop(`C:\VMs\a.vmx`, domain.StopSoft, "").Render()
	hard := Stop(`C:\VMs\a.vmx`, domain.StopHard, "").Render()
	if !strings.Contains(soft, `stop 'C:\VMs\a.vmx' soft`) || !strings.Contains(hard, `stop 'C:\VMs\a.vmx' hard`) {
		t.Fatalf("stop modes not rendered: %s / %s", soft, hard)
	}
	if !strings.Contains(List().Render(), "& $vmrun -T ws list 2>&1") {
		t.Fatalf("list sub-command missing: %s", List().Render())
	}
}

func TestCommand_PasswordRedacted(t *testing.T) {
	c := Start(`C:\VMs\enc.vmx`, "s3cr'et")
	if !strings.Contains(c.Render(), `-vp 's3cr''et'`) {
		t.Fatalf("password not rendered: %s", c.Render())
	}
	if strings.Contains(c.Redacted(), "s3cr") {
		t.Fatalf("password leaked into redacted text: %s", c.Redacted())
	}
	if !strings.Contains(c.Redacted(), "-vp '********'") {
		t.Fatalf("redaction marker missing: %s", c.Redacted())
	}
	if plain := Start(`C:\VMs\a.vmx`, ""); plain.Redacted() != plain.Render() {
		t.Fatalf("redaction should be identity without password")
	}
}

func TestCommand_ScanEncoding(t *testing.T) {
	cmd := ScanDefault().Render()
	const marker = " -EncodedCommand "
	i := strings.Index(cmd, marker)
	if i < 0 {
		t.Fatalf("not an encoded command: %s", cmd)
	}
	raw, err := base64.StdEncoding.DecodeString(cmd[i+len(marker):])
	if err != nil {
		t.Fatal(err)
	}
	script, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(script), `$env:USERPROFILE\\Documents\\Virtual Machines`) {
		t.Fatalf("default roots missing from script: %s", script)
	}
	if !strings.Contains(string(script), "Select-Object -First 500") {
		t.Fatalf("result cap missing")
	}
	if ScanDefault().Action() != "vmware_scan_default_vmx" || Scan([]string{"x"}).Action() != "vmware_scan_vmx" {
		t.Fatalf("unexpected scan actions")
	}
}

func TestCommand_Validate(t *testing.T) {
	bad := []Command{
		Raw("  "),
		Raw(strings.Repeat("a", MaxRawCommandBytes+1)),
		Start("", ""),
		Start("C:\\a.vmx\nrm", ""),
		Stop("C:\\a.vmx", domain.StopMode("pause"), ""),
		Scan(nil),
	}
	for i, c := range bad {
		if err := c.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
	if err := Stop(`C:\a.vmx`, domain.StopHard, "pw").Validate(); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}
}

func TestParseListOutput(t *testing.T) {
	out := "Total running VMs: 3\r\nC:\\VMs\\Test\\Test.vmx\r\n\"D:\\Other\\B.vmx\"\r\nc:\\vms\\test\\test.vmx\r\n\r\n"
	got := ParseListOutput(out)
	if len(got) != 2 || got[0] != `C:\VMs\Test\Test.vmx` || got[1] != `D:\Other\B.vmx` {
		t.Fatalf("unexpected parse result: %#v", got)
	}
	if len(ParseListOutput("Total running VMs: 0\r\n")) != 0 {
		t.Fatalf("expected empty set")
	}
}

func TestParseJSONList(t *testing.T) {
	got, err := ParseJSONList(`["C:\\VMs\\A.vmx","c:\\vms\\a.vmx","D:\\B.vmx"]` + "\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected case-insensitive dedupe, got %#v", got)
	}
	single, err := ParseJSONList(`"C:\\VMs\\A.vmx"`)
	if err != nil || len(single) != 1 {
		t.Fatalf("single string: %v %#v", err, single)
	}
	empty, err := ParseJSONList("  \r\n")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty output: %v %#v", err, empty)
	}
	if _, err := ParseJSONList("Get-ChildItem : access denied"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDecodeOutput(t *testing.T) {
	if got := DecodeOutput([]byte("\xEF\xBB\xBFhello")); got != "hello" {
		t.Fatalf("bom not stripped: %q", got)
	}
	le, _ := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().Bytes([]byte("虚拟机"))
	if got := DecodeOutput(le); got != "虚拟机" {
		t.Fatalf("utf16 decode: %q", got)
	}
	gbk, _ := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("找不到文件"))
	if got := DecodeOutput(gbk); got != "找不到文件" {
		t.Fatalf("gbk decode: %q", got)
	}
}
