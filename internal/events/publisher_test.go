package events

import (
	"testing"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

func TestPublisher_Subject(t *testing.T) {
	p := newPublisher(nil, "", nil)
	if got := p.Subject("vmware_start_vm"); got != "vmctl.trace.vmware_start_vm" {
		t.Fatalf("subject %s", got)
	}
	// 未连接时静默丢弃
	p.Write(domain.TraceEntry{Action: "ssh_exec"})
	p.Close()
}

func TestNewPublisher_BadURL(t *testing.T) {
	if _, err := NewPublisher("nats://127.0.0.1:1", "x", nil); err == nil {
		t.Fatalf("expected connect error")
	}
}
