package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/metrics"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/ssh"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/trace"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/vmrun"
)

type collectSink struct {
	mu      sync.Mutex
	entries []domain.TraceEntry
}

func (s *collectSink) Write(e domain.TraceEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func TestExecutor_OneEntryPerAttempt(t *testing.T) {
	mock := ssh.NewMockExecutor()
	mock.Set("hostname", ssh.MockResult{Output: "WIN-HOST\r\n"})
	mock.Set("exit 3", ssh.MockResult{ExitCode: 3})
	mock.Set("bad", ssh.MockResult{Output: "  boom  \n", ExitCode: 1})
	tr := trace.New(0)
	sink := &collectSink{}
	m := metrics.New(prometheus.NewRegistry())
	ex := NewRemoteExecutor(mock, tr, WithSinks(sink), WithMetrics(m))
	ctx := context.Background()

	out, err := ex.Execute(ctx, ExecRequest{Target: testTarget, Command: vmrun.Raw("hostname"), RequestID: "r1"})
	if err != nil || out != "WIN-HOST\r\n" {
		t.Fatalf("unexpected out=%q err=%v", out, err)
	}
	_, err = ex.Execute(ctx, ExecRequest{Target: testTarget, Command: vmrun.Raw("exit 3"), RequestID: "r2"})
	if !errors.Is(err, domain.ErrRemoteCommand) || !strings.Contains(err.Error(), "remote command exited with status 3") {
		t.Fatalf("expected status message, got %v", err)
	}
	_, err = ex.Execute(ctx, ExecRequest{Target: testTarget, Command: vmrun.Raw("bad"), RequestID: "r3"})
	if !errors.Is(err, domain.ErrRemoteCommand) || !strings.HasSuffix(err.Error(), ": boom") {
		t.Fatalf("expected trimmed output as message, got %v", err)
	}
	mock.ConnectErr = errors.New("dial tcp 192.168.5.100:22: connection refused")
	_, err = ex.Execute(ctx, ExecRequest{Target: testTarget, Command: vmrun.Raw("hostname"), RequestID: "r4"})
	if !errors.Is(err, domain.ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}

	entries := tr.List()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	wantOK := map[string]bool{"r1": true, "r2": false, "r3": false, "r4": false}
	var lastSeq uint64 = 1 << 62
	for _, e := range entries {
		if e.OK != wantOK[e.RequestID] {
			t.Fatalf("entry %s ok=%v", e.RequestID, e.OK)
		}
		if !e.OK && e.ErrorMessage == "" {
			t.Fatalf("failed entry %s without error message", e.RequestID)
		}
		if e.DurationMs < 0 || e.Action != "ssh_exec" || e.Attempt != 1 {
			t.Fatalf("bad entry %+v", e)
		}
		if e.SequenceID >= lastSeq {
			t.Fatalf("entries not newest first")
		}
		lastSeq = e.SequenceID
	}
	if len(sink.entries) != 4 || sink.entries[0].SequenceID == 0 {
		t.Fatalf("sink should see every entry with its sequence id")
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("ssh_exec", "remote_command")); got != 2 {
		t.Fatalf("remote_command attempts metric = %v", got)
	}
	if got := testutil.ToFloat64(m.Attempts.WithLabelValues("ssh_exec", "connection")); got != 1 {
		t.Fatalf("connection attempts metric = %v", got)
	}
}

func TestExecutor_TimeoutRecordsThenAmends(t *testing.T) {
	mock := ssh.NewMockExecutor()
	mock.Set("slow", ssh.MockResult{Output: "finally", DelayMs: 150})
	tr := trace.New(0)
	ex := NewRemoteExecutor(mock, tr)

	start := time.Now()
	_, err := ex.Execute(context.Background(), ExecRequest{Target: testTarget, Command: vmrun.Raw("slow"), RequestID: "t1", Timeout: 20 * time.Millisecond})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 120*time.Millisecond {
		t.Fatalf("timeout should return promptly")
	}
	if tr.Len() != 1 {
		t.Fatalf("timed out attempt must be recorded before returning")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e := tr.List()[0]
		if strings.Contains(e.ErrorMessage, "late result") {
			if e.Output != "finally" || e.OK {
				t.Fatalf("unexpected amended entry %+v", e)
			}
			if tr.Len() != 1 {
				t.Fatalf("late result must not add a second entry")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("late result never attached to trace entry")
}

func TestExecutor_CallerDeadlineIsTimeout(t *testing.T) {
	mock := ssh.NewMockExecutor()
	mock.Set("slow", ssh.MockResult{DelayMs: 200})
	tr := trace.New(0)
	ex := NewRemoteExecutor(mock, tr)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ex.Execute(ctx, ExecRequest{Target: testTarget, Command: vmrun.Raw("slow"), Timeout: time.Minute})
	if !errors.Is(err, domain.ErrTimeout) || tr.Len() != 1 {
		t.Fatalf("expected recorded timeout, got %v (entries %d)", err, tr.Len())
	}
}

func TestExecutor_RedactsPasswordAndTruncates(t *testing.T) {
	mock := ssh.NewMockExecutor()
	cmd := vmrun.Start(testVMX, "s3cret-pw")
	big := strings.Repeat("中", 30000)
	mock.Set(cmd.Render(), ssh.MockResult{Output: big, ExitCode: 1})
	tr := trace.New(0)
	ex := NewRemoteExecutor(mock, tr)
	out, err := ex.Execute(context.Background(), ExecRequest{Target: testTarget, Command: cmd})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if out != big {
		t.Fatalf("caller should receive full output")
	}
	e := tr.List()[0]
	if strings.Contains(e.Command, "s3cret-pw") || strings.Contains(e.ErrorMessage, "s3cret-pw") {
		t.Fatalf("password leaked into trace")
	}
	if !strings.Contains(e.Command, "********") {
		t.Fatalf("expected masked password in trace command")
	}
	if len(e.Output) > maxTraceOutputBytes || len(e.ErrorMessage) > maxTraceErrorBytes {
		t.Fatalf("trace fields not truncated: output=%d error=%d", len(e.Output), len(e.ErrorMessage))
	}
	if !utf8.ValidString(e.Output) || !utf8.ValidString(e.ErrorMessage) {
		t.Fatalf("truncation broke utf-8")
	}
}

func TestExecutor_KeyMissingIsConnectionError(t *testing.T) {
	mock := ssh.NewMockExecutor()
	mock.ConnectErr = ssh.ErrKeyNotConfigured
	ex := NewRemoteExecutor(mock, trace.New(0))
	_, err := ex.Execute(context.Background(), ExecRequest{Target: testTarget, Command: vmrun.List()})
	if !errors.Is(err, domain.ErrConnection) || !errors.Is(err, ssh.ErrKeyNotConfigured) {
		t.Fatalf("expected connection error wrapping missing key, got %v", err)
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("abc", 10); got != "abc" {
		t.Fatalf("short text changed: %q", got)
	}
	got := truncateText(strings.Repeat("é", 10), 8)
	if len(got) > 8 || !utf8.ValidString(got) || !strings.HasSuffix(got, "…") {
		t.Fatalf("bad truncation %q", got)
	}
}
