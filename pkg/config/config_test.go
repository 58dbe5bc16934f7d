package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	c, err := load(envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if c.StartAttempts != 2 || c.RetryDelay != 800*time.Millisecond || c.TraceCapacity != 200 || c.Port != 22 {
		t.Fatalf("unexpected defaults %+v", c)
	}
	if c.DBPath() != filepath.Join("data", "vmctl.db") {
		t.Fatalf("db path %s", c.DBPath())
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "vmctl.yaml")
	yml := "host: 192.168.5.100\nuser: rin\nexec_timeout: 45s\nreconcile_polls: 9\nnats_url: nats://127.0.0.1:4222\n"
	if err := os.WriteFile(p, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	c, err := load(envMap(map[string]string{
		"VMCTL_CONFIG":      p,
		"VMCTL_USER":        "admin",
		"VMCTL_PORT":        "2222",
		"VMCTL_RETRY_DELAY": "bogus",
		"VMCTL_OTEL_STDOUT": "true",
		"VMCTL_DATA_DIR":    dir,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if c.Host != "192.168.5.100" || c.User != "admin" || c.Port != 2222 {
		t.Fatalf("target merge wrong: %s@%s:%d", c.User, c.Host, c.Port)
	}
	if c.ExecTimeout != 45*time.Second || c.ReconcilePolls != 9 || c.NATSURL == "" {
		t.Fatalf("file values not applied %+v", c)
	}
	if c.RetryDelay != 800*time.Millisecond {
		t.Fatalf("invalid env value should keep previous, got %s", c.RetryDelay)
	}
	if !c.OTelStdout {
		t.Fatalf("bool env not applied")
	}
}

func TestLoad_Invalid(t *testing.T) {
	if _, err := load(envMap(map[string]string{"VMCTL_START_ATTEMPTS": "0"})); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := load(envMap(map[string]string{"VMCTL_CONFIG": filepath.Join(t.TempDir(), "missing.yaml")})); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
