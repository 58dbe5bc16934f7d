package ssh

import (
	"context"
	"sync"
	"time"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// MockExecutor 用于测试：按命令文本返回预设结果，并统计调用与并发。
type MockExecutor struct {
	mu         sync.Mutex
	scripts    map[string]MockResult // key: command
	queues     map[string][]MockResult
	ConnectErr error
	// Handler 非空时优先于预设脚本
	Handler func(cmd string) MockResult

	calls       map[string]int
	inFlight    int
	maxInFlight int
}

type MockResult struct {
	Output   string
	ExitCode int
	Err      error
	DelayMs  int
}

var _ Conn = (*mockConn)(nil)

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{scripts: map[string]MockResult{}, queues: map[string][]MockResult{}, calls: map[string]int{}}
}

// Set 为命令设置固定结果
func (m *MockExecutor) Set(cmd string, res MockResult) {
	m.mu.Lock()
	m.scripts[cmd] = res
	m.mu.Unlock()
}

// Queue 为命令追加一次性结果，按顺序消费，耗尽后回落到 Set 的结果。
func (m *MockExecutor) Queue(cmd string, res ...MockResult) {
	m.mu.Lock()
	m.queues[cmd] = append(m.queues[cmd], res...)
	m.mu.Unlock()
}

// Calls 命令被执行的次数
func (m *MockExecutor) Calls(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[cmd]
}

// TotalCalls 所有命令执行次数之和
func (m *MockExecutor) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// MaxInFlight 观察到的最大并发执行数
func (m *MockExecutor) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockExecutor) Connect(ctx context.Context, target domain.RemoteTarget) (Conn, error) {
	m.mu.Lock()
	err := m.ConnectErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &mockConn{m: m}, nil
}

type mockConn struct{ m *MockExecutor }

func (c *mockConn) Exec(ctx context.Context, cmd string) ([]byte, int, error) {
	m := c.m
	m.mu.Lock()
	m.calls[cmd]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	var r MockResult
	var ok bool
	if m.Handler != nil {
		r, ok = m.Handler(cmd), true
	} else if q := m.queues[cmd]; len(q) > 0 {
		r, ok = q[0], true
		m.queues[cmd] = q[1:]
	} else {
		r, ok = m.scripts[cmd]
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !ok {
		return nil, 127, nil
	}
	if r.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return nil, -1, ctx.Err()
		case <-time.After(time.Duration(r.DelayMs) * time.Millisecond):
		}
	}
	return []byte(r.Output), r.ExitCode, r.Err
}
