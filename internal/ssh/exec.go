package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	gssh "golang.org/x/crypto/ssh"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// ErrKeyNotConfigured 本地尚未保存私钥
var ErrKeyNotConfigured = errors.New("SSH private key not configured; run `vmctl key set` first")

// KeyLoader 在每次建立新连接时读取私钥 PEM。返回 ErrKeyNotConfigured 表示缺失。
type KeyLoader func() ([]byte, error)

// Client 基于 x/crypto/ssh 的远程 shell 客户端：按 目标+密钥 复用连接。
type Client struct {
	pool        *ConnectionPool
	loadKey     KeyLoader
	dialTimeout time.Duration
	log         *zap.Logger
}

// NewClient 创建客户端。dialTimeout<=0 时为 10s。
func NewClient(loadKey KeyLoader, dialTimeout time.Duration, log *zap.Logger) *Client {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{pool: NewConnectionPool(), loadKey: loadKey, dialTimeout: dialTimeout, log: log}
}

// Conn 已认证的远程 shell 连接，可多次 Exec。
type Conn interface {
	Exec(ctx context.Context, cmd string) (output []byte, exitStatus int, err error)
}

// Session 池化连接上的 Conn 实现
type Session struct {
	client *gssh.Client
	pool   *ConnectionPool
	key    poolKey
}

// Connect 获取(或复用)到目标的已认证连接。
func (c *Client) Connect(ctx context.Context, target domain.RemoteTarget) (Conn, error) {
	if target.User == "" || target.Host == "" {
		return nil, errors.New("user/host empty")
	}
	keyPEM, err := c.loadKey()
	if err != nil {
		return nil, err
	}
	pk := makeKey(target.User, target.Addr(), keyPEM)
	if cl := c.pool.get(pk); cl != nil {
		return &Session{client: cl, pool: c.pool, key: pk}, nil
	}

	signer, err := gssh.ParsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse key: %w", err)
	}
	conf := &gssh.ClientConfig{
		User:            target.User,
		Auth:            []gssh.AuthMethod{gssh.PublicKeys(signer)},
		HostKeyCallback: gssh.InsecureIgnoreHostKey(),
		Timeout:         c.dialTimeout,
	}
	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target.Addr())
	if err != nil {
		return nil, err
	}
	// 握手阶段没有 ctx 参数，用连接截止时间兜底
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	cc, chans, reqs, err := gssh.NewClientConn(conn, target.Addr(), conf)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	cl := gssh.NewClient(cc, chans, reqs)
	c.log.Debug("ssh connected", zap.String("target", target.String()))
	cl = c.pool.put(pk, cl)
	return &Session{client: cl, pool: c.pool, key: pk}, nil
}

// Exec 执行命令，stdout/stderr 合并为一份输出，返回退出码。
// ctx 结束时关闭会话以中断远端调用。
func (s *Session) Exec(ctx context.Context, cmd string) ([]byte, int, error) {
	if cmd == "" {
		return nil, -1, errors.New("cmd empty")
	}
	session, err := s.client.NewSession()
	if err != nil {
		// 连接已失效，下次重建
		s.pool.drop(s.key, s.client)
		return nil, -1, err
	}
	defer session.Close()

	var out safeBuffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return out.Bytes(), -1, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *gssh.ExitError
		var missing *gssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			return out.Bytes(), exitErr.ExitStatus(), nil
		case errors.As(err, &missing):
			return out.Bytes(), 0, nil
		default:
			s.pool.drop(s.key, s.client)
			return out.Bytes(), -1, err
		}
	}
	return out.Bytes(), 0, nil
}

// Close 关闭所有池化连接
func (c *Client) Close() { c.pool.CloseAll() }

// safeBuffer stdout 与 stderr 由不同 goroutine 写入
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// -------- 连接池实现 (简化版) --------

type poolKey string

func makeKey(user, addr string, key []byte) poolKey {
	h := sha256.Sum256(append([]byte(user+"@"+addr+"|"), key...))
	return poolKey(hex.EncodeToString(h[:8]))
}

type ConnectionPool struct {
	mu      sync.Mutex
	clients map[poolKey]*gssh.Client
}

func NewConnectionPool() *ConnectionPool { return &ConnectionPool{clients: map[poolKey]*gssh.Client{}} }

// get 返回健康的连接，失效则移除并返回 nil。
func (p *ConnectionPool) get(pk poolKey) *gssh.Client {
	p.mu.Lock()
	c, ok := p.clients[pk]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	// 简单健康检测
	if _, _, err := c.SendRequest("keepalive@openssh.com", true, nil); err == nil {
		return c
	}
	p.drop(pk, c)
	return nil
}

// put 并发建连时保留先入池的连接，返回实际使用的那个。
func (p *ConnectionPool) put(pk poolKey, c *gssh.Client) *gssh.Client {
	p.mu.Lock()
	if old, ok := p.clients[pk]; ok {
		p.mu.Unlock()
		_ = c.Close()
		return old
	}
	p.clients[pk] = c
	p.mu.Unlock()
	return c
}

func (p *ConnectionPool) drop(pk poolKey, c *gssh.Client) {
	p.mu.Lock()
	if cur, ok := p.clients[pk]; ok && cur == c {
		delete(p.clients, pk)
	}
	p.mu.Unlock()
	_ = c.Close()
}

func (p *ConnectionPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, c := range p.clients {
		_ = c.Close()
		delete(p.clients, k)
	}
}

// Len 池中连接数
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}
