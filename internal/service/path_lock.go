package service

import (
	"context"
	"strings"
	"sync"
)

// pathLocks 按虚拟机定义路径(忽略大小写)串行化启停。等待可被 ctx 取消。
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

type pathLock struct {
	sem  chan struct{}
	refs int
}

func newPathLocks() *pathLocks { return &pathLocks{locks: map[string]*pathLock{}} }

func lockKey(path string) string { return strings.ToLower(strings.TrimSpace(path)) }

// acquire 阻塞直到拿到锁或 ctx 结束。返回的 release 必须调用一次。
func (p *pathLocks) acquire(ctx context.Context, path string) (release func(), err error) {
	key := lockKey(path)
	p.mu.Lock()
	l := p.locks[key]
	if l == nil {
		l = &pathLock{sem: make(chan struct{}, 1)}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.sem
				p.unref(key, l)
			})
		}, nil
	case <-ctx.Done():
		p.unref(key, l)
		return nil, ctx.Err()
	}
}

func (p *pathLocks) unref(key string, l *pathLock) {
	p.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, key)
	}
	p.mu.Unlock()
}

// busy 报告路径当前是否有进行中的操作
func (p *pathLocks) busy(path string) bool {
	p.mu.Lock()
	l := p.locks[lockKey(path)]
	p.mu.Unlock()
	return l != nil && len(l.sem) > 0
}
