// Package trace 内存中的远程执行记录环形缓冲，按 request id 关联。
package trace

import (
	"sync"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// DefaultCapacity 默认保留条数
const DefaultCapacity = 200

// Tracer 只追加的有界记录簿。写满后淘汰最旧条目，Record 不会因淘汰阻塞。
// 并发安全；序号在并发写入者之间严格递增。
type Tracer struct {
	mu      sync.Mutex
	buf     []domain.TraceEntry // 环形存储
	head    int                 // 下一个写入位置
	size    int
	nextSeq uint64
}

// New 创建 Tracer，capacity<=0 使用默认值。
func New(capacity int) *Tracer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracer{buf: make([]domain.TraceEntry, capacity), nextSeq: 1}
}

// Capacity 返回容量
func (t *Tracer) Capacity() int { return len(t.buf) }

// Record 存入条目并返回分配的序号(entry.SequenceID 会被覆盖)。
func (t *Tracer) Record(e domain.TraceEntry) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.SequenceID = t.nextSeq
	t.nextSeq++
	t.buf[t.head] = e
	t.head = (t.head + 1) % len(t.buf)
	if t.size < len(t.buf) {
		t.size++
	}
	return e.SequenceID
}

// List 返回快照，最新在前。
func (t *Tracer) List() []domain.TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TraceEntry, 0, t.size)
	for i := 1; i <= t.size; i++ {
		idx := (t.head - i + len(t.buf)) % len(t.buf)
		out = append(out, t.buf[idx])
	}
	return out
}

// Len 当前条目数
func (t *Tracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Clear 清空记录，序号不回退。
func (t *Tracer) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buf {
		t.buf[i] = domain.TraceEntry{}
	}
	t.head, t.size = 0, 0
}

// Amend 就地修改仍在缓冲中的条目(超时后迟到的结果)。条目已被淘汰或清空时返回 false。
func (t *Tracer) Amend(seq uint64, fn func(*domain.TraceEntry)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 1; i <= t.size; i++ {
		idx := (t.head - i + len(t.buf)) % len(t.buf)
		if t.buf[idx].SequenceID == seq {
			fn(&t.buf[idx])
			t.buf[idx].SequenceID = seq
			return true
		}
		if t.buf[idx].SequenceID < seq {
			return false
		}
	}
	return false
}
