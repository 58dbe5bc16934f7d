package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// HistoryStore 批量写入归档。*repository.HistoryRepo 满足。
type HistoryStore interface {
	InsertBatch([]domain.TraceEntry) error
}

// HistoryWriter 异步批量把 trace 写入持久化归档。队列满时丢弃，内存 Tracer 不受影响。
type HistoryWriter struct {
	repo          HistoryStore
	ch            chan domain.TraceEntry
	stop          chan struct{}
	flushInterval time.Duration
	batchSize     int
	log           *zap.Logger
	wg            sync.WaitGroup
	closeOnce     sync.Once

	mu      sync.Mutex
	dropped int
}

var _ TraceSink = (*HistoryWriter)(nil)

func NewHistoryWriter(repo HistoryStore, flushInterval time.Duration, batchSize int, log *zap.Logger) *HistoryWriter {
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 20
	}
	if log == nil {
		log = zap.NewNop()
	}
	hw := &HistoryWriter{repo: repo, ch: make(chan domain.TraceEntry, batchSize*4), stop: make(chan struct{}),
		flushInterval: flushInterval, batchSize: batchSize, log: log}
	hw.wg.Add(1)
	go hw.loop()
	return hw
}

func (w *HistoryWriter) loop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	batch := make([]domain.TraceEntry, 0, w.batchSize)
	flush := func() {
		if err := w.repo.InsertBatch(batch); err != nil {
			w.log.Warn("trace archive write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}
	for {
		select {
		case e := <-w.ch:
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case <-w.stop:
			// 排空队列
			for {
				select {
				case e := <-w.ch:
					batch = append(batch, e)
				default:
					if len(batch) > 0 {
						flush()
					}
					return
				}
			}
		}
	}
}

func (w *HistoryWriter) Write(e domain.TraceEntry) {
	select {
	case w.ch <- e:
	default: /* drop if full */
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
	}
}

// Dropped 因队列满被丢弃的条数
func (w *HistoryWriter) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close 刷新剩余条目并停止，可重复调用。
func (w *HistoryWriter) Close() {
	w.closeOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}
