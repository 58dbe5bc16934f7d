package domain

import "time"

// TraceEntry 一次远程执行尝试的记录。重试会产生多条，共享 RequestID。
type TraceEntry struct {
	SequenceID   uint64    `json:"id"`
	RequestID    string    `json:"request_id"`
	Action       string    `json:"action"`
	Attempt      int       `json:"attempt"`
	Target       string    `json:"target"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	Command      string    `json:"command"` // 已脱敏
	OK           bool      `json:"ok"`
	Output       string    `json:"output"`
	ErrorMessage string    `json:"error,omitempty"`
}
