package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// HistoryRepo trace 的持久化归档。内存中的 Tracer 才是权威记录，这里只做事后查询。
type HistoryRepo struct{ db *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

func (r *HistoryRepo) EnsureSchema() error { return EnsureSchema(r.db) }

const historyCols = `seq,request_id,action,attempt,COALESCE(target,''),COALESCE(command,''),ok,COALESCE(output,''),COALESCE(error_text,''),started_at,duration_ms`

func (r *HistoryRepo) Insert(e *domain.TraceEntry) error {
	return r.InsertBatch([]domain.TraceEntry{*e})
}

// InsertBatch 单事务写入一批
func (r *HistoryRepo) InsertBatch(es []domain.TraceEntry) (err error) {
	if len(es) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.Prepare(`INSERT INTO trace_history(seq,request_id,action,attempt,target,command,ok,output,error_text,started_at,duration_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range es {
		if _, err = stmt.Exec(e.SequenceID, e.RequestID, e.Action, e.Attempt, e.Target, e.Command, e.OK,
			e.Output, e.ErrorMessage, e.StartedAt.UTC(), e.DurationMs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *HistoryRepo) ListRecent(limit int) ([]domain.TraceEntry, error) {
	return r.ListFiltered(limit, HistoryFilter{})
}

// HistoryFilter 为空的字段表示忽略该条件；Action/Target/Command 为模糊匹配。
type HistoryFilter struct {
	RequestID  string
	Action     string
	Target     string
	Command    string
	FailedOnly bool
}

func (r *HistoryRepo) ListFiltered(limit int, f HistoryFilter) ([]domain.TraceEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []any{}
	if f.RequestID != "" {
		where += " AND request_id = ?"
		args = append(args, f.RequestID)
	}
	if f.Action != "" {
		where += " AND action LIKE ?"
		args = append(args, "%"+f.Action+"%")
	}
	if f.Target != "" {
		where += " AND target LIKE ?"
		args = append(args, "%"+f.Target+"%")
	}
	if f.Command != "" {
		where += " AND command LIKE ?"
		args = append(args, "%"+f.Command+"%")
	}
	if f.FailedOnly {
		where += " AND ok = 0"
	}
	q := `SELECT ` + historyCols + ` FROM trace_history WHERE 1=1` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.TraceEntry
	for rows.Next() {
		var e domain.TraceEntry
		var started string
		if err := rows.Scan(&e.SequenceID, &e.RequestID, &e.Action, &e.Attempt, &e.Target, &e.Command, &e.OK,
			&e.Output, &e.ErrorMessage, &started, &e.DurationMs); err != nil {
			return nil, err
		}
		e.StartedAt = parseTime(started)
		list = append(list, e)
	}
	return list, rows.Err()
}

// Cleanup 根据保留天数与最大行数裁剪
func (r *HistoryRepo) Cleanup(retentionDays, maxRows int) error {
	if retentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
		if _, err := r.db.Exec(`DELETE FROM trace_history WHERE started_at < ?`, cutoff); err != nil {
			return fmt.Errorf("cleanup by age: %w", err)
		}
	}
	if maxRows > 0 {
		// 删除超过 maxRows 的最旧行
		if _, err := r.db.Exec(`DELETE FROM trace_history WHERE id IN (SELECT id FROM trace_history ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxRows); err != nil {
			return fmt.Errorf("cleanup by rows: %w", err)
		}
	}
	return nil
}

// Count 归档总行数
func (r *HistoryRepo) Count() (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM trace_history`).Scan(&n)
	return n, err
}
