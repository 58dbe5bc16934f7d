package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// ErrMachineNotFound 目录中没有该条目
var ErrMachineNotFound = errors.New("machine not found")

// MachineRepo 本地虚拟机目录，以 .vmx 路径(忽略大小写)为唯一键。
type MachineRepo struct {
	db *sql.DB
}

func NewMachineRepo(db *sql.DB) *MachineRepo {
	return &MachineRepo{db: db}
}

func (r *MachineRepo) EnsureSchema() error { return EnsureSchema(r.db) }

func vmxKey(p string) string { return strings.ToLower(strings.TrimSpace(p)) }

const machineCols = `id, vmx_path, COALESCE(display_name,''), pinned, COALESCE(created_at,'')`

type rowScanner interface{ Scan(dest ...any) error }

func scanMachine(s rowScanner) (domain.ManagedMachine, error) {
	var m domain.ManagedMachine
	var createdAtStr string
	if err := s.Scan(&m.ID, &m.DefinitionPath, &m.DisplayNameOverride, &m.Pinned, &createdAtStr); err != nil {
		return domain.ManagedMachine{}, err
	}
	m.CreatedAt = parseTime(createdAtStr)
	return m, nil
}

// parseTime 兼容 RFC3339 与 sqlite CURRENT_TIMESTAMP 格式
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999 -0700 MST", "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func (r *MachineRepo) queryList(q string, args ...any) ([]domain.ManagedMachine, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []domain.ManagedMachine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// SearchByPath 路径模糊匹配，空串返回全部。
func (r *MachineRepo) SearchByPath(sub string) ([]domain.ManagedMachine, error) {
	like := "%" + vmxKey(sub) + "%"
	return r.queryList(`SELECT `+machineCols+` FROM managed_machines WHERE vmx_key LIKE ? ORDER BY pinned DESC, created_at ASC`, like)
}

func (r *MachineRepo) GetByPath(p string) (domain.ManagedMachine, error) {
	m, err := scanMachine(r.db.QueryRow(`SELECT `+machineCols+` FROM managed_machines WHERE vmx_key = ? LIMIT 1`, vmxKey(p)))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ManagedMachine{}, ErrMachineNotFound
	}
	return m, err
}

// ListAll 置顶优先，其余按加入顺序。
func (r *MachineRepo) ListAll() ([]domain.ManagedMachine, error) {
	return r.queryList(`SELECT ` + machineCols + ` FROM managed_machines ORDER BY pinned DESC, created_at ASC, id ASC`)
}

// Save 按路径插入或更新；新条目分配 UUID 与创建时间。
func (r *MachineRepo) Save(m *domain.ManagedMachine) error {
	if strings.TrimSpace(m.DefinitionPath) == "" {
		return errors.New("empty vmx path")
	}
	return r.upsert(r.db, m)
}

type execQuerier interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (r *MachineRepo) upsert(q execQuerier, m *domain.ManagedMachine) error {
	var exID string
	err := q.QueryRow(`SELECT id FROM managed_machines WHERE vmx_key = ? LIMIT 1`, vmxKey(m.DefinitionPath)).Scan(&exID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if exID == "" { // insert
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		_, err := q.Exec(`INSERT INTO managed_machines (id, vmx_path, vmx_key, display_name, pinned, created_at) VALUES (?,?,?,?,?,?)`,
			m.ID, strings.TrimSpace(m.DefinitionPath), vmxKey(m.DefinitionPath), m.DisplayNameOverride, m.Pinned, m.CreatedAt.UTC().Format(time.RFC3339Nano))
		return err
	}
	_, err = q.Exec(`UPDATE managed_machines SET vmx_path=?, display_name=?, pinned=? WHERE id=?`,
		strings.TrimSpace(m.DefinitionPath), m.DisplayNameOverride, m.Pinned, exID)
	m.ID = exID
	return err
}

// BulkUpsert 批量导入，单事务提交。
func (r *MachineRepo) BulkUpsert(ms []domain.ManagedMachine) (err error) {
	if len(ms) == 0 {
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
	for i := range ms {
		if strings.TrimSpace(ms[i].DefinitionPath) == "" {
			continue
		}
		if err = r.upsert(tx, &ms[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetPinned 置顶/取消置顶
func (r *MachineRepo) SetPinned(p string, pinned bool) error {
	return r.updateOne(`UPDATE managed_machines SET pinned=? WHERE vmx_key=?`, pinned, vmxKey(p))
}

// Rename 设置显示名称，空串恢复为文件名。
func (r *MachineRepo) Rename(p, name string) error {
	return r.updateOne(`UPDATE managed_machines SET display_name=? WHERE vmx_key=?`, strings.TrimSpace(name), vmxKey(p))
}

// DeleteByPath 根据 .vmx 路径删除
func (r *MachineRepo) DeleteByPath(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("empty vmx path")
	}
	return r.updateOne(`DELETE FROM managed_machines WHERE vmx_key=?`, vmxKey(p))
}

func (r *MachineRepo) updateOne(q string, args ...any) error {
	res, err := r.db.Exec(q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrMachineNotFound
	}
	return nil
}
