package repository

import "github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"

// MachineRepoIface 抽象虚拟机目录。
type MachineRepoIface interface {
	GetByPath(string) (domain.ManagedMachine, error)
	ListAll() ([]domain.ManagedMachine, error)
	SearchByPath(string) ([]domain.ManagedMachine, error)
	Save(*domain.ManagedMachine) error
	BulkUpsert([]domain.ManagedMachine) error
	SetPinned(string, bool) error
	Rename(string, string) error
	DeleteByPath(string) error
	EnsureSchema() error
}

// HistoryRepoIface 抽象 trace 归档。
type HistoryRepoIface interface {
	InsertBatch([]domain.TraceEntry) error
	ListRecent(int) ([]domain.TraceEntry, error)
	ListFiltered(int, HistoryFilter) ([]domain.TraceEntry, error)
	Cleanup(int, int) error
	EnsureSchema() error
}

// 编译期断言本地实现满足接口
var _ MachineRepoIface = (*MachineRepo)(nil)
var _ HistoryRepoIface = (*HistoryRepo)(nil)
