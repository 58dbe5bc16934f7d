package domain

import "time"

// ManagedMachine 调用方维护的虚拟机条目，以远端 .vmx 路径标识。
// 核心层只接收 DefinitionPath，本结构只由本地目录(catalog)持久化。
type ManagedMachine struct {
	ID                  string    `json:"id"`
	DefinitionPath      string    `json:"definition_path"` // 远端 .vmx 路径
	CreatedAt           time.Time `json:"created_at,omitempty"`
	Pinned              bool      `json:"pinned"`
	DisplayNameOverride string    `json:"display_name,omitempty"`
}

// DisplayName 优先使用自定义名称，否则取 vmx 文件名(去扩展名)。
func (m ManagedMachine) DisplayName() string {
	if m.DisplayNameOverride != "" {
		return m.DisplayNameOverride
	}
	p := m.DefinitionPath
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '\\' || p[i] == '/' {
			p = p[i+1:]
			break
		}
	}
	if n := len(p); n > 4 && (p[n-4:] == ".vmx" || p[n-4:] == ".VMX") {
		p = p[:n-4]
	}
	return p
}

// VMStatus 已知路径的运行状态
type VMStatus struct {
	DefinitionPath string `json:"vmx_path"`
	Running        bool   `json:"is_running"`
}
