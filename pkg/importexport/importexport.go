package importexport

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
)

// ParseMachinesJSON 解析 JSON 数组为虚拟机目录条目，空路径被忽略。
func ParseMachinesJSON(data []byte) ([]domain.ManagedMachine, error) {
	var ms []domain.ManagedMachine
	if err := json.Unmarshal(data, &ms); err != nil {
		return nil, err
	}
	out := ms[:0]
	for _, m := range ms {
		if strings.TrimSpace(m.DefinitionPath) != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

// ParseMachinesCSV 解析 CSV: vmx_path[,display_name[,pinned]]，首行含 vmx 时视为表头。
func ParseMachinesCSV(data []byte) ([]domain.ManagedMachine, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []domain.ManagedMachine{}, nil
	}
	start := 0
	if len(rows[0]) > 0 && strings.Contains(strings.ToLower(strings.Join(rows[0], ",")), "vmx") &&
		!strings.HasSuffix(strings.ToLower(strings.TrimSpace(rows[0][0])), ".vmx") {
		start = 1
	}
	var out []domain.ManagedMachine
	for i := start; i < len(rows); i++ {
		cols := rows[i]
		if len(cols) == 0 {
			continue
		}
		p := strings.TrimSpace(cols[0])
		if p == "" {
			continue
		}
		m := domain.ManagedMachine{DefinitionPath: p}
		if len(cols) > 1 {
			m.DisplayNameOverride = strings.TrimSpace(cols[1])
		}
		if len(cols) > 2 {
			m.Pinned, _ = strconv.ParseBool(strings.TrimSpace(cols[2]))
		}
		out = append(out, m)
	}
	return out, nil
}

// RenderMachinesCSV 输出 CSV 字符串 (含 header)
func RenderMachinesCSV(ms []domain.ManagedMachine) string {
	var b strings.Builder
	b.WriteString("vmx_path,display_name,pinned\n")
	for _, m := range ms {
		b.WriteString(strings.Join([]string{
			escapeCSV(m.DefinitionPath), escapeCSV(m.DisplayNameOverride), strconv.FormatBool(m.Pinned),
		}, ","))
		b.WriteString("\n")
	}
	return b.String()
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\n\"") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}

// SerializeMachinesJSON 输出 JSON 字符串
func SerializeMachinesJSON(ms []domain.ManagedMachine) (string, error) {
	if ms == nil {
		ms = []domain.ManagedMachine{}
	}
	b, err := json.MarshalIndent(ms, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ValidateMachines 路径必须非空且以 .vmx 结尾
func ValidateMachines(ms []domain.ManagedMachine) error {
	for _, m := range ms {
		p := strings.TrimSpace(m.DefinitionPath)
		if p == "" {
			return errors.New("empty vmx_path")
		}
		if !strings.HasSuffix(strings.ToLower(p), ".vmx") {
			return errors.New("not a .vmx path: " + p)
		}
	}
	return nil
}
