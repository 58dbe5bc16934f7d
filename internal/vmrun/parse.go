package vmrun

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseListOutput 解析 `vmrun list` 输出：跳过空行和 "Total running VMs" 行，去引号，
// 大小写不敏感去重并保留首次出现的写法。
func ParseListOutput(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "total ") {
			continue
		}
		paths = append(paths, strings.Trim(line, `"`))
	}
	return UniqueFold(paths)
}

// ParseJSONList 解析扫描脚本输出的 JSON 数组；单个 JSON 字符串视为一个元素。
// 只看第一条非空行，远端可能在其后追加提示信息。
func ParseJSONList(output string) ([]string, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return []string{}, nil
	}
	candidate := trimmed
	for _, line := range strings.Split(trimmed, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			candidate = l
			break
		}
	}
	var list []string
	if err := json.Unmarshal([]byte(candidate), &list); err == nil {
		return UniqueFold(list), nil
	}
	var single string
	if err := json.Unmarshal([]byte(candidate), &single); err == nil {
		return UniqueFold([]string{single}), nil
	}
	if len(candidate) > 240 {
		candidate = candidate[:239] + "…"
	}
	return nil, fmt.Errorf("failed to parse JSON array from output (first line: %s)", candidate)
}

// UniqueFold 大小写不敏感去重，空串丢弃，保持原顺序。
func UniqueFold(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ContainsFold 判断路径是否在列表中(大小写不敏感)
func ContainsFold(list []string, path string) bool {
	for _, p := range list {
		if strings.EqualFold(p, path) {
			return true
		}
	}
	return false
}
