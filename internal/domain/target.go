package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultSSHPort 未指定端口时使用
const DefaultSSHPort = 22

// RemoteTarget 远端 SSH 端点，单次调用内不可变。
type RemoteTarget struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	User string `json:"user"`
}

// Addr 返回 host:port，端口为 0 时回退 22。
func (t RemoteTarget) Addr() string {
	port := t.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(port))
}

func (t RemoteTarget) String() string { return t.User + "@" + t.Addr() }

// Validate 在任何远程调用之前检查目标。
func (t RemoteTarget) Validate() error {
	if strings.TrimSpace(t.Host) == "" {
		return Validation("target host is empty")
	}
	if strings.TrimSpace(t.User) == "" {
		return Validation("target user is empty")
	}
	if t.Port < 0 || t.Port > 65535 {
		return Validation(fmt.Sprintf("target port %d out of range", t.Port))
	}
	return nil
}

// StopMode 关机方式
type StopMode string

const (
	StopSoft StopMode = "soft" // 优雅关机
	StopHard StopMode = "hard" // 强制断电
)

// ParseStopMode 大小写不敏感；空串视为 soft。
func ParseStopMode(s string) (StopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "soft":
		return StopSoft, nil
	case "hard":
		return StopHard, nil
	}
	return "", Validation(fmt.Sprintf("unknown stop mode %q (want soft|hard)", s))
}
