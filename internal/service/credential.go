package service

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	gssh "golang.org/x/crypto/ssh"

	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/domain"
	"github.com/QingMing-Bot/vmrun-ssh-manager/internal/ssh"
	"github.com/QingMing-Bot/vmrun-ssh-manager/pkg/secret"
)

// DefaultMaxKeyBytes 私钥文本大小上限
const DefaultMaxKeyBytes = 256 << 10

// KeyStore 本地私钥存储。*secret.FileStore 满足。
type KeyStore interface {
	Exists() (bool, error)
	Save(keyPEM []byte) error
	Load() ([]byte, error)
	Delete() error
}

// CredentialManager 管理本地 SSH 私钥，不接触远端。错误信息不包含密钥内容。
type CredentialManager struct {
	store    KeyStore
	maxBytes int
	log      *zap.Logger
}

func NewCredentialManager(store KeyStore, maxBytes int, log *zap.Logger) *CredentialManager {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxKeyBytes
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialManager{store: store, maxBytes: maxBytes, log: log}
}

// Status 是否已保存私钥
func (m *CredentialManager) Status() (bool, error) { return m.store.Exists() }

// Set 校验并保存私钥，替换旧值。
func (m *CredentialManager) Set(keyText string) error {
	if strings.TrimSpace(keyText) == "" {
		return domain.Validation("private key is empty")
	}
	if len(keyText) > m.maxBytes {
		return domain.Validation(fmt.Sprintf("private key too large (%d > %d bytes)", len(keyText), m.maxBytes))
	}
	pem := []byte(strings.TrimSpace(keyText) + "\n")
	if _, err := gssh.ParsePrivateKey(pem); err != nil {
		var missing *gssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return domain.Validation("passphrase-protected private keys are not supported")
		}
		return domain.Validation("private key is not a valid PEM/OpenSSH key")
	}
	if err := m.store.Save(pem); err != nil {
		return fmt.Errorf("store private key: %w", err)
	}
	m.log.Info("ssh private key updated")
	return nil
}

// Clear 删除私钥，已不存在时同样成功。
func (m *CredentialManager) Clear() error {
	if err := m.store.Delete(); err != nil {
		return fmt.Errorf("clear private key: %w", err)
	}
	m.log.Info("ssh private key cleared")
	return nil
}

// Loader 供传输层在建连时读取私钥，未保存映射为 ssh.ErrKeyNotConfigured。
func (m *CredentialManager) Loader() ssh.KeyLoader {
	return func() ([]byte, error) {
		b, err := m.store.Load()
		if errors.Is(err, secret.ErrNotFound) {
			return nil, ssh.ErrKeyNotConfigured
		}
		return b, err
	}
}
