package secret

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound 尚未保存私钥
var ErrNotFound = errors.New("secret: private key not stored")

// FileStore 把 SSH 私钥加密后保存在 <dir>/ssh/private_key (目录 0700，文件 0600)。
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(dataDir string) *FileStore {
	return &FileStore{path: filepath.Join(dataDir, "ssh", "private_key")}
}

// Path 私钥文件路径
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Exists() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fi, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Size() > 0, nil
}

// Save 原子替换已保存的私钥
func (s *FileStore) Save(keyPEM []byte) error {
	if len(keyPEM) == 0 {
		return errors.New("secret: empty key")
	}
	sealed, err := Protect(keyPEM)
	if err != nil {
		return fmt.Errorf("protect key: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".private_key-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// Load 读取并解密私钥；未保存时返回 ErrNotFound。
func (s *FileStore) Load() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(b) == 0) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	plain, err := Unprotect(b)
	if err != nil {
		return nil, fmt.Errorf("unprotect key: %w", err)
	}
	return plain, nil
}

// Delete 删除已保存的私钥，不存在时不报错。
func (s *FileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
