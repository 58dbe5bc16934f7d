// Package secret 本地私钥的静态保护与存放。
package secret

import (
	"bytes"
	"encoding/base64"
	"errors"
	"runtime"
)

// Prefix 标识经 DPAPI 保护的内容。
const Prefix = "dpapi:"

// ErrForeignPlatform 受保护内容只能在 Windows 上由同一用户解开。
var ErrForeignPlatform = errors.New("secret: key was protected with DPAPI and cannot be read on this platform")

// 附加熵，把保护结果绑定到本程序
var entropy = []byte("vmctl/ssh-private-key")

// Protect 在 Windows 上以当前用户的 DPAPI 保护 plain；其它平台原样返回，由文件权限保护。
func Protect(plain []byte) ([]byte, error) {
	if len(plain) == 0 || bytes.HasPrefix(plain, []byte(Prefix)) {
		return plain, nil
	}
	if runtime.GOOS != "windows" {
		return plain, nil
	}
	sealed, err := dpapiProtect(plain, entropy)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(Prefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	copy(out, Prefix)
	base64.StdEncoding.Encode(out[len(Prefix):], sealed)
	return out, nil
}

// Unprotect 还原 Protect 的结果；无前缀的内容视为明文。
func Unprotect(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(Prefix)) {
		return data, nil
	}
	enc := bytes.TrimSpace(data[len(Prefix):])
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(enc)))
	n, err := base64.StdEncoding.Decode(sealed, enc)
	if err != nil {
		return nil, err
	}
	if runtime.GOOS != "windows" {
		return nil, ErrForeignPlatform
	}
	return dpapiUnprotect(sealed[:n], entropy)
}
