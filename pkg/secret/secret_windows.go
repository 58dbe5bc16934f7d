//go:build windows

package secret

import (
	"syscall"
	"unsafe"
)

var (
	crypt32            = syscall.NewLazyDLL("crypt32.dll")
	procCryptProtect   = crypt32.NewProc("CryptProtectData")
	procCryptUnprotect = crypt32.NewProc("CryptUnprotectData")
	kernel32           = syscall.NewLazyDLL("kernel32.dll")
	procLocalFree      = kernel32.NewProc("LocalFree")
)

// CRYPTPROTECT_UI_FORBIDDEN
const protectNoUI = 0x1

type dataBlob struct {
	cbData uint32
	pbData *byte
}

func blobOf(d []byte) *dataBlob {
	if len(d) == 0 {
		return &dataBlob{}
	}
	return &dataBlob{cbData: uint32(len(d)), pbData: &d[0]}
}

// takeBlob 复制 DPAPI 分配的输出并释放原内存
func takeBlob(b *dataBlob) []byte {
	if b.pbData == nil {
		return []byte{}
	}
	defer procLocalFree.Call(uintptr(unsafe.Pointer(b.pbData)))
	return append([]byte(nil), unsafe.Slice(b.pbData, b.cbData)...)
}

func dpapiCall(proc *syscall.LazyProc, data, extra []byte) ([]byte, error) {
	var out dataBlob
	r, _, err := proc.Call(
		uintptr(unsafe.Pointer(blobOf(data))),
		0,
		uintptr(unsafe.Pointer(blobOf(extra))),
		0, 0,
		protectNoUI,
		uintptr(unsafe.Pointer(&out)),
	)
	if r == 0 {
		return nil, err
	}
	return takeBlob(&out), nil
}

func dpapiProtect(data, extra []byte) ([]byte, error) {
	return dpapiCall(procCryptProtect, data, extra)
}

func dpapiUnprotect(data, extra []byte) ([]byte, error) {
	return dpapiCall(procCryptUnprotect, data, extra)
}
