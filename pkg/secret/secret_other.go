//go:build !windows

package secret

func dpapiProtect(_, _ []byte) ([]byte, error) { return nil, ErrForeignPlatform }

func dpapiUnprotect(_, _ []byte) ([]byte, error) { return nil, ErrForeignPlatform }
