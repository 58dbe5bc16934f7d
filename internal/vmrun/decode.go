package vmrun

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeOutput 将远端输出转为字符串：UTF-8(去 BOM) → 带 BOM 的 UTF-16 → GBK 回退。
// 中文 Windows 上 cmd/powershell 默认代码页为 936。
func DecodeOutput(b []byte) string {
	b = bytes.TrimPrefix(b, utf8BOM)
	if utf8.Valid(b) {
		return string(b)
	}
	if len(b) >= 2 && len(b)%2 == 0 {
		var (
			endian unicode.Endianness
			hasBOM = true
		)
		switch {
		case b[0] == 0xFF && b[1] == 0xFE:
			endian = unicode.LittleEndian
		case b[0] == 0xFE && b[1] == 0xFF:
			endian = unicode.BigEndian
		default:
			hasBOM = false
		}
		if hasBOM {
			if s, err := unicode.UTF16(endian, unicode.ExpectBOM).NewDecoder().Bytes(b); err == nil {
				return string(s)
			}
		}
	}
	s, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("�")))
	}
	return string(s)
}
