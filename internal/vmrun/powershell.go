package vmrun

import (
	"encoding/base64"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const psPrefix = "powershell -NoProfile -NonInteractive -ExecutionPolicy Bypass"

// InlineCommand 以 -Command "..." 形式包装脚本，脚本内双引号按 cmd 规则转义。
func InlineCommand(script string) string {
	return psPrefix + ` -Command "` + strings.ReplaceAll(script, `"`, `"""`) + `"`
}

// EncodedCommand 以 -EncodedCommand 包装多行脚本 (UTF-16LE + base64)，
// 避免远端 shell 对引号和换行的二次解释。
func EncodedCommand(script string) string {
	enc := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	utf16le, err := enc.String(strings.TrimSpace(script))
	if err != nil {
		// 无效 UTF-8 会被替换字符取代，不会走到这里
		utf16le = ""
	}
	return psPrefix + " -EncodedCommand " + base64.StdEncoding.EncodeToString([]byte(utf16le))
}

// psQuote 单引号字符串内的转义
func psQuote(s string) string { return strings.ReplaceAll(s, "'", "''") }
