package normalize

import "strings"

// NormalizeRootPath 生成 workspace 根路径的比较键。
//
// 反斜杠统一为斜杠并去掉末尾斜杠; 仅盘符 (X:/...) 与 UNC (//server/...)
// 形式整体转小写。其余空白与大小写原样保留。
func NormalizeRootPath(p string) string {
	if p == "" {
		return ""
	}
	s := strings.ReplaceAll(p, `\`, "/")
	trimmed := strings.TrimRight(s, "/")
	if trimmed == "" {
		return "/"
	}
	s = trimmed
	if isDrivePath(s) || strings.HasPrefix(s, "//") {
		s = strings.ToLower(s)
	}
	return s
}

// isDrivePath 匹配 ^[A-Za-z]:(/|$)。
func isDrivePath(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
		return false
	}
	return len(s) == 2 || s[2] == '/'
}

// SameRoot 判断两个根路径是否指向同一 workspace。
func SameRoot(a, b string) bool {
	return NormalizeRootPath(a) == NormalizeRootPath(b)
}
