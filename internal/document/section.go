package document

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// UnknownSection 没有可识别章节标题时使用的标签
const UnknownSection = "Unknown Section"

// 标题行最大长度，超过的全大写行视为正文
const maxHeaderLen = 120

var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Z\s]{3,}$`),       // 全大写标题
	regexp.MustCompile(`^\d+\.\s+[A-Z]`),      // 1. Definitions
	regexp.MustCompile(`^(?i:article)\s+\d+`), // Article 5
	regexp.MustCompile(`^(?i:section)\s+\d+`), // Section 12
	regexp.MustCompile(`^#{1,6}\s+\S`),        // Markdown标题
}

// IsSectionHeader 判断一行文本是否是章节标题
func IsSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" || utf8.RuneCountInString(line) > maxHeaderLen {
		return false
	}
	// 全大写模式至少需要三个字母
	for i, p := range headerPatterns {
		if p.MatchString(line) {
			if i == 0 && countLetters(line) < 3 {
				continue
			}
			return true
		}
	}
	return false
}

// CleanHeader 去掉Markdown前缀等装饰
func CleanHeader(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "#")
	return strings.TrimSpace(line)
}

// LastHeaderIn 返回文本中最后一个章节标题，没有则返回空串
func LastHeaderIn(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if IsSectionHeader(lines[i]) {
			return CleanHeader(lines[i])
		}
	}
	return ""
}

// headerMark 标题在全文中的位置
type headerMark struct {
	offset int // 标题行起始的rune偏移
	text   string
}

// findHeaders 扫描全文中的所有标题行
func findHeaders(runes []rune) []headerMark {
	var marks []headerMark
	lineStart := 0
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}
		line := string(runes[lineStart:i])
		if IsSectionHeader(line) {
			marks = append(marks, headerMark{offset: lineStart, text: CleanHeader(line)})
		}
		lineStart = i + 1
	}
	return marks
}

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			n++
		}
	}
	return n
}
