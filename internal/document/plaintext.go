package document

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/models"
)

// 页面标记，例如 "--- Page 3 ---"
var pageMarkerPattern = regexp.MustCompile(`(?m)^-{3}\s*Page\s+(\d+)\s*-{3}[ \t]*$`)

// PlainTextParser 纯文本解析器
// 支持换页符和 "--- Page N ---" 两种分页方式
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// Parse 解析纯文本文件
func (p *PlainTextParser) Parse(filePath string) ([]models.Page, error) {
	content, err := readAllFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read text file: %v", err)
	}
	return SplitPages(string(content)), nil
}

// ParseReader 从Reader解析纯文本
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) ([]models.Page, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text content: %v", err)
	}
	return SplitPages(string(content)), nil
}

// SplitPages 将纯文本拆分为页面
func SplitPages(text string) []models.Page {
	if locs := pageMarkerPattern.FindAllStringSubmatchIndex(text, -1); len(locs) > 0 {
		var pages []models.Page
		// 第一个标记之前的内容归入第1页
		if head := strings.TrimSpace(text[:locs[0][0]]); head != "" {
			pages = append(pages, models.Page{Number: 1, Text: head})
		}
		for i, loc := range locs {
			num, _ := strconv.Atoi(text[loc[2]:loc[3]])
			end := len(text)
			if i+1 < len(locs) {
				end = locs[i+1][0]
			}
			if len(pages) > 0 && num <= pages[len(pages)-1].Number {
				num = pages[len(pages)-1].Number + 1
			}
			pages = append(pages, models.Page{Number: num, Text: text[loc[1]:end]})
		}
		return pages
	}

	parts := strings.Split(text, "\f")
	pages := make([]models.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, models.Page{Number: i + 1, Text: part})
	}
	return pages
}
