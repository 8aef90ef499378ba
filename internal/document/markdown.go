package document

import (
	"fmt"
	"html"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

var (
	headingOpenPattern  = regexp.MustCompile(`<h([1-6])[^>]*>`)
	headingClosePattern = regexp.MustCompile(`</h[1-6]>`)
	tagPattern          = regexp.MustCompile(`<[^>]+>`)
	blankLinesPattern   = regexp.MustCompile(`\n{3,}`)
	inlineSpacePattern  = regexp.MustCompile(`[ \t]+`)
)

// MarkdownParser Markdown文档解析器
// Markdown没有分页概念，整篇作为第1页
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// Parse 解析Markdown文件并提取文本内容
func (p *MarkdownParser) Parse(filePath string) ([]models.Page, error) {
	content, err := readAllFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open markdown file: %v", err)
	}
	return []models.Page{{Number: 1, Text: renderMarkdownText(content)}}, nil
}

// ParseReader 从Reader解析Markdown内容
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) ([]models.Page, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown content: %v", err)
	}
	return []models.Page{{Number: 1, Text: renderMarkdownText(content)}}, nil
}

// renderMarkdownText 将Markdown渲染为HTML后提取纯文本
// 标题保留为 "# 标题" 形式的独立行，供章节识别使用
func renderMarkdownText(content []byte) string {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	mdParser := parser.NewWithExtensions(extensions)
	doc := mdParser.Parse(content)

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	return extractTextFromHTML(string(markdown.Render(doc, renderer)))
}

// extractTextFromHTML 从HTML中提取纯文本
func extractTextFromHTML(s string) string {
	s = headingOpenPattern.ReplaceAllStringFunc(s, func(tag string) string {
		level, _ := strconv.Atoi(headingOpenPattern.FindStringSubmatch(tag)[1])
		return "\n\n" + strings.Repeat("#", level) + " "
	})
	s = headingClosePattern.ReplaceAllString(s, "\n\n")

	replacer := strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
		"</p>", "\n\n",
		"<li>", "- ",
		"</li>", "\n",
		"</ul>", "\n",
		"</ol>", "\n",
		"</pre>", "\n\n",
		"</blockquote>", "\n\n",
		"<hr>", "\n\n",
		"<hr/>", "\n\n",
		"<hr />", "\n\n",
	)
	s = replacer.Replace(s)
	s = tagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	return normalizeWhitespace(s)
}

// normalizeWhitespace 规范化文本中的空白符，保留段落结构
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(inlineSpacePattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
