package document

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/models"
)

// ErrUnsupportedType 不支持的文档类型
var ErrUnsupportedType = errors.New("unsupported document type")

// Parser 文档解析器接口
// 负责将不同格式的合同解析为按页划分的纯文本
type Parser interface {
	// Parse 解析文档，返回页面列表
	Parse(filePath string) ([]models.Page, error)

	// ParseReader 从Reader解析文档
	// filename用于确定文档类型
	ParseReader(r io.Reader, filename string) ([]models.Page, error)
}

// ContentType 表示文档的内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ParserFactory 解析器工厂函数，根据文件类型创建对应的解析器
func ParserFactory(filePath string) (Parser, error) {
	switch DetectContentType(filePath) {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	default:
		return nil, ErrUnsupportedType
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filePath string) ContentType {
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt", ".text":
		return PlainText
	default:
		return Unknown
	}
}

// LoadDocument 解析文件并构造待分析文档
// id为空时根据内容生成
func LoadDocument(filePath, id string) (models.Document, error) {
	parser, err := ParserFactory(filePath)
	if err != nil {
		return models.Document{}, err
	}
	pages, err := parser.Parse(filePath)
	if err != nil {
		return models.Document{}, err
	}
	if id == "" {
		id = models.DocumentIDFromPages(pages)
	}
	return models.Document{
		ID:    id,
		Name:  filepath.Base(filePath),
		Pages: pages,
	}, nil
}

// LoadReader 从Reader解析文档，filename决定文档类型
// id为空时根据内容生成
func LoadReader(r io.Reader, filename, id string) (models.Document, error) {
	parser, err := ParserFactory(filename)
	if err != nil {
		return models.Document{}, err
	}
	pages, err := parser.ParseReader(r, filename)
	if err != nil {
		return models.Document{}, err
	}
	if id == "" {
		id = models.DocumentIDFromPages(pages)
	}
	return models.Document{
		ID:    id,
		Name:  filepath.Base(filename),
		Pages: pages,
	}, nil
}

// readAllFile 读取整个文件
func readAllFile(filePath string) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
