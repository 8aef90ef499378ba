package document

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pdfcpu为每页生成一个内容文件，文件名以页码结尾
var contentPagePattern = regexp.MustCompile(`(\d+)\.txt$`)

// PDFParser PDF文档解析器
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

// Parse 解析PDF文件，每页生成一个Page
func (p *PDFParser) Parse(filePath string) ([]models.Page, error) {
	// 创建临时目录用于存放提取的内容
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(filePath, tmpDir, nil, conf); err != nil {
		return nil, fmt.Errorf("failed to extract text from PDF: %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted text dir: %v", err)
	}

	var pages []models.Page
	hasText := false
	for _, e := range entries {
		m := contentPagePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(filepath.Join(tmpDir, e.Name()))
		if err != nil {
			continue
		}
		text := textFromContentStream(data)
		if strings.TrimSpace(text) != "" {
			hasText = true
		}
		pages = append(pages, models.Page{Number: num, Text: text})
	}

	// 按页码排序
	sort.Slice(pages, func(i, j int) bool {
		return pages[i].Number < pages[j].Number
	})

	if !hasText {
		return nil, fmt.Errorf("no text content found in PDF")
	}
	return pages, nil
}

// ParseReader 从Reader解析PDF
// pdfcpu按文件工作，这里先落盘到临时文件
func (p *PDFParser) ParseReader(r io.Reader, filename string) ([]models.Page, error) {
	tmp, err := os.CreateTemp("", "contract-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to buffer PDF content: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to buffer PDF content: %v", err)
	}
	return p.Parse(tmp.Name())
}

// textFromContentStream 从页面内容流中提取文本操作符携带的字符串
// 处理 Tj、TJ、'、" 以及换行相关的定位操作符
func textFromContentStream(data []byte) string {
	var (
		out      strings.Builder
		operands []string
		inArray  bool
	)
	newline := func() {
		s := out.String()
		if len(s) > 0 && !strings.HasSuffix(s, "\n") {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(data); {
		c := data[i]
		switch {
		case c == '%':
			for i < len(data) && data[i] != '\n' && data[i] != '\r' {
				i++
			}
		case c == '(':
			s, next := readLiteralString(data, i)
			operands = append(operands, s)
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] == '<':
			i += 2
		case c == '>' && i+1 < len(data) && data[i+1] == '>':
			i += 2
		case c == '<':
			end := i + 1
			for end < len(data) && data[end] != '>' {
				end++
			}
			operands = append(operands, decodeHexString(data[i+1:end]))
			i = end + 1
		case c == '[':
			inArray = true
			i++
		case c == ']':
			inArray = false
			i++
		case isPDFDelimiter(c) || isPDFSpace(c):
			i++
		default:
			start := i
			for i < len(data) && !isPDFSpace(data[i]) && !isPDFDelimiter(data[i]) {
				i++
			}
			token := string(data[start:i])
			if inArray {
				// 数组中较大的负字距通常表示单词间隔
				if v, err := strconv.ParseFloat(token, 64); err == nil && v < -200 {
					operands = append(operands, " ")
				}
				continue
			}
			if _, err := strconv.ParseFloat(token, 64); err == nil {
				continue
			}
			switch token {
			case "Tj", "TJ":
				out.WriteString(strings.Join(operands, ""))
			case "'", "\"":
				newline()
				out.WriteString(strings.Join(operands, ""))
			case "Td", "TD", "T*", "Tm", "ET":
				newline()
			}
			operands = operands[:0]
		}
	}
	return out.String()
}

// readLiteralString 读取 (...) 字面字符串，处理嵌套括号和转义
func readLiteralString(data []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(data) {
		c := data[i]
		switch c {
		case '\\':
			if i+1 >= len(data) {
				return sb.String(), len(data)
			}
			i++
			switch e := data[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
			default:
				if e >= '0' && e <= '7' {
					end := i
					for end < len(data) && end < i+3 && data[end] >= '0' && data[end] <= '7' {
						end++
					}
					v, _ := strconv.ParseUint(string(data[i:end]), 8, 8)
					sb.WriteByte(byte(v))
					i = end
					continue
				}
				sb.WriteByte(e)
			}
		case '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
		i++
	}
	return sb.String(), i
}

func decodeHexString(b []byte) string {
	clean := make([]byte, 0, len(b))
	for _, c := range b {
		if !isPDFSpace(c) {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out, err := hex.DecodeString(string(clean))
	if err != nil {
		return ""
	}
	return string(out)
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}
