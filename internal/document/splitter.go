package document

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/fyerfyer/contract-auditor/internal/models"
)

// ErrEmptyDocument 文档没有可分块的文本
var ErrEmptyDocument = errors.New("document has no text content")

// 页面之间的连接符
const pageJoiner = "\n\n"

// SplitterConfig 分块器配置
type SplitterConfig struct {
	ChunkSize    int      // 分块大小（按字符数）
	ChunkOverlap int      // 相邻分块的重叠字符数
	Separators   []string // 分隔符优先级，空串表示按字符硬切
	MaxChunks    int      // 最大分块数量（0表示不限制）
}

// DefaultSplitterConfig 返回默认分块器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separators:   []string{"\n\n", "\n", ". ", " ", ""},
		MaxChunks:    0,
	}
}

// Validate 校验配置
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.ChunkSize, c.ChunkOverlap)
	}
	return nil
}

// Signature 配置签名，参与索引指纹计算
func (c SplitterConfig) Signature() string {
	return fmt.Sprintf("size=%d;overlap=%d;seps=%q;max=%d", c.ChunkSize, c.ChunkOverlap, c.Separators, c.MaxChunks)
}

// Splitter 分块器接口
type Splitter interface {
	// Chunk 将文档切分为带元数据的分块
	Chunk(doc models.Document) ([]models.Chunk, error)
}

// TextSplitter 按分隔符层级切分文本的分块器
//
// 每个分块在窗口内优先选择段落边界，其次是换行、句子、单词，
// 都找不到时按字符数硬切。下一个分块从上一个分块结束位置
// 回退 ChunkOverlap 个字符开始，因此相邻分块的重叠部分完全相同。
type TextSplitter struct {
	config SplitterConfig
	seps   [][]rune
}

// NewTextSplitter 创建新的文本分块器
func NewTextSplitter(config SplitterConfig) *TextSplitter {
	if len(config.Separators) == 0 {
		config.Separators = DefaultSplitterConfig().Separators
	}
	seps := make([][]rune, 0, len(config.Separators))
	for _, s := range config.Separators {
		seps = append(seps, []rune(s))
	}
	return &TextSplitter{config: config, seps: seps}
}

// Config 返回分块器配置
func (s *TextSplitter) Config() SplitterConfig {
	return s.config
}

// pageRange 页面在全文中的区间
type pageRange struct {
	page       int
	start, end int
}

// Chunk 将文档切分为分块
func (s *TextSplitter) Chunk(doc models.Document) ([]models.Chunk, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	runes, pages := normalizePages(doc.Pages)
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}
	headers := findHeaders(runes)

	bounds := s.boundaries(runes)
	chunks := make([]models.Chunk, 0, len(bounds))
	for i, b := range bounds {
		anchor := firstNonSpace(runes, b[0], b[1])
		chunks = append(chunks, models.Chunk{
			DocumentID:    doc.ID,
			ChunkIndex:    i,
			Text:          string(runes[b[0]:b[1]]),
			StartOffset:   b[0],
			EndOffset:     b[1],
			PageNumber:    pageOf(pages, anchor),
			SectionHeader: headerBefore(headers, anchor),
			Pages:         pageSpans(pages, b[0], b[1]),
		})
	}
	return chunks, nil
}

// boundaries 计算所有分块的 [start, end) 区间
func (s *TextSplitter) boundaries(runes []rune) [][2]int {
	size, overlap := s.config.ChunkSize, s.config.ChunkOverlap
	n := len(runes)

	var out [][2]int
	start := 0
	for {
		if n-start <= size {
			out = append(out, [2]int{start, n})
			break
		}
		end := s.cutPoint(runes, start)
		out = append(out, [2]int{start, end})
		if s.config.MaxChunks > 0 && len(out) >= s.config.MaxChunks {
			break
		}
		start = end - overlap
	}
	return out
}

// cutPoint 在窗口 [start+overlap+1, start+size] 中寻找切分点
// 按分隔符优先级从窗口末尾向前查找，保证每次至少前进一个字符
func (s *TextSplitter) cutPoint(runes []rune, start int) int {
	lo := start + s.config.ChunkOverlap + 1
	hi := start + s.config.ChunkSize

	for _, sep := range s.seps {
		if len(sep) == 0 {
			return hi
		}
		for p := hi; p >= lo; p-- {
			if p-len(sep) >= start && endsWith(runes[:p], sep) {
				return p
			}
		}
	}
	return hi
}

// NormalizeText 规范化单页文本
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n':
			return r
		case r == '\t' || r == ' ':
			return ' '
		case unicode.IsControl(r), r == '\uFEFF':
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// normalizePages 规范化各页文本并拼接为全文，记录每页的区间
func normalizePages(pages []models.Page) ([]rune, []pageRange) {
	var (
		runes  []rune
		ranges []pageRange
		joiner = []rune(pageJoiner)
	)
	for i, p := range pages {
		text := []rune(NormalizeText(p.Text))
		if len(text) == 0 {
			continue
		}
		num := p.Number
		if num <= 0 {
			num = i + 1
		}
		if len(runes) > 0 {
			runes = append(runes, joiner...)
		}
		ranges = append(ranges, pageRange{page: num, start: len(runes), end: len(runes) + len(text)})
		runes = append(runes, text...)
	}
	return runes, ranges
}

// pageOf 返回偏移所在的页码，落在页间连接符中的偏移归入下一页
func pageOf(pages []pageRange, offset int) int {
	for _, p := range pages {
		if offset < p.end {
			return p.page
		}
	}
	return pages[len(pages)-1].page
}

// pageSpans 计算分块覆盖的页面区间
func pageSpans(pages []pageRange, start, end int) []models.PageSpan {
	var spans []models.PageSpan
	for _, p := range pages {
		s, e := max(p.start, start), min(p.end, end)
		if s >= e {
			continue
		}
		spans = append(spans, models.PageSpan{Page: p.page, Start: s - start, End: e - start})
	}
	return spans
}

// headerBefore 返回偏移之前最近的章节标题
func headerBefore(headers []headerMark, offset int) string {
	i := sort.Search(len(headers), func(i int) bool {
		return headers[i].offset > offset
	})
	if i == 0 {
		return ""
	}
	return headers[i-1].text
}

func firstNonSpace(runes []rune, start, end int) int {
	for i := start; i < end; i++ {
		if !unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return start
}

func endsWith(runes, suffix []rune) bool {
	if len(suffix) > len(runes) {
		return false
	}
	off := len(runes) - len(suffix)
	for i, r := range suffix {
		if runes[off+i] != r {
			return false
		}
	}
	return true
}
