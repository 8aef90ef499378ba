package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Page 合同的一页文本
type Page struct {
	Number int    `json:"number"` // 页码，从1开始
	Text   string `json:"text"`   // 页面文本
}

// Document 待分析的合同文档
// 入库后不再修改，重新入库以相同ID整体替换
type Document struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Pages []Page `json:"pages"`
}

// DocumentIDFromPages 根据页面内容计算文档ID
func DocumentIDFromPages(pages []Page) string {
	h := sha256.New()
	for _, p := range pages {
		h.Write([]byte(strconv.Itoa(p.Number)))
		h.Write([]byte{0})
		h.Write([]byte(p.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Chunk 文档分块
// 偏移量是规范化后全文中的字符（rune）偏移
type Chunk struct {
	DocumentID    string `json:"document_id"`
	ChunkIndex    int    `json:"chunk_index"`
	Text          string `json:"text"`
	StartOffset   int    `json:"start_offset"`
	EndOffset     int    `json:"end_offset"`
	PageNumber    int    `json:"page_number"`
	SectionHeader string `json:"section_header,omitempty"`
	// Pages 分块覆盖的页面区间（相对分块文本的rune偏移）
	Pages []PageSpan `json:"pages,omitempty"`
}

// PageSpan 分块中属于某一页的区间
type PageSpan struct {
	Page  int `json:"page"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// PageAt 返回分块文本中某个rune偏移所在的页码
// 落在页间连接符中的偏移归入下一页
func (c Chunk) PageAt(offset int) int {
	for _, s := range c.Pages {
		if offset < s.End {
			return s.Page
		}
	}
	return c.PageNumber
}

// PageRange 返回分块覆盖的首页和末页
func (c Chunk) PageRange() (first, last int) {
	first, last = c.PageNumber, c.PageNumber
	for _, s := range c.Pages {
		first = min(first, s.Page)
		last = max(last, s.Page)
	}
	return first, last
}

// CoversPage 判断分块是否包含某页的内容
func (c Chunk) CoversPage(page int) bool {
	if page == c.PageNumber {
		return true
	}
	for _, s := range c.Pages {
		if s.Page == page {
			return true
		}
	}
	return false
}

// Key 返回分块在索引中的唯一键
func (c Chunk) Key() string {
	return ChunkKey(c.DocumentID, c.ChunkIndex)
}

// ChunkKey 由文档ID和分块序号构造唯一键
func ChunkKey(documentID string, chunkIndex int) string {
	return documentID + "#" + strconv.Itoa(chunkIndex)
}
