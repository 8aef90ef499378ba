package vectordb

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
)

// DocumentLocks 文档级读写锁表
// 锁按需创建，查询持有所涉及文档的读锁，写入持有写锁
type DocumentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewDocumentLocks 创建锁表
func NewDocumentLocks() *DocumentLocks {
	return &DocumentLocks{locks: make(map[string]*sync.RWMutex)}
}

// get 返回文档对应的锁，不存在时创建
func (l *DocumentLocks) get(docID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[docID]
	if !ok {
		lock = &sync.RWMutex{}
		l.locks[docID] = lock
	}
	return lock
}

// Lock 获取文档写锁，返回解锁函数
func (l *DocumentLocks) Lock(docID string) func() {
	lock := l.get(docID)
	lock.Lock()
	return lock.Unlock
}

// RLockAll 按字典序获取多个文档的读锁，固定顺序避免与写锁交错时死锁
func (l *DocumentLocks) RLockAll(docIDs []string) func() {
	ids := uniqueSorted(docIDs)
	held := make([]*sync.RWMutex, 0, len(ids))
	for _, id := range ids {
		lock := l.get(id)
		lock.RLock()
		held = append(held, lock)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].RUnlock()
		}
	}
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CosineSimilarity 计算两个向量的余弦相似度
func CosineSimilarity(v1, v2 []float32) float32 {
	if len(v1) != len(v2) {
		return 0
	}
	norm1 := vectorNorm(v1)
	norm2 := vectorNorm(v2)
	if norm1 == 0 || norm2 == 0 {
		return 0
	}
	sim := dotProduct(v1, v2) / (norm1 * norm2)
	// 处理浮点精度问题
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// dotProduct 计算两个向量的点积
func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

// vectorNorm 计算向量的L2范数
func vectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// NormalizeVector 归一化向量（使其长度为1）
func NormalizeVector(v []float32) []float32 {
	norm := vectorNorm(v)
	result := make([]float32, len(v))
	if norm == 0 {
		copy(result, v)
		return result
	}
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// ValidateVector 验证向量维度和有效性
func ValidateVector(vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, expectedDim, len(vector))
	}
	return nil
}

// PrepareRecords 校验记录并归一化向量
// 同一批次中重复的 chunk_index 以最后一条为准，返回结果按 chunk_index 升序
func PrepareRecords(docID string, records []Record, dim int) ([]Record, error) {
	if docID == "" {
		return nil, ErrInvalidDocumentID
	}
	byIndex := make(map[int]Record, len(records))
	for _, rec := range records {
		if rec.DocumentID != docID {
			return nil, fmt.Errorf("%w: %s != %s", ErrMixedDocuments, rec.DocumentID, docID)
		}
		if err := ValidateVector(rec.Vector, dim); err != nil {
			return nil, fmt.Errorf("invalid vector for %s: %w", rec.Key(), err)
		}
		rec.Vector = NormalizeVector(rec.Vector)
		byIndex[rec.ChunkIndex] = rec
	}
	return sortedRecords(byIndex), nil
}

// MergeRecords 以 chunk_index 为键将 updates 合并进 current
func MergeRecords(current, updates []Record) []Record {
	byIndex := make(map[int]Record, len(current)+len(updates))
	for _, rec := range current {
		byIndex[rec.ChunkIndex] = rec
	}
	for _, rec := range updates {
		byIndex[rec.ChunkIndex] = rec
	}
	return sortedRecords(byIndex)
}

func sortedRecords(byIndex map[int]Record) []Record {
	out := make([]Record, 0, len(byIndex))
	for _, rec := range byIndex {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out
}

// SortSearchResults 对搜索结果排序
// 相似度降序，相同时按 document_id、chunk_index 升序，保证结果稳定
func SortSearchResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.DocumentID != b.Record.DocumentID {
			return a.Record.DocumentID < b.Record.DocumentID
		}
		return a.Record.ChunkIndex < b.Record.ChunkIndex
	})
}

// LimitResults 排序后截取前 n 条
func LimitResults(results []SearchResult, filter SearchFilter) []SearchResult {
	SortSearchResults(results)
	n := filter.MaxResults
	if n <= 0 {
		n = DefaultMaxResults
	}
	if len(results) > n {
		results = results[:n]
	}
	return results
}

// scoreRecords 计算查询向量与每条记录的相似度，过滤低于 MinScore 的结果
// 记录较多时按CPU核数并行计算
func scoreRecords(query []float32, records []Record, minScore float32) []SearchResult {
	if len(records) == 0 {
		return nil
	}
	threads := runtime.NumCPU() * 4 / 5
	if threads < 1 {
		threads = 1
	}
	if len(records) < 256 || threads == 1 {
		return scoreRange(query, records, minScore)
	}

	per := (len(records) + threads - 1) / threads
	parts := make([][]SearchResult, threads)
	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		start, end := i*per, (i+1)*per
		if end > len(records) {
			end = len(records)
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(i, start, end int) {
			defer wg.Done()
			parts[i] = scoreRange(query, records[start:end], minScore)
		}(i, start, end)
	}
	wg.Wait()

	var out []SearchResult
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func scoreRange(query []float32, records []Record, minScore float32) []SearchResult {
	out := make([]SearchResult, 0, len(records))
	for _, rec := range records {
		score := CosineSimilarity(query, rec.Vector)
		if score < minScore {
			continue
		}
		out = append(out, SearchResult{Record: rec, Score: score})
	}
	return out
}
