package vectordb

import (
	"fmt"
	"sort"
	"sync"
)

// namespace 单个文档的记录快照
// 快照一经发布不再修改，写操作构造新快照后整体替换
type namespace struct {
	records     []Record // 按 chunk_index 升序
	fingerprint string
}

// MemoryRepository 内存向量仓库实现
// 用于开发和测试环境，每个文档一个命名空间
type MemoryRepository struct {
	mu         sync.RWMutex // 保护 namespaces 映射本身
	namespaces map[string]*namespace
	locks      *DocumentLocks
	dimension  int
}

// NewMemoryRepository 创建内存向量仓库
func NewMemoryRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}
	return &MemoryRepository{
		namespaces: make(map[string]*namespace),
		locks:      NewDocumentLocks(),
		dimension:  config.Dimension,
	}, nil
}

func (r *MemoryRepository) load(docID string) *namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespaces[docID]
}

func (r *MemoryRepository) swap(docID string, ns *namespace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns == nil {
		delete(r.namespaces, docID)
		return
	}
	r.namespaces[docID] = ns
}

// Upsert 增量写入文档记录
func (r *MemoryRepository) Upsert(docID string, records []Record, fingerprint string) error {
	prepared, err := PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(docID)
	defer unlock()

	var current []Record
	if ns := r.load(docID); ns != nil {
		current = ns.records
	}
	r.swap(docID, &namespace{
		records:     MergeRecords(current, prepared),
		fingerprint: fingerprint,
	})
	return nil
}

// Rebuild 重建文档记录
// 新快照在加锁前构造完成，持锁期间只做指针替换
func (r *MemoryRepository) Rebuild(docID string, records []Record, fingerprint string) error {
	prepared, err := PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	ns := &namespace{records: prepared, fingerprint: fingerprint}

	unlock := r.locks.Lock(docID)
	defer unlock()
	r.swap(docID, ns)
	return nil
}

// DeleteByDocument 删除文档的全部记录
func (r *MemoryRepository) DeleteByDocument(docID string) error {
	unlock := r.locks.Lock(docID)
	defer unlock()
	r.swap(docID, nil)
	return nil
}

// documentIDs 返回过滤条件涉及的文档，未指定时返回全部文档
func (r *MemoryRepository) documentIDs(filter SearchFilter) []string {
	if len(filter.DocumentIDs) > 0 {
		return filter.DocumentIDs
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.namespaces))
	for id := range r.namespaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Search 相似度搜索
func (r *MemoryRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	query := NormalizeVector(vector)

	ids := r.documentIDs(filter)
	unlock := r.locks.RLockAll(ids)
	defer unlock()

	var candidates []Record
	for _, id := range uniqueSorted(ids) {
		if ns := r.load(id); ns != nil {
			candidates = append(candidates, ns.records...)
		}
	}
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}
	return LimitResults(scoreRecords(query, candidates, filter.MinScore), filter), nil
}

// Get 获取单条记录
func (r *MemoryRepository) Get(docID string, chunkIndex int) (Record, error) {
	unlock := r.locks.RLockAll([]string{docID})
	defer unlock()

	ns := r.load(docID)
	if ns == nil {
		return Record{}, ErrRecordNotFound
	}
	i := sort.Search(len(ns.records), func(i int) bool { return ns.records[i].ChunkIndex >= chunkIndex })
	if i < len(ns.records) && ns.records[i].ChunkIndex == chunkIndex {
		return ns.records[i], nil
	}
	return Record{}, ErrRecordNotFound
}

// Count 获取记录总数
func (r *MemoryRepository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, ns := range r.namespaces {
		total += len(ns.records)
	}
	return total, nil
}

// CountByDocument 获取文档的记录数
func (r *MemoryRepository) CountByDocument(docID string) (int, error) {
	if ns := r.load(docID); ns != nil {
		return len(ns.records), nil
	}
	return 0, nil
}

// Fingerprint 返回文档指纹
func (r *MemoryRepository) Fingerprint(docID string) (string, error) {
	if ns := r.load(docID); ns != nil {
		return ns.fingerprint, nil
	}
	return "", nil
}

// GetDimension 返回向量维数
func (r *MemoryRepository) GetDimension() int {
	return r.dimension
}

// Close 对于内存实现这是一个空操作
func (r *MemoryRepository) Close() error {
	return nil
}

// 在包初始化时注册内存仓库
func init() {
	RegisterRepository("memory", NewMemoryRepository)
}
