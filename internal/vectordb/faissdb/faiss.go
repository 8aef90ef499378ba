//go:build faiss

// Package faissdb 基于Faiss的向量仓库
// 依赖cgo和本地安装的faiss库，通过空白导入注册为 "faiss" 类型
package faissdb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/DataIntelligenceCrew/go-faiss"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
)

const (
	indexSuffix = ".faiss"
	metaSuffix  = ".meta.json"
)

// namespace 单个文档的Faiss索引及其记录
// records[i] 对应索引中的第 i 个向量
type namespace struct {
	index       faiss.Index
	records     []vectordb.Record
	fingerprint string
}

// namespaceMeta 持久化到磁盘的文档元数据
type namespaceMeta struct {
	DocumentID  string            `json:"document_id"`
	Fingerprint string            `json:"fingerprint"`
	Records     []vectordb.Record `json:"records"`
}

// Repository Faiss向量仓库，每个文档一个内积索引
type Repository struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	locks      *vectordb.DocumentLocks
	dimension  int
	dir        string // 为空时不落盘
}

// New 创建Faiss向量仓库，目录中已有的索引会被加载
func New(config vectordb.Config) (vectordb.Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	repo := &Repository{
		namespaces: make(map[string]*namespace),
		locks:      vectordb.NewDocumentLocks(),
		dimension:  config.Dimension,
	}
	if config.Path == "" || config.InMemory {
		return repo, nil
	}

	repo.dir = config.Path
	if _, err := os.Stat(repo.dir); os.IsNotExist(err) {
		if !config.CreateIfNotExists {
			return nil, fmt.Errorf("index directory does not exist: %s", repo.dir)
		}
		if err := os.MkdirAll(repo.dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %v", err)
		}
		return repo, nil
	}
	if err := repo.loadAll(); err != nil {
		return nil, err
	}
	return repo, nil
}

// newIndex 用已归一化的记录构造内积索引
func (r *Repository) newIndex(records []vectordb.Record) (faiss.Index, error) {
	index, err := faiss.NewIndexFlat(r.dimension, faiss.MetricInnerProduct)
	if err != nil {
		return nil, fmt.Errorf("failed to create Faiss index: %v", err)
	}
	if len(records) == 0 {
		return index, nil
	}
	flat := make([]float32, 0, len(records)*r.dimension)
	for _, rec := range records {
		flat = append(flat, rec.Vector...)
	}
	if err := index.Add(flat); err != nil {
		index.Delete()
		return nil, fmt.Errorf("failed to add vectors to index: %v", err)
	}
	return index, nil
}

func (r *Repository) load(docID string) *namespace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namespaces[docID]
}

// swap 替换文档命名空间并释放旧索引，调用方须持有文档写锁
func (r *Repository) swap(docID string, ns *namespace) {
	r.mu.Lock()
	old := r.namespaces[docID]
	if ns == nil {
		delete(r.namespaces, docID)
	} else {
		r.namespaces[docID] = ns
	}
	r.mu.Unlock()

	if old != nil && old.index != nil {
		old.index.Delete()
	}
}

// Upsert 合并记录后重建该文档的索引
func (r *Repository) Upsert(docID string, records []vectordb.Record, fingerprint string) error {
	prepared, err := vectordb.PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	unlock := r.locks.Lock(docID)
	defer unlock()

	var current []vectordb.Record
	if ns := r.load(docID); ns != nil {
		current = ns.records
	}
	return r.install(docID, vectordb.MergeRecords(current, prepared), fingerprint)
}

// Rebuild 新索引在旧索引之外构造，完成后整体替换
func (r *Repository) Rebuild(docID string, records []vectordb.Record, fingerprint string) error {
	prepared, err := vectordb.PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	index, err := r.newIndex(prepared)
	if err != nil {
		return err
	}
	ns := &namespace{index: index, records: prepared, fingerprint: fingerprint}

	unlock := r.locks.Lock(docID)
	defer unlock()
	if err := r.persist(docID, ns); err != nil {
		index.Delete()
		return err
	}
	r.swap(docID, ns)
	return nil
}

func (r *Repository) install(docID string, records []vectordb.Record, fingerprint string) error {
	index, err := r.newIndex(records)
	if err != nil {
		return err
	}
	ns := &namespace{index: index, records: records, fingerprint: fingerprint}
	if err := r.persist(docID, ns); err != nil {
		index.Delete()
		return err
	}
	r.swap(docID, ns)
	return nil
}

// DeleteByDocument 删除文档索引及其磁盘文件
func (r *Repository) DeleteByDocument(docID string) error {
	unlock := r.locks.Lock(docID)
	defer unlock()
	r.swap(docID, nil)
	if r.dir == "" {
		return nil
	}
	for _, p := range []string{r.indexPath(docID), r.metaPath(docID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %v", p, err)
		}
	}
	return nil
}

// Search 在涉及的每个文档索引上做全量内积搜索后合并排序
func (r *Repository) Search(vector []float32, filter vectordb.SearchFilter) ([]vectordb.SearchResult, error) {
	if err := vectordb.ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	query := vectordb.NormalizeVector(vector)

	ids := filter.DocumentIDs
	if len(ids) == 0 {
		r.mu.RLock()
		for id := range r.namespaces {
			ids = append(ids, id)
		}
		r.mu.RUnlock()
		sort.Strings(ids)
	}
	unlock := r.locks.RLockAll(ids)
	defer unlock()

	var results []vectordb.SearchResult
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ns := r.load(id)
		if ns == nil || len(ns.records) == 0 {
			continue
		}
		distances, labels, err := ns.index.Search(query, int64(len(ns.records)))
		if err != nil {
			return nil, fmt.Errorf("failed to search index: %v", err)
		}
		for i, label := range labels {
			if label < 0 || int(label) >= len(ns.records) {
				continue
			}
			if distances[i] < filter.MinScore {
				continue
			}
			results = append(results, vectordb.SearchResult{
				Record: ns.records[label],
				Score:  distances[i],
			})
		}
	}
	if len(results) == 0 {
		return []vectordb.SearchResult{}, nil
	}
	return vectordb.LimitResults(results, filter), nil
}

// Get 获取单条记录
func (r *Repository) Get(docID string, chunkIndex int) (vectordb.Record, error) {
	unlock := r.locks.RLockAll([]string{docID})
	defer unlock()

	ns := r.load(docID)
	if ns == nil {
		return vectordb.Record{}, vectordb.ErrRecordNotFound
	}
	for _, rec := range ns.records {
		if rec.ChunkIndex == chunkIndex {
			return rec, nil
		}
	}
	return vectordb.Record{}, vectordb.ErrRecordNotFound
}

// Count 获取记录总数
func (r *Repository) Count() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, ns := range r.namespaces {
		total += len(ns.records)
	}
	return total, nil
}

// CountByDocument 获取文档的记录数
func (r *Repository) CountByDocument(docID string) (int, error) {
	if ns := r.load(docID); ns != nil {
		return len(ns.records), nil
	}
	return 0, nil
}

// Fingerprint 返回文档指纹
func (r *Repository) Fingerprint(docID string) (string, error) {
	if ns := r.load(docID); ns != nil {
		return ns.fingerprint, nil
	}
	return "", nil
}

// GetDimension 返回向量维数
func (r *Repository) GetDimension() int {
	return r.dimension
}

// Close 释放所有索引
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ns := range r.namespaces {
		if ns.index != nil {
			ns.index.Delete()
		}
		delete(r.namespaces, id)
	}
	return nil
}

func (r *Repository) indexPath(docID string) string {
	return filepath.Join(r.dir, docID+indexSuffix)
}

func (r *Repository) metaPath(docID string) string {
	return filepath.Join(r.dir, docID+metaSuffix)
}

// persist 写入索引文件和元数据，先写临时文件再改名
func (r *Repository) persist(docID string, ns *namespace) error {
	if r.dir == "" {
		return nil
	}
	tmpIndex := r.indexPath(docID) + ".tmp"
	if err := faiss.WriteIndex(ns.index, tmpIndex); err != nil {
		return fmt.Errorf("failed to write index to file: %v", err)
	}

	data, err := json.Marshal(namespaceMeta{
		DocumentID:  docID,
		Fingerprint: ns.fingerprint,
		Records:     ns.records,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %v", err)
	}
	tmpMeta := r.metaPath(docID) + ".tmp"
	if err := os.WriteFile(tmpMeta, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %v", err)
	}

	if err := os.Rename(tmpIndex, r.indexPath(docID)); err != nil {
		return fmt.Errorf("failed to replace index file: %v", err)
	}
	if err := os.Rename(tmpMeta, r.metaPath(docID)); err != nil {
		return fmt.Errorf("failed to replace metadata file: %v", err)
	}
	return nil
}

// loadAll 加载目录中所有文档的索引
func (r *Repository) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read index directory: %v", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		docID := strings.TrimSuffix(name, metaSuffix)
		if err := r.loadDocument(docID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) loadDocument(docID string) error {
	data, err := os.ReadFile(r.metaPath(docID))
	if err != nil {
		return fmt.Errorf("failed to read metadata file: %v", err)
	}
	var meta namespaceMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %v", err)
	}

	index, err := faiss.ReadIndex(r.indexPath(docID), 0)
	if err != nil {
		// 索引文件缺失或损坏时由元数据中的向量重建
		rebuilt, buildErr := r.newIndex(meta.Records)
		if buildErr != nil {
			return fmt.Errorf("failed to read index file: %v", err)
		}
		r.namespaces[docID] = &namespace{index: rebuilt, records: meta.Records, fingerprint: meta.Fingerprint}
		return nil
	}
	if int(index.Ntotal()) != len(meta.Records) {
		index.Delete()
		return fmt.Errorf("index %s has %d vectors but metadata has %d records", docID, index.Ntotal(), len(meta.Records))
	}
	r.namespaces[docID] = &namespace{index: index, records: meta.Records, fingerprint: meta.Fingerprint}
	return nil
}

func init() {
	vectordb.RegisterRepository("faiss", New)
}
