package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/cache"
	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/retriever"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// DefaultQATopK 问答检索的分块数
const DefaultQATopK = 3

// ErrEmptyQuestion 问题为空
var ErrEmptyQuestion = errors.New("question cannot be empty")

// Answer 合同问答结果
type Answer struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	llm.RAGResponse
	Cached bool `json:"cached"`
}

// QAService 合同问答服务
// 负责协调相似度检索和大模型生成答案
type QAService struct {
	retriever *retriever.Retriever
	repo      vectordb.Repository
	rag       *llm.RAGService
	cache     cache.Cache
	history   repository.QARepository
	cacheTTL  time.Duration
	topK      int
	logger    *logrus.Logger
}

// QAOption 问答服务配置选项
type QAOption func(*QAService)

// WithCacheTTL 设置缓存时间
func WithCacheTTL(ttl time.Duration) QAOption {
	return func(s *QAService) {
		s.cacheTTL = ttl
	}
}

// WithTopK 设置检索的分块数
func WithTopK(k int) QAOption {
	return func(s *QAService) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithQAHistory 设置问答记录仓储
func WithQAHistory(history repository.QARepository) QAOption {
	return func(s *QAService) {
		s.history = history
	}
}

// WithQALogger 设置日志记录器
func WithQALogger(logger *logrus.Logger) QAOption {
	return func(s *QAService) {
		s.logger = logger
	}
}

// NewQAService 创建问答服务实例
func NewQAService(
	rt *retriever.Retriever,
	repo vectordb.Repository,
	rag *llm.RAGService,
	c cache.Cache,
	opts ...QAOption,
) *QAService {
	s := &QAService{
		retriever: rt,
		repo:      repo,
		rag:       rag,
		cache:     c,
		cacheTTL:  24 * time.Hour,
		topK:      DefaultQATopK,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask 针对单个合同回答问题
// 缓存键包含索引指纹，合同重新入库后旧答案不再命中
func (s *QAService) Ask(ctx context.Context, docID, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	fingerprint, err := s.repo.Fingerprint(docID)
	if err != nil {
		return nil, models.NewPipelineError(models.IndexError, "read fingerprint", err)
	}
	if fingerprint == "" {
		return nil, fmt.Errorf("%w: %s", vectordb.ErrDocumentNotFound, docID)
	}

	logger := s.logger.WithField("document_id", docID)
	key := cache.HashKey("qa", docID, fingerprint, question)
	if cached, ok := s.fromCache(key); ok {
		logger.Debug("QA cache hit")
		return &Answer{DocumentID: docID, Question: question, RAGResponse: *cached, Cached: true}, nil
	}

	items, err := s.retriever.Similar(ctx, question, docID, s.topK)
	if err != nil {
		return nil, err
	}

	resp, err := s.rag.Answer(ctx, question, items)
	if err != nil {
		if llm.IsUnavailable(err) {
			return nil, models.NewPipelineError(models.ProviderUnavailable, "answer question", err)
		}
		return nil, err
	}

	if data, err := json.Marshal(resp); err == nil && s.cache != nil {
		if err := s.cache.Set(key, string(data), s.cacheTTL); err != nil {
			logger.WithError(err).Warn("Failed to cache answer")
		}
	}
	s.record(ctx, docID, question, resp)

	logger.WithFields(logrus.Fields{
		"sources":    len(resp.Sources),
		"confidence": resp.Confidence,
	}).Info("Question answered")
	return &Answer{DocumentID: docID, Question: question, RAGResponse: *resp}, nil
}

// History 返回合同最近的问答记录
func (s *QAService) History(ctx context.Context, docID string, limit int) ([]*models.QARecord, error) {
	if s.history == nil {
		return []*models.QARecord{}, nil
	}
	return s.history.WithContext(ctx).History(docID, limit)
}

// fromCache 读取缓存的回答，解析失败视为未命中
func (s *QAService) fromCache(key string) (*llm.RAGResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	value, found, err := s.cache.Get(key)
	if err != nil || !found {
		metrics.RecordCacheLookup("qa", false)
		return nil, false
	}
	var resp llm.RAGResponse
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		s.logger.WithError(err).Warn("Failed to unmarshal cached answer")
		metrics.RecordCacheLookup("qa", false)
		return nil, false
	}
	metrics.RecordCacheLookup("qa", true)
	return &resp, true
}

// record 保存问答记录，失败只记录日志
func (s *QAService) record(ctx context.Context, docID, question string, resp *llm.RAGResponse) {
	if s.history == nil {
		return
	}
	sources, err := json.Marshal(resp.Sources)
	if err != nil {
		sources = []byte("[]")
	}
	rec := &models.QARecord{
		ContractID: docID,
		Question:   question,
		Answer:     resp.Answer,
		Confidence: resp.Confidence,
		Sources:    datatypes.JSON(sources),
	}
	if err := s.history.WithContext(ctx).Create(rec); err != nil {
		s.logger.WithError(err).WithField("document_id", docID).Warn("Failed to save QA record")
	}
}
