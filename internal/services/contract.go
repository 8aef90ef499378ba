package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/analyzer"
	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/retriever"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/fyerfyer/contract-auditor/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// 默认编排参数
const (
	DefaultConcurrency = 3
	DefaultTimeout     = 10 * time.Minute
)

// 索引写入方式
const (
	IndexModeRebuild = "rebuild"
	IndexModeUpsert  = "upsert"
	IndexModeSkip    = "skip"
)

var (
	// ErrClauseTimeout 运行超时时尚未完成的条款
	ErrClauseTimeout = errors.New("clause analysis timed out")
	// ErrRunAborted 运行因致命错误中止时尚未完成的条款
	ErrRunAborted = errors.New("run aborted before clause finished")
)

// RunOptions 单次运行选项
type RunOptions struct {
	Rebuild bool // 强制重建索引
	Redline bool // 高风险条款生成修订建议
}

// IngestResult 入库结果
type IngestResult struct {
	DocumentID  string `json:"document_id"`
	Pages       int    `json:"pages"`
	Chunks      int    `json:"chunks"`
	Fingerprint string `json:"fingerprint"`
	Mode        string `json:"mode"` // rebuild / upsert / skip
}

// ContractOption 合同服务配置选项
type ContractOption func(*ContractService)

// WithContractRepository 设置合同仓储，报告和入库状态写入数据库
func WithContractRepository(repo repository.ContractRepository) ContractOption {
	return func(s *ContractService) {
		s.contracts = repo
	}
}

// WithReportStorage 设置报告导出存储
func WithReportStorage(st storage.Storage) ContractOption {
	return func(s *ContractService) {
		s.storage = st
	}
}

// WithConcurrency 设置并行分析的条款数
func WithConcurrency(n int) ContractOption {
	return func(s *ContractService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithTimeout 设置单次分析的超时时间
func WithTimeout(d time.Duration) ContractOption {
	return func(s *ContractService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClauseQueries 设置要分析的条款查询
func WithClauseQueries(queries []models.ClauseQuery) ContractOption {
	return func(s *ContractService) {
		if len(queries) > 0 {
			s.queries = queries
		}
	}
}

// WithContractLogger 设置日志记录器
func WithContractLogger(logger *logrus.Logger) ContractOption {
	return func(s *ContractService) {
		s.logger = logger
	}
}

// ContractService 合同分析编排服务
// 负责 分块 → 索引 → 按条款检索 → 有依据的分析 → 汇总报告
type ContractService struct {
	splitter    document.Splitter
	indexer     *vectordb.Indexer
	retriever   *retriever.Retriever
	analyzer    *analyzer.Analyzer
	contracts   repository.ContractRepository
	storage     storage.Storage
	queries     []models.ClauseQuery
	concurrency int
	timeout     time.Duration
	logger      *logrus.Logger
}

// NewContractService 创建合同分析服务
func NewContractService(
	splitter document.Splitter,
	indexer *vectordb.Indexer,
	rt *retriever.Retriever,
	an *analyzer.Analyzer,
	opts ...ContractOption,
) *ContractService {
	s := &ContractService{
		splitter:    splitter,
		indexer:     indexer,
		retriever:   rt,
		analyzer:    an,
		queries:     models.DefaultClauseQueries(),
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		logger:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Queries 返回当前分析的条款查询
func (s *ContractService) Queries() []models.ClauseQuery {
	return s.queries
}

// Run 入库并分析文档
// 遇到致命错误时返回已完成条款组成的部分报告和该错误
func (s *ContractService) Run(ctx context.Context, doc models.Document, opts RunOptions) (*models.Report, error) {
	ingest, err := s.Ingest(ctx, doc, opts.Rebuild)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"chunks":      ingest.Chunks,
		"mode":        ingest.Mode,
	}).Info("Document ready for analysis")

	return s.analyze(ctx, doc.ID, doc.Name, opts)
}

// Ingest 分块并写入索引
// 未要求重建且指纹未变化时跳过写入；新文档增量写入，内容变化的文档整体重建
func (s *ContractService) Ingest(ctx context.Context, doc models.Document, rebuild bool) (*IngestResult, error) {
	if doc.ID == "" {
		return nil, models.NewPipelineError(models.IngestionError, "ingest", errors.New("document ID cannot be empty"))
	}

	chunks, err := s.splitter.Chunk(doc)
	if err != nil {
		s.markContract(ctx, doc.ID, models.ContractFailed, err.Error())
		return nil, models.NewPipelineError(models.IngestionError, "chunk document", err)
	}
	if len(chunks) == 0 {
		s.markContract(ctx, doc.ID, models.ContractFailed, document.ErrEmptyDocument.Error())
		return nil, models.NewPipelineError(models.IngestionError, "chunk document", document.ErrEmptyDocument)
	}

	res := &IngestResult{
		DocumentID:  doc.ID,
		Pages:       len(doc.Pages),
		Chunks:      len(chunks),
		Fingerprint: s.indexer.Fingerprint(chunks),
	}

	switch {
	case rebuild:
		res.Mode = IndexModeRebuild
	default:
		upToDate, err := s.indexer.IsUpToDate(doc.ID, res.Fingerprint)
		if err != nil {
			return nil, err
		}
		stored, err := s.indexer.Repository().Fingerprint(doc.ID)
		if err != nil {
			return nil, models.NewPipelineError(models.IndexError, "read fingerprint", err)
		}
		switch {
		case upToDate:
			res.Mode = IndexModeSkip
		case stored == "":
			res.Mode = IndexModeUpsert
		default:
			res.Mode = IndexModeRebuild
		}
	}

	s.saveContract(ctx, doc, res, models.ContractIndexing)
	if res.Mode != IndexModeSkip {
		if err := s.indexer.Index(ctx, doc.ID, chunks, res.Mode == IndexModeRebuild); err != nil {
			s.markContract(ctx, doc.ID, models.ContractFailed, err.Error())
			return nil, err
		}
	}
	metrics.RecordIndexWrite(res.Mode)

	s.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"pages":       res.Pages,
		"chunks":      res.Chunks,
		"mode":        res.Mode,
	}).Debug("Document ingested")
	return res, nil
}

// Analyze 对已入库的文档运行全部条款分析
func (s *ContractService) Analyze(ctx context.Context, docID string, opts RunOptions) (*models.Report, error) {
	n, err := s.indexer.Repository().CountByDocument(docID)
	if err != nil {
		return nil, models.NewPipelineError(models.IndexError, "count records", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", vectordb.ErrDocumentNotFound, docID)
	}

	name := docID
	if s.contracts != nil {
		if rec, err := s.contracts.WithContext(ctx).GetByID(docID); err == nil && rec.Name != "" {
			name = rec.Name
		}
	}
	return s.analyze(ctx, docID, name, opts)
}

// clauseSlot 单个条款的结果槽位
type clauseSlot struct {
	analysis models.ClauseAnalysis
	done     bool
}

// analyze 并行分析所有条款，结果按固定顺序写入报告
func (s *ContractService) analyze(ctx context.Context, docID, name string, opts RunOptions) (*models.Report, error) {
	start := time.Now()
	s.markContract(ctx, docID, models.ContractAnalyzing, "")

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	slots := make([]clauseSlot, len(s.queries))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.concurrency)

	for i, q := range s.queries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			analysis, err := s.analyzeClause(gctx, q, docID, opts)
			if err != nil && gctx.Err() != nil {
				// 超时或其他条款的致命错误导致的取消，由下面统一标记
				return nil
			}
			slots[i] = clauseSlot{analysis: analysis, done: true}
			if models.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	marker := ErrRunAborted
	if fatal == nil && runCtx.Err() != nil {
		marker = ErrClauseTimeout
	}
	clauses := make([]models.ClauseAnalysis, len(slots))
	for i, slot := range slots {
		if !slot.done {
			slot.analysis = models.FailedAnalysis(s.queries[i].Type, marker)
		}
		clauses[i] = slot.analysis
		metrics.RecordClauseOutcome(string(clauses[i].ClauseType), outcome(clauses[i]))
	}

	report := &models.Report{
		DocumentID:   docID,
		DocumentName: name,
		AnalyzedAt:   time.Now().UTC(),
		Clauses:      clauses,
		Summary:      models.Summarize(clauses),
	}

	logger := s.logger.WithFields(logrus.Fields{
		"document_id": docID,
		"found":       report.Summary.Found,
		"errors":      report.Summary.Errors,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if fatal != nil {
		logger.WithError(fatal).Error("Analysis aborted")
		s.markContract(ctx, docID, models.ContractFailed, fatal.Error())
		return report, fatal
	}

	s.persist(ctx, report)
	s.markContract(ctx, docID, models.ContractCompleted, "")
	logger.Info("Analysis completed")
	return report, nil
}

// analyzeClause 检索并分析单个条款
// 非致命错误记录在结果中，致命错误与结果一起返回
func (s *ContractService) analyzeClause(ctx context.Context, q models.ClauseQuery, docID string, opts RunOptions) (analysis models.ClauseAnalysis, err error) {
	logger := s.logger.WithFields(logrus.Fields{
		"document_id": docID,
		"clause":      q.Type,
	})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Clause analysis panicked")
			analysis = models.FailedAnalysis(q.Type, fmt.Errorf("panic: %v", r))
			err = nil
		}
	}()

	result, err := s.retriever.Retrieve(ctx, q, docID)
	if err != nil {
		logger.WithError(err).Warn("Retrieval failed")
		return models.FailedAnalysis(q.Type, err), err
	}

	analysis, err = s.analyzer.Analyze(ctx, q, result, analyzer.AnalyzeOptions{Redline: opts.Redline})
	if err != nil {
		if analysis.Error == "" {
			analysis.Error = err.Error()
		}
		if !models.IsFatal(err) {
			logger.WithError(err).Warn("Clause analysis degraded")
		}
		return analysis, err
	}
	return analysis, nil
}

// persist 保存报告到数据库并导出JSON
// 持久化失败只记录日志，不影响本次结果
func (s *ContractService) persist(ctx context.Context, report *models.Report) {
	if s.contracts != nil {
		if err := s.contracts.WithContext(ctx).SaveReport(report); err != nil {
			s.logger.WithError(err).WithField("document_id", report.DocumentID).Error("Failed to save report")
		}
	}
	if s.storage == nil {
		return
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal report")
		return
	}
	key := storage.ReportKey(report.DocumentID, fmt.Sprintf("analysis_%s.json", report.AnalyzedAt.Format("20060102_150405")))
	if _, err := s.storage.Put(ctx, key, bytes.NewReader(data)); err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to export report")
		return
	}
	s.logger.WithField("key", key).Debug("Report exported")
}

// saveContract 创建或更新合同记录，保留已有的文件信息
func (s *ContractService) saveContract(ctx context.Context, doc models.Document, res *IngestResult, status models.ContractStatus) {
	if s.contracts == nil {
		return
	}
	repo := s.contracts.WithContext(ctx)
	rec, err := repo.GetByID(doc.ID)
	if err != nil {
		if !errors.Is(err, models.ErrContractNotFound) {
			s.logger.WithError(err).WithField("document_id", doc.ID).Warn("Failed to load contract record")
		}
		rec = &models.ContractRecord{ID: doc.ID, FileName: doc.Name}
	}
	if doc.Name != "" {
		rec.Name = doc.Name
	}
	rec.Pages = res.Pages
	rec.Chunks = res.Chunks
	rec.Fingerprint = res.Fingerprint
	rec.Status = status
	rec.Error = ""
	if err := repo.Save(rec); err != nil {
		s.logger.WithError(err).WithField("document_id", doc.ID).Warn("Failed to save contract record")
	}
}

// markContract 更新合同状态，记录不存在时忽略
func (s *ContractService) markContract(ctx context.Context, docID string, status models.ContractStatus, msg string) {
	if s.contracts == nil {
		return
	}
	err := s.contracts.WithContext(ctx).UpdateStatus(docID, status, msg)
	if err != nil && !errors.Is(err, models.ErrContractNotFound) {
		s.logger.WithError(err).WithField("document_id", docID).Warn("Failed to update contract status")
	}
}

// outcome 条款结果分类，用于指标
func outcome(a models.ClauseAnalysis) string {
	switch {
	case a.Error != "":
		return "error"
	case a.Found:
		return "found"
	default:
		return "not_found"
	}
}
