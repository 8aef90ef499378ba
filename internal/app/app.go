// Package app 根据配置组装合同分析所需的全部组件
// 服务端和命令行工具共用同一套装配逻辑
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fyerfyer/contract-auditor/config"
	"github.com/fyerfyer/contract-auditor/internal/analyzer"
	"github.com/fyerfyer/contract-auditor/internal/cache"
	"github.com/fyerfyer/contract-auditor/internal/database"
	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/embedding"
	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/retriever"
	"github.com/fyerfyer/contract-auditor/internal/services"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/fyerfyer/contract-auditor/pkg/storage"
	"github.com/fyerfyer/contract-auditor/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App 装配好的应用组件
type App struct {
	Config *config.Config
	Logger *logrus.Logger

	DB        *gorm.DB
	Storage   storage.Storage
	Cache     cache.Cache // 未启用缓存时为nil
	Embedder  embedding.Client
	LLM       llm.Client
	Vectors   vectordb.Repository
	Splitter  *document.TextSplitter
	Indexer   *vectordb.Indexer
	Retriever *retriever.Retriever
	Analyzer  *analyzer.Analyzer

	Contracts    *services.ContractService
	QA           *services.QAService
	ContractRepo repository.ContractRepository
	QARepo       repository.QARepository

	Queue taskqueue.Queue // 未启用队列时为nil

	closers []func() error
}

// Option 装配选项
type Option func(*options)

type options struct {
	llmClient llm.Client
	embedder  embedding.Client
	withQueue bool
}

// WithLLMClient 使用给定的生成模型客户端，不再按配置创建
func WithLLMClient(c llm.Client) Option {
	return func(o *options) { o.llmClient = c }
}

// WithEmbedder 使用给定的嵌入客户端，不再按配置创建
func WithEmbedder(c embedding.Client) Option {
	return func(o *options) { o.embedder = c }
}

// WithoutQueue 即使配置启用也不连接任务队列
func WithoutQueue() Option {
	return func(o *options) { o.withQueue = false }
}

// New 按配置创建全部组件
// 任一组件创建失败时关闭已创建的组件并返回错误
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	o := options{withQueue: true}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.build(o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(o options) error {
	cfg := a.Config

	if err := database.Setup(&database.Config{
		Type:         cfg.Database.Type,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		MaxLifetime:  time.Hour,
	}, a.Logger); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	db := database.MustDB()
	a.DB = db
	a.closers = append(a.closers, database.Close)
	a.ContractRepo = repository.NewContractRepositoryWithDB(db)
	a.QARepo = repository.NewQARepositoryWithDB(db)

	var err error
	if a.Storage, err = storage.New(storage.Config{
		Type:  cfg.Storage.Type,
		Local: storage.LocalConfig{Path: cfg.Storage.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		},
	}); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if cfg.Cache.Enable {
		c, err := cache.NewCache(cache.Config{
			Type:            cfg.Cache.Type,
			RedisAddr:       cfg.Cache.Address,
			RedisPassword:   cfg.Cache.Password,
			RedisDB:         cfg.Cache.DB,
			Prefix:          cfg.Cache.Prefix,
			DefaultTTL:      time.Duration(cfg.Cache.TTL) * time.Second,
			CleanupInterval: 10 * time.Minute,
			MaxItems:        cfg.Cache.MaxItems,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		a.Cache = c
		if closer, ok := c.(io.Closer); ok {
			a.closers = append(a.closers, closer.Close)
		}
	}

	if a.Embedder, err = a.newEmbedder(o.embedder); err != nil {
		return fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	if a.LLM = o.llmClient; a.LLM == nil {
		a.LLM, err = llm.NewClient(cfg.LLM.Provider,
			llm.WithAPIKey(cfg.LLM.APIKey),
			llm.WithBaseURL(cfg.LLM.Endpoint),
			llm.WithModel(cfg.LLM.Model),
			llm.WithTimeout(cfg.LLM.Timeout),
			llm.WithMaxRetries(cfg.LLM.MaxRetries),
			llm.WithMaxTokens(cfg.LLM.MaxTokens),
			llm.WithTemperature(cfg.LLM.Temperature),
		)
		if err != nil {
			return fmt.Errorf("failed to initialize LLM client: %w", err)
		}
	}

	if a.Vectors, err = a.newVectorRepository(); err != nil {
		return fmt.Errorf("failed to initialize vector database: %w", err)
	}
	a.closers = append(a.closers, a.Vectors.Close)

	splitterCfg := document.SplitterConfig{
		ChunkSize:    cfg.Document.ChunkSize,
		ChunkOverlap: cfg.Document.ChunkOverlap,
	}
	if err := splitterCfg.Validate(); err != nil {
		return err
	}
	a.Splitter = document.NewTextSplitter(splitterCfg)
	a.Indexer = vectordb.NewIndexer(a.Vectors, a.Embedder,
		vectordb.WithBatchSize(cfg.Embed.BatchSize),
		vectordb.WithSignature(splitterCfg.Signature()),
		vectordb.WithLogger(a.Logger),
	)

	rtOpts := []retriever.Option{retriever.WithLogger(a.Logger)}
	if cfg.Retrieval.Rerank {
		rtOpts = append(rtOpts, retriever.WithReranker(
			retriever.NewLLMReranker(a.LLM, cfg.Retrieval.RerankConcurrency, a.Logger)))
	}
	if a.Retriever, err = retriever.New(a.Vectors, a.Embedder, retriever.Config{
		K:        cfg.Retrieval.K,
		FetchK:   cfg.Retrieval.FetchK,
		MinScore: cfg.Retrieval.MinScore,
		Lambda:   cfg.Retrieval.Lambda,
		Rerank:   cfg.Retrieval.Rerank,
	}, rtOpts...); err != nil {
		return fmt.Errorf("failed to initialize retriever: %w", err)
	}

	rules, err := RiskRulesFromConfig(cfg.Analysis.RiskRules)
	if err != nil {
		return err
	}
	a.Analyzer = analyzer.New(a.LLM,
		analyzer.WithRiskRules(analyzer.DefaultRiskRules().Merge(rules)),
		analyzer.WithMaxTokens(cfg.Analysis.MaxTokens),
		analyzer.WithLogger(a.Logger),
	)

	a.Contracts = services.NewContractService(a.Splitter, a.Indexer, a.Retriever, a.Analyzer,
		services.WithContractRepository(a.ContractRepo),
		services.WithReportStorage(a.Storage),
		services.WithConcurrency(cfg.Analysis.Concurrency),
		services.WithTimeout(cfg.Analysis.Timeout),
		services.WithContractLogger(a.Logger),
	)

	rag := llm.NewRAG(a.LLM,
		llm.WithRAGMaxTokens(cfg.LLM.MaxTokens),
		llm.WithRAGTemperature(cfg.LLM.Temperature),
	)
	a.QA = services.NewQAService(a.Retriever, a.Vectors, rag, a.Cache,
		services.WithTopK(cfg.QA.TopK),
		services.WithCacheTTL(cfg.QA.CacheTTL),
		services.WithQAHistory(a.QARepo),
		services.WithQALogger(a.Logger),
	)

	if cfg.Queue.Enable && o.withQueue {
		q, err := taskqueue.NewQueue(cfg.Queue.Type, a.QueueConfig())
		if err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	}

	a.Logger.WithFields(logrus.Fields{
		"llm":      a.LLM.Name(),
		"embedder": a.Embedder.Name(),
		"vectordb": cfg.VectorDB.Type,
		"storage":  cfg.Storage.Type,
		"queue":    a.Queue != nil,
	}).Info("Application components initialized")
	return nil
}

func (a *App) newEmbedder(override embedding.Client) (embedding.Client, error) {
	cfg := a.Config.Embed
	client := override
	if client == nil {
		var err error
		client, err = embedding.NewClient(cfg.Provider,
			embedding.WithAPIKey(cfg.APIKey),
			embedding.WithBaseURL(cfg.Endpoint),
			embedding.WithModel(cfg.Model),
			embedding.WithTimeout(cfg.Timeout),
			embedding.WithDimensions(cfg.Dimensions),
			embedding.WithBatchSize(cfg.BatchSize),
		)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Cache && a.Cache != nil {
		return embedding.NewCachedClient(client, a.Cache, time.Duration(a.Config.Cache.TTL)*time.Second,
			embedding.WithCacheLogger(a.Logger),
		), nil
	}
	return client, nil
}

func (a *App) newVectorRepository() (vectordb.Repository, error) {
	cfg := a.Config.VectorDB
	dim := cfg.Dim
	if dim <= 0 {
		dim = a.Config.Embed.Dimensions
	}
	vc := vectordb.Config{
		Type:              cfg.Type,
		Path:              cfg.Path,
		Dimension:         dim,
		CreateIfNotExists: true,
	}
	// 未指定路径时sqlite向量表与业务表共用同一个库
	if cfg.Type == "sqlite" && cfg.Path == "" {
		vc.DB = a.DB
	}
	return vectordb.NewRepository(vc)
}

// QueueConfig 任务队列配置
func (a *App) QueueConfig() *taskqueue.Config {
	q := a.Config.Queue
	return &taskqueue.Config{
		RedisAddr:     q.RedisAddr,
		RedisPassword: q.RedisPassword,
		RedisDB:       q.RedisDB,
		Concurrency:   q.Concurrency,
		RetryLimit:    q.RetryLimit,
		RetryDelay:    time.Duration(q.RetryDelay) * time.Second,
		TaskTimeout:   q.TaskTimeout,
		Logger:        a.Logger,
	}
}

// RiskRulesFromConfig 把配置中的风险关键词转换为分析器规则
// 配置键不区分大小写，无法识别的条款名称返回错误
func RiskRulesFromConfig(raw map[string]config.RiskRuleConfig) (analyzer.RiskRules, error) {
	rules := make(analyzer.RiskRules, len(raw))
	for name, rule := range raw {
		ct, ok := matchClauseType(name)
		if !ok {
			return nil, fmt.Errorf("unknown clause type in analysis.risk_rules: %q", name)
		}
		rules[ct] = analyzer.RiskRule{High: rule.High, Low: rule.Low}
	}
	return rules, nil
}

func matchClauseType(name string) (models.ClauseType, bool) {
	name = strings.TrimSpace(name)
	for _, ct := range models.AllClauseTypes() {
		if strings.EqualFold(string(ct), name) {
			return ct, true
		}
	}
	return "", false
}

// LoadContract 从存储读取合同文件并解析为文档
// 文档ID由页面内容计算，同一份合同重复上传得到相同ID
func (a *App) LoadContract(ctx context.Context, storageKey, fileName string) (models.Document, error) {
	rc, err := a.Storage.Get(ctx, storageKey)
	if err != nil {
		return models.Document{}, models.NewPipelineError(models.IngestionError, "load contract", err)
	}
	defer rc.Close()

	if fileName == "" {
		fileName = filepath.Base(storageKey)
	}
	doc, err := document.LoadReader(rc, fileName, "")
	if err != nil {
		return models.Document{}, models.NewPipelineError(models.IngestionError, "parse contract", err)
	}
	return doc, nil
}

// AnalyzeTask 执行异步分析任务
// 报告即使不完整也会汇总进任务结果
func (a *App) AnalyzeTask(ctx context.Context, p taskqueue.AnalyzePayload) (*taskqueue.AnalyzeResult, error) {
	doc, err := a.LoadContract(ctx, p.StorageKey, p.FileName)
	if err != nil {
		return nil, err
	}
	if p.ContractID != "" && p.ContractID != doc.ID {
		a.Logger.WithFields(logrus.Fields{
			"expected": p.ContractID,
			"actual":   doc.ID,
		}).Warn("Contract content changed since upload")
	}

	report, err := a.Contracts.Run(ctx, doc, services.RunOptions{Rebuild: p.Rebuild, Redline: p.Redline})
	if report == nil {
		return nil, err
	}
	return &taskqueue.AnalyzeResult{
		ContractID: report.DocumentID,
		Total:      report.Summary.Total,
		Found:      report.Summary.Found,
		Errors:     report.Summary.Errors,
		HighRisk:   report.Summary.RiskHistogram[models.RiskHigh],
	}, err
}

// NewWorker 创建处理异步分析任务的工作者
func (a *App) NewWorker() (*taskqueue.RedisWorker, error) {
	rq, ok := a.Queue.(*taskqueue.RedisQueue)
	if !ok {
		return nil, errors.New("task queue is not enabled")
	}
	w := taskqueue.NewRedisWorker(rq, a.QueueConfig())
	w.RegisterHandler(taskqueue.NewAnalyzeHandler(a.Queue, a.AnalyzeTask, a.Logger))
	return w, nil
}

// Close 按创建的相反顺序关闭组件
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
