package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/services"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/fyerfyer/contract-auditor/pkg/report"
	"github.com/fyerfyer/contract-auditor/pkg/storage"
	"github.com/fyerfyer/contract-auditor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ContractHandler 处理合同分析相关的API请求
type ContractHandler struct {
	contracts *services.ContractService     // 分析流水线
	storage   storage.Storage               // 合同文件存储
	repo      repository.ContractRepository // 合同记录
	queue     taskqueue.Queue               // 任务队列，未启用时为nil
	modelName string                        // 写入PDF报告的模型名称
	maxUpload int64                         // 上传文件大小上限，0表示不限
	logger    *logrus.Logger                // 日志记录器
}

// ContractHandlerOption 合同处理器选项
type ContractHandlerOption func(*ContractHandler)

// WithQueue 启用异步分析
func WithQueue(q taskqueue.Queue) ContractHandlerOption {
	return func(h *ContractHandler) {
		h.queue = q
	}
}

// WithModelName 设置报告中显示的模型名称
func WithModelName(name string) ContractHandlerOption {
	return func(h *ContractHandler) {
		h.modelName = name
	}
}

// WithMaxUploadSize 设置上传文件大小上限（字节）
func WithMaxUploadSize(n int64) ContractHandlerOption {
	return func(h *ContractHandler) {
		h.maxUpload = n
	}
}

// NewContractHandler 创建合同处理器
func NewContractHandler(
	contracts *services.ContractService,
	st storage.Storage,
	repo repository.ContractRepository,
	opts ...ContractHandlerOption,
) *ContractHandler {
	h := &ContractHandler{
		contracts: contracts,
		storage:   st,
		repo:      repo,
		logger:    middleware.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// upload 已接收并解析的合同
type upload struct {
	doc  models.Document
	name string
	key  string
}

// Analyze 上传并分析合同
// POST /api/contracts/analyze
func (h *ContractHandler) Analyze(c *gin.Context) {
	req, ok := bindUpload(c)
	if !ok {
		return
	}

	up, err := h.receive(c.Request.Context(), req.File)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}
	resp := model.AnalyzeResponse{ContractID: up.doc.ID, FileName: up.name, StorageKey: up.key}

	if req.Async {
		info, err := h.enqueue(c.Request.Context(), up, req)
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		resp.Task = info
		c.JSON(http.StatusAccepted, model.NewSuccessResponse(resp))
		return
	}

	rpt, err := h.contracts.Run(c.Request.Context(), up.doc, services.RunOptions{Rebuild: req.Rebuild, Redline: req.Redline})
	if err != nil {
		middleware.HandleError(c, runError(err, rpt))
		return
	}
	resp.Report = rpt
	c.JSON(http.StatusOK, model.NewSuccessResponse(resp))
}

// Report 上传、分析合同并生成PDF报告
// POST /api/contracts/report
// format=pdf 时直接返回PDF文件，否则返回报告JSON和base64编码的PDF
func (h *ContractHandler) Report(c *gin.Context) {
	req, ok := bindUpload(c)
	if !ok {
		return
	}
	up, err := h.receive(c.Request.Context(), req.File)
	if err != nil {
		middleware.HandleError(c, err)
		return
	}

	rpt, err := h.contracts.Run(c.Request.Context(), up.doc, services.RunOptions{Rebuild: req.Rebuild, Redline: req.Redline})
	if err != nil {
		middleware.HandleError(c, runError(err, rpt))
		return
	}

	pdf, err := h.render(rpt, req.Redline)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to render report", err.Error()))
		return
	}

	if req.Format == "pdf" {
		h.sendPDF(c, up.name, pdf)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(model.ReportResponse{
		ContractID: rpt.DocumentID,
		FileName:   up.name,
		Report:     rpt,
		ReportPDF:  pdf,
	}))
}

// GetContract 获取合同记录
// GET /api/contracts/:id
func (h *ContractHandler) GetContract(c *gin.Context) {
	var uri model.ContractURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid contract ID", err.Error()))
		return
	}

	rec, err := h.repo.WithContext(c.Request.Context()).GetByID(uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrContractNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("contract not found"))
			return
		}
		middleware.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(rec))
}

// GetReport 获取合同最近一次的分析报告
// GET /api/contracts/:id/report
func (h *ContractHandler) GetReport(c *gin.Context) {
	var uri model.ContractURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid contract ID", err.Error()))
		return
	}
	var query model.ReportQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return
	}

	rpt, err := h.repo.WithContext(c.Request.Context()).LatestReport(uri.ID)
	if err != nil {
		if errors.Is(err, models.ErrAnalysisNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("no analysis found for contract"))
			return
		}
		middleware.HandleError(c, err)
		return
	}

	if query.Format != "pdf" {
		c.JSON(http.StatusOK, model.NewSuccessResponse(rpt))
		return
	}
	pdf, err := h.render(rpt, query.Redline)
	if err != nil {
		middleware.HandleError(c, middleware.NewInternalError("failed to render report", err.Error()))
		return
	}
	h.sendPDF(c, rpt.DocumentName, pdf)
}

// analyzeRequest 上传文件和查询参数
type analyzeRequest struct {
	model.UploadRequest
	model.AnalyzeQuery
}

// bindUpload 绑定上传文件和查询参数，失败时登记验证错误
func bindUpload(c *gin.Context) (analyzeRequest, bool) {
	var req analyzeRequest
	if err := c.ShouldBind(&req.UploadRequest); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return req, false
	}
	if err := c.ShouldBindQuery(&req.AnalyzeQuery); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid query parameters", err.Error()))
		return req, false
	}
	return req, true
}

// receive 读取上传文件，解析后保存到存储并登记合同
func (h *ContractHandler) receive(ctx context.Context, fh *multipart.FileHeader) (*upload, error) {
	if fh == nil {
		return nil, middleware.NewValidationError("no file provided")
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		return nil, middleware.NewBusinessError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds the %d MB upload limit", h.maxUpload>>20))
	}
	name := filepath.Base(fh.Filename)
	if document.DetectContentType(name) == document.Unknown {
		return nil, middleware.NewValidationError("unsupported file type, only .pdf, .md, .markdown, .txt are allowed")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, middleware.NewInternalError("failed to open uploaded file", err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, middleware.NewInternalError("failed to read uploaded file", err.Error())
	}

	doc, err := document.LoadReader(bytes.NewReader(data), name, "")
	if err != nil {
		return nil, middleware.NewBusinessError(http.StatusUnprocessableEntity, "failed to parse contract", err.Error())
	}

	info, err := h.storage.Save(ctx, bytes.NewReader(data), name)
	if err != nil {
		return nil, middleware.NewInternalError("failed to save file", err.Error())
	}
	h.register(ctx, doc, name, info.Key)

	h.logger.WithFields(logrus.Fields{
		middleware.FieldContractID: doc.ID,
		"filename":                 name,
		"key":                      info.Key,
		"size":                     info.Size,
		"pages":                    len(doc.Pages),
	}).Info("Contract uploaded")
	return &upload{doc: doc, name: name, key: info.Key}, nil
}

// register 创建或更新合同记录，保留已有的索引信息
func (h *ContractHandler) register(ctx context.Context, doc models.Document, name, key string) {
	repo := h.repo.WithContext(ctx)
	rec, err := repo.GetByID(doc.ID)
	if err != nil {
		rec = &models.ContractRecord{ID: doc.ID, Status: models.ContractUploaded}
	}
	rec.Name = name
	rec.FileName = name
	rec.StoragePath = key
	rec.Pages = len(doc.Pages)
	if err := repo.Save(rec); err != nil {
		h.logger.WithError(err).WithField(middleware.FieldContractID, doc.ID).Warn("Failed to save contract record")
	}
}

// enqueue 提交异步分析任务
func (h *ContractHandler) enqueue(ctx context.Context, up *upload, req analyzeRequest) (*taskqueue.TaskInfo, error) {
	if h.queue == nil {
		return nil, middleware.NewUnavailableError("task queue is not enabled")
	}

	taskID, err := h.queue.Enqueue(ctx, taskqueue.TaskContractAnalyze, up.doc.ID, taskqueue.AnalyzePayload{
		ContractID: up.doc.ID,
		StorageKey: up.key,
		FileName:   up.name,
		Rebuild:    req.Rebuild,
		Redline:    req.Redline,
	})
	if err != nil {
		return nil, middleware.NewUnavailableError("failed to enqueue analysis task", err.Error())
	}
	task, err := h.queue.GetTask(ctx, taskID)
	if err != nil {
		return nil, middleware.NewInternalError("failed to load task", err.Error())
	}

	h.logger.WithFields(logrus.Fields{
		middleware.FieldContractID: up.doc.ID,
		"task_id":                  taskID,
	}).Info("Analysis task enqueued")
	return taskqueue.NewTaskInfo(task), nil
}

func (h *ContractHandler) render(rpt *models.Report, redline bool) ([]byte, error) {
	return report.NewRenderer(report.WithRedline(redline), report.WithModelName(h.modelName)).RenderBytes(rpt)
}

func (h *ContractHandler) sendPDF(c *gin.Context, name string, pdf []byte) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		base = "contract"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_analysis_report.pdf"`, base))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// runError 把流水线错误转换为API错误
// 致命错误之前已完成的条款随错误一起返回
func runError(err error, rpt *models.Report) error {
	var appErr middleware.AppError
	switch {
	case models.KindOf(err) == models.IngestionError:
		appErr = middleware.NewBusinessError(http.StatusUnprocessableEntity, "failed to ingest contract", err.Error())
	case models.KindOf(err) == models.ProviderUnavailable:
		appErr = middleware.NewUnavailableError("model provider unavailable", err.Error())
	case errors.Is(err, vectordb.ErrDocumentNotFound):
		appErr = middleware.NewNotFoundError("contract is not indexed")
	default:
		appErr = middleware.NewInternalError("contract analysis failed", err.Error())
	}
	if rpt != nil {
		appErr = appErr.WithData(rpt)
	}
	return appErr
}
