package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/services"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QAHandler 处理合同问答相关的API请求
type QAHandler struct {
	qaService *services.QAService           // 问答服务
	repo      repository.ContractRepository // 用于查找最近分析的合同
	logger    *logrus.Logger                // 日志记录器
}

// NewQAHandler 创建新的问答处理器
func NewQAHandler(qaService *services.QAService, repo repository.ContractRepository) *QAHandler {
	return &QAHandler{
		qaService: qaService,
		repo:      repo,
		logger:    middleware.GetLogger(),
	}
}

// AnswerQuestion 处理问答请求
// POST /api/qa
// 未指定合同时回答最近一次分析完成的合同
func (h *QAHandler) AnswerQuestion(c *gin.Context) {
	var req model.QARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid request parameters", err.Error()))
		return
	}

	contractID := req.ContractID
	if contractID == "" {
		recs, _, err := h.repo.WithContext(c.Request.Context()).List(0, 1, map[string]interface{}{
			"status": models.ContractCompleted,
		})
		if err != nil {
			middleware.HandleError(c, err)
			return
		}
		if len(recs) == 0 {
			middleware.HandleError(c, middleware.NewBusinessError(http.StatusBadRequest,
				"no contract has been analyzed yet, please analyze a contract first"))
			return
		}
		contractID = recs[0].ID
	}

	answer, err := h.qaService.Ask(c.Request.Context(), contractID, req.Question)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			middleware.FieldError:      err.Error(),
			middleware.FieldContractID: contractID,
		}).Warn("Failed to answer question")

		switch {
		case errors.Is(err, services.ErrEmptyQuestion):
			middleware.HandleError(c, middleware.NewValidationError("question cannot be empty"))
		case errors.Is(err, vectordb.ErrDocumentNotFound):
			middleware.HandleError(c, middleware.NewNotFoundError("contract is not indexed"))
		case models.KindOf(err) == models.ProviderUnavailable:
			middleware.HandleError(c, middleware.NewUnavailableError("model provider unavailable", err.Error()))
		default:
			middleware.HandleError(c, middleware.NewInternalError("failed to answer question", err.Error()))
		}
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(model.QAResponse{Answer: answer}))
}
