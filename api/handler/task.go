package handler

import (
	"errors"
	"net/http"

	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/fyerfyer/contract-auditor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TaskHandler 处理任务相关的API请求
type TaskHandler struct {
	queue  taskqueue.Queue // 任务队列，未启用时为nil
	logger *logrus.Logger  // 日志记录器
}

// NewTaskHandler 创建新的任务处理器
func NewTaskHandler(queue taskqueue.Queue) *TaskHandler {
	return &TaskHandler{
		queue:  queue,
		logger: middleware.GetLogger(),
	}
}

// GetTaskStatus 获取任务状态
// GET /api/tasks/:id
func (h *TaskHandler) GetTaskStatus(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}
	var uri model.TaskURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("task ID cannot be empty"))
		return
	}

	task, err := h.queue.GetTask(c.Request.Context(), uri.ID)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) {
			middleware.HandleError(c, middleware.NewNotFoundError("task not found"))
			return
		}
		h.logger.WithError(err).WithField("task_id", uri.ID).Error("Failed to get task")
		middleware.HandleError(c, middleware.NewInternalError("failed to get task status", err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.NewSuccessResponse(taskqueue.NewTaskInfo(task)))
}

// GetContractTasks 获取合同相关的所有任务
// GET /api/contracts/:id/tasks
func (h *TaskHandler) GetContractTasks(c *gin.Context) {
	if h.queue == nil {
		middleware.HandleError(c, middleware.NewUnavailableError("task queue is not enabled"))
		return
	}
	var uri model.ContractURI
	if err := c.ShouldBindUri(&uri); err != nil {
		middleware.HandleError(c, middleware.NewValidationError("invalid contract ID", err.Error()))
		return
	}

	tasks, err := h.queue.GetTasksByContract(c.Request.Context(), uri.ID)
	if err != nil {
		h.logger.WithError(err).WithField(middleware.FieldContractID, uri.ID).Error("Failed to get contract tasks")
		middleware.HandleError(c, middleware.NewInternalError("failed to list contract tasks", err.Error()))
		return
	}

	infos := make([]*taskqueue.TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, taskqueue.NewTaskInfo(task))
	}
	c.JSON(http.StatusOK, model.NewSuccessResponse(gin.H{
		"contract_id": uri.ID,
		"tasks":       infos,
	}))
}
