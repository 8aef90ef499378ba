package api

import (
	"net/http"

	"github.com/fyerfyer/contract-auditor/api/handler"
	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由使用的处理器
type Handlers struct {
	Contract *handler.ContractHandler
	QA       *handler.QAHandler
	Task     *handler.TaskHandler
}

// RouterConfig 路由配置
type RouterConfig struct {
	APIKey      string                     // X-API-Key 认证密钥
	RateLimit   middleware.RateLimitConfig // 按客户端限流
	MaxUploadMB int                        // 上传文件大小上限
	CORS        bool                       // 是否允许跨域
	Health      func() model.HealthResponse
}

// SetupRouter 设置API路由
// 健康检查和指标接口不需要认证，其余接口需要 X-API-Key
func SetupRouter(cfg RouterConfig, h Handlers) *gin.Engine {
	router := gin.New()
	if cfg.MaxUploadMB > 0 {
		router.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20
	}

	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.Metrics())
	router.Use(middleware.ErrorMiddleware())
	if cfg.CORS {
		router.Use(Cors())
	}
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestLogger())
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		// 健康检查 - GET /api/health
		api.GET("/health", func(c *gin.Context) {
			resp := model.HealthResponse{Status: "ok"}
			if cfg.Health != nil {
				resp = cfg.Health()
			}
			c.JSON(http.StatusOK, resp)
		})

		secured := api.Group("")
		secured.Use(middleware.APIKeyAuth(cfg.APIKey))
		secured.Use(middleware.NewRateLimiter(cfg.RateLimit).Middleware())

		contracts := secured.Group("/contracts")
		{
			// 上传并分析合同 - POST /api/contracts/analyze
			contracts.POST("/analyze", h.Contract.Analyze)

			// 上传、分析并生成PDF报告 - POST /api/contracts/report
			contracts.POST("/report", h.Contract.Report)

			// 获取合同记录 - GET /api/contracts/:id
			contracts.GET("/:id", h.Contract.GetContract)

			// 获取最近的分析报告 - GET /api/contracts/:id/report
			contracts.GET("/:id/report", h.Contract.GetReport)

			// 获取合同的分析任务 - GET /api/contracts/:id/tasks
			contracts.GET("/:id/tasks", h.Task.GetContractTasks)
		}

		// 合同问答 - POST /api/qa
		secured.POST("/qa", h.QA.AnswerQuestion)

		// 查询任务状态 - GET /api/tasks/:id
		secured.GET("/tasks/:id", h.Task.GetTaskStatus)
	}

	return router
}

// NewRouter 使用装配好的应用组件创建路由
func NewRouter(a *app.App) *gin.Engine {
	cfg := a.Config
	opts := []handler.ContractHandlerOption{
		handler.WithModelName(cfg.LLM.Model),
		handler.WithMaxUploadSize(int64(cfg.Server.MaxUploadMB) << 20),
	}
	if a.Queue != nil {
		opts = append(opts, handler.WithQueue(a.Queue))
	}

	return SetupRouter(RouterConfig{
		APIKey: cfg.Auth.APIKey,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Auth.RateLimit,
			Burst:             cfg.Auth.Burst,
		},
		MaxUploadMB: cfg.Server.MaxUploadMB,
		CORS:        cfg.Server.CORS,
		Health: func() model.HealthResponse {
			return model.HealthResponse{
				Status:   "ok",
				LLM:      a.LLM.Name(),
				Embedder: a.Embedder.Name(),
				Queue:    a.Queue != nil,
			}
		},
	}, Handlers{
		Contract: handler.NewContractHandler(a.Contracts, a.Storage, a.ContractRepo, opts...),
		QA:       handler.NewQAHandler(a.QA, a.ContractRepo),
		Task:     handler.NewTaskHandler(a.Queue),
	})
}

// Cors 跨域资源共享中间件
// 本地开发时前端与API不同源可以启用
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-API-Key, X-Trace-ID, Authorization, accept, origin")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
