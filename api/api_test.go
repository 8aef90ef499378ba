package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fyerfyer/contract-auditor/api/middleware"
	"github.com/fyerfyer/contract-auditor/config"
	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

const contractText = `MASTER SERVICES AGREEMENT

1. SERVICES
The Provider shall perform the services described in each Statement of Work.

2. FEES
Fees are payable within thirty days of invoice.

3. NOTICES
All notices shall be delivered in writing to the addresses above.
`

const qaAnswer = "Fees are payable within thirty days of invoice."

func init() {
	gin.SetMode(gin.TestMode)
}

// envelope 统一响应结构，data保留原始JSON
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	TraceID string          `json:"trace_id"`
}

// scriptedLLM 条款分析一律返回未找到，问答返回固定答案
func scriptedLLM(t *testing.T) llm.Client {
	client := llm.NewMockClient(t)
	client.EXPECT().Name().Return("mock-llm").Maybe()
	client.EXPECT().Generate(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(_ context.Context, prompt string, _ ...llm.GenerateOption) (*llm.Response, error) {
			if strings.Contains(prompt, `"found"`) {
				return &llm.Response{Text: `{"found": false, "summary": "Not Found in Contract"}`}, nil
			}
			return &llm.Response{Text: qaAnswer}, nil
		}).Maybe()
	return client
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv(config.APIKeyEnv, "")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cfg.Auth.APIKey = testAPIKey
	cfg.Auth.RateLimit = 0
	cfg.Database.DSN = ":memory:"
	cfg.Storage.Type = "local"
	cfg.Storage.Path = t.TempDir()
	cfg.VectorDB.Type = "memory"
	cfg.VectorDB.Dim = 64
	cfg.Embed.Provider = "hash"
	cfg.Embed.Dimensions = 64
	cfg.Cache.Enable = true
	cfg.Cache.Type = "memory"
	cfg.Retrieval.MinScore = -1
	cfg.Queue.Enable = false
	return cfg
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *app.App) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	a, err := app.New(cfg, logger, app.WithLLMClient(scriptedLLM(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return NewRouter(a), a
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	return req
}

func jsonRequest(t *testing.T, method, target string, v interface{}) *http.Request {
	t.Helper()
	var body bytes.Buffer
	if v != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(v))
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.APIKeyHeader, testAPIKey)
	return req
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

// analyzeResult 分析接口的响应数据
type analyzeResult struct {
	ContractID string              `json:"contract_id"`
	FileName   string              `json:"filename"`
	StorageKey string              `json:"storage_key"`
	Report     *models.Report      `json:"report"`
	Task       *taskqueue.TaskInfo `json:"task"`
}

func analyze(t *testing.T, router *gin.Engine) analyzeResult {
	t.Helper()
	w := serve(router, uploadRequest(t, "/api/contracts/analyze?redline=true", "msa.txt", []byte(contractText)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res analyzeResult
	decode(t, w, &res)
	return res
}

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	w := serve(router, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), "mock-llm")
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "contract_auditor_http_requests_total")
}

func TestAPIKeyAuth(t *testing.T) {
	t.Run("Key not configured", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Auth.APIKey = ""
		router, _ := newTestRouter(t, cfg)

		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{"question": "x"}))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, decode(t, w, nil).Message, "misconfigured")
	})

	t.Run("Wrong key", func(t *testing.T) {
		router, _ := newTestRouter(t, testConfig(t))

		req := jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{"question": "x"})
		req.Header.Set(middleware.APIKeyHeader, "wrong")
		w := serve(router, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req.Header.Del(middleware.APIKeyHeader)
		w = serve(router, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Trace ID is echoed", func(t *testing.T) {
		router, _ := newTestRouter(t, testConfig(t))

		req := jsonRequest(t, http.MethodGet, "/api/tasks/abc", nil)
		req.Header.Set(middleware.APIKeyHeader, "wrong")
		req.Header.Set("X-Trace-ID", "trace-123")
		w := serve(router, req)
		assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
		assert.Equal(t, "trace-123", decode(t, w, nil).TraceID)
	})
}

func TestAnalyzeContract(t *testing.T) {
	router, a := newTestRouter(t, testConfig(t))
	res := analyze(t, router)

	assert.NotEmpty(t, res.ContractID)
	assert.Equal(t, "msa.txt", res.FileName)
	require.NotNil(t, res.Report)
	assert.Len(t, res.Report.Clauses, len(models.AllClauseTypes()))
	for i, ct := range models.AllClauseTypes() {
		assert.Equal(t, ct, res.Report.Clauses[i].ClauseType)
		assert.False(t, res.Report.Clauses[i].Found)
	}

	exists, err := a.Storage.Exists(t.Context(), res.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	t.Run("Contract record", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/"+res.ContractID, nil))
		require.Equal(t, http.StatusOK, w.Code)
		var rec models.ContractRecord
		decode(t, w, &rec)
		assert.Equal(t, models.ContractCompleted, rec.Status)
		assert.Equal(t, res.StorageKey, rec.StoragePath)
		assert.Positive(t, rec.Chunks)
	})

	t.Run("Latest report as JSON", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/"+res.ContractID+"/report", nil))
		require.Equal(t, http.StatusOK, w.Code)
		var rpt models.Report
		decode(t, w, &rpt)
		assert.Equal(t, res.ContractID, rpt.DocumentID)
		assert.Equal(t, len(models.AllClauseTypes()), rpt.Summary.Total)
	})

	t.Run("Latest report as PDF", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/"+res.ContractID+"/report?format=pdf", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "msa_analysis_report.pdf")
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
	})

	t.Run("Unknown contract", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/missing/report", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
		w = serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Invalid format", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/"+res.ContractID+"/report?format=docx", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAnalyzeContractErrors(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	t.Run("Missing file", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/contracts/analyze", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unsupported type", func(t *testing.T) {
		w := serve(router, uploadRequest(t, "/api/contracts/analyze", "contract.docx", []byte("binary")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w, nil).Message, "unsupported file type")
	})

	t.Run("Empty document", func(t *testing.T) {
		w := serve(router, uploadRequest(t, "/api/contracts/analyze", "blank.txt", []byte("   \n\n  ")))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Async without queue", func(t *testing.T) {
		w := serve(router, uploadRequest(t, "/api/contracts/analyze?async=true", "msa.txt", []byte(contractText)))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("Task status without queue", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodGet, "/api/tasks/abc", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAsyncAnalyze(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Queue.Enable = true
	cfg.Queue.Type = "redis"
	cfg.Queue.RedisAddr = mr.Addr()
	router, _ := newTestRouter(t, cfg)

	w := serve(router, uploadRequest(t, "/api/contracts/analyze?async=true&rebuild=false", "msa.txt", []byte(contractText)))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res analyzeResult
	decode(t, w, &res)
	require.NotNil(t, res.Task)
	assert.Nil(t, res.Report)
	assert.Equal(t, taskqueue.TaskContractAnalyze, res.Task.Type)
	assert.Equal(t, taskqueue.StatusPending, res.Task.Status)
	assert.Equal(t, res.ContractID, res.Task.ContractID)

	w = serve(router, jsonRequest(t, http.MethodGet, "/api/tasks/"+res.Task.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	var info taskqueue.TaskInfo
	decode(t, w, &info)
	assert.Equal(t, res.Task.ID, info.ID)
	assert.Zero(t, info.Progress)

	w = serve(router, jsonRequest(t, http.MethodGet, "/api/contracts/"+res.ContractID+"/tasks", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), res.Task.ID)

	w = serve(router, jsonRequest(t, http.MethodGet, "/api/tasks/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReportEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	t.Run("JSON with embedded PDF", func(t *testing.T) {
		w := serve(router, uploadRequest(t, "/api/contracts/report", "msa.txt", []byte(contractText)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var res struct {
			ContractID string         `json:"contract_id"`
			Report     *models.Report `json:"report"`
			ReportPDF  []byte         `json:"report_pdf_base64"`
		}
		decode(t, w, &res)
		require.NotNil(t, res.Report)
		assert.True(t, bytes.HasPrefix(res.ReportPDF, []byte("%PDF-")))
	})

	t.Run("Raw PDF", func(t *testing.T) {
		w := serve(router, uploadRequest(t, "/api/contracts/report?format=pdf", "msa.txt", []byte(contractText)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))
	})
}

func TestQuestionAnswering(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(t))

	t.Run("No contract analyzed", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{"question": "When are fees due?"}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	res := analyze(t, router)

	type answer struct {
		DocumentID string `json:"document_id"`
		Answer     string `json:"answer"`
		Confidence string `json:"confidence"`
		Cached     bool   `json:"cached"`
	}

	t.Run("Latest contract", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{"question": "When are fees due?"}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var ans answer
		decode(t, w, &ans)
		assert.Equal(t, res.ContractID, ans.DocumentID)
		assert.Equal(t, qaAnswer, ans.Answer)
		assert.Equal(t, models.ConfidenceHigh, ans.Confidence)
		assert.False(t, ans.Cached)
	})

	t.Run("Cached answer", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{
			"contract_id": res.ContractID,
			"question":    "When are fees due?",
		}))
		require.Equal(t, http.StatusOK, w.Code)
		var ans answer
		decode(t, w, &ans)
		assert.True(t, ans.Cached)
	})

	t.Run("Unknown contract", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{
			"contract_id": "missing",
			"question":    "When are fees due?",
		}))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Missing question", func(t *testing.T) {
		w := serve(router, jsonRequest(t, http.MethodPost, "/api/qa", map[string]string{"contract_id": res.ContractID}))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
