package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupQueue 基于miniredis创建队列
func setupQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "Failed to create miniredis")
	t.Cleanup(mr.Close)

	q, err := NewRedisQueue(&Config{
		RedisAddr:   mr.Addr(),
		Concurrency: 1,
		RetryLimit:  2,
		RetryDelay:  time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, mr
}

func testPayload(id string) *AnalyzePayload {
	return &AnalyzePayload{
		ContractID: id,
		StorageKey: "contracts/" + id + ".pdf",
		FileName:   "supply_agreement.pdf",
		Redline:    true,
	}
}

func TestNewRedisQueue(t *testing.T) {
	t.Run("Connects to redis", func(t *testing.T) {
		q, _ := setupQueue(t)
		assert.NotNil(t, q)
	})

	t.Run("Unreachable redis", func(t *testing.T) {
		_, err := NewRedisQueue(&Config{RedisAddr: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("Factory", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		q, err := NewQueue("redis", &Config{RedisAddr: mr.Addr()})
		require.NoError(t, err)
		assert.NoError(t, q.Close())

		_, err = NewQueue("kafka", nil)
		assert.Error(t, err)
	})
}

func TestRedisQueueEnqueue(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-1", testPayload("contract-1"))
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, taskID, task.ID)
	assert.Equal(t, TaskContractAnalyze, task.Type)
	assert.Equal(t, "contract-1", task.ContractID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 2, task.MaxRetries)

	var payload AnalyzePayload
	require.NoError(t, UnmarshalPayload(task.Payload, &payload))
	assert.Equal(t, "contracts/contract-1.pdf", payload.StorageKey)
	assert.True(t, payload.Redline)

	assert.True(t, mr.Exists("task:"+taskID))

	_, err = q.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRedisQueueTasksByContract(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-2", testPayload("contract-2"))
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-2", testPayload("contract-2"))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, TaskContractAnalyze, "contract-3", testPayload("contract-3"))
	require.NoError(t, err)

	tasks, err := q.GetTasksByContract(ctx, "contract-2")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, first, tasks[0].ID)
	assert.Equal(t, second, tasks[1].ID)

	tasks, err = q.GetTasksByContract(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRedisQueueUpdateTaskStatus(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-4", testPayload("contract-4"))
	require.NoError(t, err)

	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusProcessing, nil, ""))
	task, err := q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, task.Status)
	assert.NotNil(t, task.StartedAt)
	assert.Nil(t, task.CompletedAt)

	result := &AnalyzeResult{ContractID: "contract-4", Total: 5, Found: 3, HighRisk: 1}
	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusCompleted, result, ""))
	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	var got AnalyzeResult
	require.NoError(t, json.Unmarshal(task.Result, &got))
	assert.Equal(t, *result, got)

	// 不带结果的更新保留已有结果
	require.NoError(t, q.UpdateTaskStatus(ctx, taskID, StatusFailed, nil, "late failure"))
	task, err = q.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "late failure", task.Error)
	assert.JSONEq(t, `{"contract_id":"contract-4","total":5,"found":3,"errors":0,"high_risk":1}`, string(task.Result))

	assert.ErrorIs(t, q.UpdateTaskStatus(ctx, "missing", StatusCompleted, nil, ""), ErrTaskNotFound)
}

func TestRedisQueueWaitForTask(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-5", testPayload("contract-5"))
	require.NoError(t, err)

	t.Run("Times out while pending", func(t *testing.T) {
		_, err := q.WaitForTask(ctx, taskID, 100*time.Millisecond)
		assert.ErrorIs(t, err, ErrTaskTimeout)
	})

	t.Run("Returns once completed", func(t *testing.T) {
		go func() {
			time.Sleep(50 * time.Millisecond)
			q.UpdateTaskStatus(context.Background(), taskID, StatusCompleted, &AnalyzeResult{ContractID: "contract-5"}, "")
			q.NotifyTaskUpdate(context.Background(), taskID)
		}()

		task, err := q.WaitForTask(ctx, taskID, 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
	})
}

func TestRedisQueueDeleteTask(t *testing.T) {
	q, mr := setupQueue(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-6", testPayload("contract-6"))
	require.NoError(t, err)

	require.NoError(t, q.DeleteTask(ctx, taskID))
	_, err = q.GetTask(ctx, taskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	tasks, err := q.GetTasksByContract(ctx, "contract-6")
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.False(t, mr.Exists("task:"+taskID))

	assert.ErrorIs(t, q.DeleteTask(ctx, taskID), ErrTaskNotFound)
}

func TestRedisWorkerHandle(t *testing.T) {
	q, _ := setupQueue(t)
	ctx := context.Background()

	t.Run("Successful analysis completes the task", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-7", testPayload("contract-7"))
		require.NoError(t, err)

		handler := NewAnalyzeHandler(q, func(ctx context.Context, p AnalyzePayload) (*AnalyzeResult, error) {
			assert.Equal(t, "contract-7", p.ContractID)
			return &AnalyzeResult{ContractID: p.ContractID, Total: 5, Found: 4}, nil
		}, nil)
		worker := NewRedisWorker(q, nil)
		worker.RegisterHandler(handler)

		err = worker.handle(handler)(ctx, asynq.NewTask(string(TaskContractAnalyze), []byte(taskID)))
		require.NoError(t, err)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, task.Status)
		assert.Equal(t, 1, task.Attempts)
		assert.NotNil(t, task.StartedAt)

		info := NewTaskInfo(task)
		assert.Equal(t, 100.0, info.Progress)
		assert.Contains(t, string(info.Result), `"found":4`)
	})

	t.Run("Failed analysis keeps partial result", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "contract-8", testPayload("contract-8"))
		require.NoError(t, err)

		handler := NewAnalyzeHandler(q, func(ctx context.Context, p AnalyzePayload) (*AnalyzeResult, error) {
			return &AnalyzeResult{ContractID: p.ContractID, Total: 5, Found: 1, Errors: 4}, errors.New("provider unavailable")
		}, nil)
		worker := NewRedisWorker(q, nil)

		err = worker.handle(handler)(ctx, asynq.NewTask(string(TaskContractAnalyze), []byte(taskID)))
		require.Error(t, err)

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
		assert.Equal(t, "provider unavailable", task.Error)
		assert.Contains(t, string(task.Result), `"errors":4`)
	})

	t.Run("Invalid payload is not retried", func(t *testing.T) {
		taskID, err := q.Enqueue(ctx, TaskContractAnalyze, "", nil)
		require.NoError(t, err)

		handler := NewAnalyzeHandler(q, func(ctx context.Context, p AnalyzePayload) (*AnalyzeResult, error) {
			t.Fatal("analysis must not run for an invalid payload")
			return nil, nil
		}, nil)
		worker := NewRedisWorker(q, nil)

		err = worker.handle(handler)(ctx, asynq.NewTask(string(TaskContractAnalyze), []byte(taskID)))
		require.Error(t, err)
		assert.True(t, errors.Is(err, asynq.SkipRetry))

		task, err := q.GetTask(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, task.Status)
	})

	t.Run("Unknown task is skipped", func(t *testing.T) {
		worker := NewRedisWorker(q, nil)
		handler := NewAnalyzeHandler(q, nil, nil)
		err := worker.handle(handler)(ctx, asynq.NewTask(string(TaskContractAnalyze), []byte("missing")))
		assert.True(t, errors.Is(err, asynq.SkipRetry))
	})
}

func TestTaskInfo(t *testing.T) {
	now := time.Now()
	startedAt := now.Add(-5 * time.Minute)
	task := &Task{
		ID:         "task-123",
		Type:       TaskContractAnalyze,
		ContractID: "contract-123",
		Status:     StatusProcessing,
		CreatedAt:  now.Add(-10 * time.Minute),
		StartedAt:  &startedAt,
	}

	info := NewTaskInfo(task)
	assert.Equal(t, task.ID, info.ID)
	assert.Equal(t, task.ContractID, info.ContractID)
	assert.Equal(t, task.StartedAt, info.StartedAt)
	assert.Equal(t, 50.0, info.Progress)

	task.Status = StatusPending
	assert.Equal(t, 0.0, NewTaskInfo(task).Progress)
	assert.False(t, StatusPending.Done())
	assert.True(t, StatusFailed.Done())
}
