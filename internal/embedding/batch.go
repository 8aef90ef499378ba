package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 并行批处理器
// 将大量分块文本拆成多个批次，用工作池并行请求嵌入服务
type BatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作线程数
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16 // 默认批量大小
	}
	if maxWorkers <= 0 {
		maxWorkers = 4 // 默认工作线程数
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Process 处理一批文本，返回的向量顺序与输入一致
// 任一批次失败时返回第一个错误
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
	}

	batches := splitIntoBatches(texts, p.batchSize)
	results := make([][][]float32, len(batches))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp := workerpool.New(p.maxWorkers)
	var (
		processingErr error
		errOnce       sync.Once
	)

	for i, batch := range batches {
		i, batch := i, batch
		wp.Submit(func() {
			if ctx.Err() != nil {
				return
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)
			if err == nil && len(vectors) != len(batch) {
				err = ErrEmptyResponse
			}
			if err != nil {
				errOnce.Do(func() {
					processingErr = fmt.Errorf("batch %d processing error: %w", i, err)
					cancel()
				})
				return
			}
			// 每个批次只写自己的位置，无需加锁
			results[i] = vectors
		})
	}

	// 等待所有任务完成
	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := make([][]float32, 0, len(texts))
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

// splitIntoBatches 将文本列表分割成多个批次
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = len(texts)
	}
	if batchSize == 0 {
		return nil
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}
	return batches
}
