package retriever

import (
	"math"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
)

// MMR 最大边际相关性选择
// 每轮选出 λ·相关度 − (1−λ)·与已选分块的最大相似度 最大的候选，得分相同时取 chunk_index 较小者
func MMR(candidates []models.ScoredChunk, k int, lambda float32) []models.ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return []models.ScoredChunk{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]models.ScoredChunk, 0, k)
	used := make([]bool, len(candidates))
	// maxSim[i] 候选 i 与已选集合的最大相似度
	maxSim := make([]float32, len(candidates))
	for i := range maxSim {
		maxSim[i] = float32(math.Inf(-1))
	}

	for len(selected) < k {
		best := -1
		var bestScore float32
		for i, c := range candidates {
			if used[i] {
				continue
			}
			score := lambda * c.Similarity
			if len(selected) > 0 {
				score -= (1 - lambda) * maxSim[i]
			}
			if best < 0 || score > bestScore ||
				(score == bestScore && c.Chunk.ChunkIndex < candidates[best].Chunk.ChunkIndex) {
				best, bestScore = i, score
			}
		}

		used[best] = true
		chosen := candidates[best]
		selected = append(selected, chosen)

		for i, c := range candidates {
			if used[i] {
				continue
			}
			if sim := vectordb.CosineSimilarity(c.Vector, chosen.Vector); sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return selected
}
