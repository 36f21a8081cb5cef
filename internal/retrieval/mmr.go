package retrieval

import (
	"math"

	"dodream-rag-go/internal/vectorstore"
)

// MMR 以最大边际相关性从候选中选出 k 个，返回被选中候选的下标（按选中顺序）。
// 第一个总是与查询最相似的候选；之后每一步选择
// lambda*sim(query, d) - (1-lambda)*max(sim(d, 已选)) 最大的候选。
func MMR(query []float32, candidates []vectorstore.Hit, k int, lambda float64) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	querySim := make([]float64, len(candidates))
	for i, c := range candidates {
		querySim[i] = vectorstore.Cosine(query, c.Record.Vector)
	}

	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))
	// maxSim[i] 是候选 i 与已选集合的最大相似度
	maxSim := make([]float64, len(candidates))
	for i := range maxSim {
		maxSim[i] = math.Inf(-1)
	}

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			redundancy := 0.0
			if len(selected) > 0 {
				redundancy = maxSim[i]
			}
			score := lambda*querySim[i] - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		selected = append(selected, best)
		for i := range candidates {
			if used[i] {
				continue
			}
			if s := vectorstore.Cosine(candidates[i].Record.Vector, candidates[best].Record.Vector); s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected
}
