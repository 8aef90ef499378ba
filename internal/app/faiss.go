//go:build faiss

package app

// 使用 -tags faiss 构建时注册faiss向量仓库
import _ "github.com/fyerfyer/contract-auditor/internal/vectordb/faissdb"
