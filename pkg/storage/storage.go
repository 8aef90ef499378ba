package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
)

// 对象键前缀
const (
	ContractPrefix = "contracts" // 上传的合同文件
	ReportPrefix   = "reports"   // 导出的分析报告
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// FileInfo 文件元数据结构
type FileInfo struct {
	ID       string // 文件唯一标识符
	Key      string // 存储键，Get/Delete 使用
	Name     string // 原始文件名
	Size     int64  // 文件大小(字节)
	MimeType string // 文件MIME类型
}

// Storage 文件存储接口
// 合同上传使用随机ID命名，报告导出使用调用方给定的键
type Storage interface {
	// Save 以随机ID保存上传的合同文件
	Save(ctx context.Context, reader io.Reader, filename string) (FileInfo, error)

	// Put 以指定键保存对象，已存在时覆盖
	Put(ctx context.Context, key string, reader io.Reader) (FileInfo, error)

	// Get 获取对象内容
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete 删除对象
	Delete(ctx context.Context, key string) error

	// List 列出指定前缀下的对象
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)
}

// Config 存储配置
type Config struct {
	Type  string // local 或 minio
	Local LocalConfig
	Minio MinioConfig
}

// New 根据配置创建存储
func New(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// ReportKey 报告导出的存储键
func ReportKey(contractID, name string) string {
	return path.Join(ReportPrefix, contractID, name)
}

// cleanKey 规范化存储键，拒绝跳出根目录的键
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return k, nil
}

// contractKey 上传合同的存储键
func contractKey(id, filename string) string {
	return path.Join(ContractPrefix, id+strings.ToLower(filepath.Ext(filename)))
}

// getMimeType 根据文件扩展名判断MIME类型
func getMimeType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
