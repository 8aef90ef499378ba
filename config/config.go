package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIKeyEnv API密钥的环境变量名，配置文件未设置时使用
const APIKeyEnv = "CONTRACT_API_KEY"

// Config 应用程序配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	VectorDB  VectorDBConfig  `mapstructure:"vectordb"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Embed     EmbedConfig     `mapstructure:"embed"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Document  DocumentConfig  `mapstructure:"document"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	QA        QAConfig        `mapstructure:"qa"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`          // 服务器主机
	Port         int           `mapstructure:"port"`          // 服务器端口
	Mode         string        `mapstructure:"mode"`          // gin运行模式：debug, release
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 读取超时
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 写入超时，需覆盖整次合同分析
	MaxUploadMB  int           `mapstructure:"max_upload_mb"` // 上传文件大小上限
	CORS         bool          `mapstructure:"cors"`          // 允许跨域请求，用于本地前端开发
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	File       string `mapstructure:"file"`        // 日志文件，为空时只输出到标准输出
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // 单个日志文件大小上限
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数
	MaxAgeDays int    `mapstructure:"max_age"`     // 旧日志保留天数
}

// AuthConfig 接口鉴权配置
type AuthConfig struct {
	APIKey    string  `mapstructure:"api_key"`    // X-API-Key 期望值
	RateLimit float64 `mapstructure:"rate_limit"` // 每个客户端每秒请求数，0表示不限流
	Burst     int     `mapstructure:"burst"`      // 突发请求数
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// VectorDBConfig 向量数据库配置
type VectorDBConfig struct {
	Type string `mapstructure:"type"` // 向量数据库类型：memory, sqlite, faiss
	Path string `mapstructure:"path"` // 持久化路径
	Dim  int    `mapstructure:"dim"`  // 向量维度
}

// LLMConfig 大语言模型配置
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`    // 提供商：ollama, openai
	Model       string        `mapstructure:"model"`       // 模型名称
	APIKey      string        `mapstructure:"api_key"`     // API密钥
	Endpoint    string        `mapstructure:"endpoint"`    // API端点
	MaxTokens   int           `mapstructure:"max_tokens"`  // 最大生成token数量
	Temperature float32       `mapstructure:"temperature"` // 采样温度
	Timeout     time.Duration `mapstructure:"timeout"`     // 请求超时
	MaxRetries  int           `mapstructure:"max_retries"` // 最大重试次数
}

// EmbedConfig 向量嵌入模型配置
type EmbedConfig struct {
	Provider   string        `mapstructure:"provider"`   // 提供商：ollama, openai, hash
	Model      string        `mapstructure:"model"`      // 模型名称
	APIKey     string        `mapstructure:"api_key"`    // API密钥（如果需要）
	Endpoint   string        `mapstructure:"endpoint"`   // API端点
	BatchSize  int           `mapstructure:"batch_size"` // 批处理大小
	Dimensions int           `mapstructure:"dimensions"` // 向量维度
	Timeout    time.Duration `mapstructure:"timeout"`    // 请求超时
	Cache      bool          `mapstructure:"cache"`      // 是否缓存嵌入向量
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable   bool   `mapstructure:"enable"`    // 是否启用缓存
	Type     string `mapstructure:"type"`      // 缓存类型：memory 或 redis
	Address  string `mapstructure:"address"`   // Redis地址
	Password string `mapstructure:"password"`  // Redis密码
	DB       int    `mapstructure:"db"`        // Redis数据库
	Prefix   string `mapstructure:"prefix"`    // 键前缀
	TTL      int    `mapstructure:"ttl"`       // 缓存TTL（秒）
	MaxItems int    `mapstructure:"max_items"` // 内存缓存条目上限
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool          `mapstructure:"enable"`         // 是否启用任务队列
	Type          string        `mapstructure:"type"`           // 队列类型：redis
	RedisAddr     string        `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string        `mapstructure:"redis_password"` // Redis密码
	RedisDB       int           `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int           `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int           `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int           `mapstructure:"retry_delay"`    // 重试延迟(秒)
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`   // 单个任务处理超时
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // 数据库类型：sqlite
	DSN  string `mapstructure:"dsn"`  // 数据源名称
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`    // 分块大小（字符）
	ChunkOverlap int `mapstructure:"chunk_overlap"` // 分块重叠大小（字符）
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	K                 int     `mapstructure:"k"`                  // 每个条款最终使用的分块数
	FetchK            int     `mapstructure:"fetch_k"`            // MMR候选池大小，0表示自动
	Lambda            float32 `mapstructure:"lambda"`             // MMR权衡系数
	MinScore          float32 `mapstructure:"min_score"`          // 相似度下限
	Rerank            bool    `mapstructure:"rerank"`             // 是否启用模型重排序
	RerankConcurrency int     `mapstructure:"rerank_concurrency"` // 重排序并发数
}

// RiskRuleConfig 单个条款的风险关键词
type RiskRuleConfig struct {
	High []string `mapstructure:"high"`
	Low  []string `mapstructure:"low"`
}

// AnalysisConfig 条款分析配置
type AnalysisConfig struct {
	Concurrency int                       `mapstructure:"concurrency"` // 条款并发分析数
	Timeout     time.Duration             `mapstructure:"timeout"`     // 单次合同分析超时，0表示不限
	Redline     bool                      `mapstructure:"redline"`     // 默认是否生成修订建议
	MaxTokens   int                       `mapstructure:"max_tokens"`  // 分析生成的最大token数
	RiskRules   map[string]RiskRuleConfig `mapstructure:"risk_rules"`  // 按条款名称覆盖风险关键词
}

// QAConfig 合同问答配置
type QAConfig struct {
	TopK     int           `mapstructure:"top_k"`     // 检索分块数
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // 答案缓存时间
}

// Load 从文件和环境变量加载配置
// 配置文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	// .env 不存在不是错误
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Printf("Warning: Config file not found at %s, using defaults", configPath)
		} else {
			log.Printf("Using config file: %s", v.ConfigFileUsed())
		}
	}

	// 支持环境变量覆盖，例如 LLM_MODEL 覆盖 llm.model
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	processEnvironmentVariables(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var envRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// expandEnv 把形如 ${VAR} 的值替换为环境变量
// 环境变量未设置时返回空字符串，避免把占位符当作密钥使用
func expandEnv(value string) string {
	m := envRefPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return value
	}
	return os.Getenv(m[1])
}

// processEnvironmentVariables 处理配置项中的环境变量引用
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Auth.APIKey,
		&cfg.LLM.APIKey,
		&cfg.LLM.Endpoint,
		&cfg.Embed.APIKey,
		&cfg.Embed.Endpoint,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		*field = expandEnv(*field)
	}

	if cfg.Auth.APIKey == "" {
		cfg.Auth.APIKey = os.Getenv(APIKeyEnv)
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Document.ChunkSize <= 0 {
		return fmt.Errorf("document.chunk_size must be positive, got %d", c.Document.ChunkSize)
	}
	if c.Document.ChunkOverlap < 0 || c.Document.ChunkOverlap >= c.Document.ChunkSize {
		return fmt.Errorf("document.chunk_overlap must be in [0, chunk_size), got %d", c.Document.ChunkOverlap)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.FetchK != 0 && c.Retrieval.FetchK < c.Retrieval.K {
		return fmt.Errorf("retrieval.fetch_k must be at least k, got %d", c.Retrieval.FetchK)
	}
	if c.Retrieval.Lambda < 0 || c.Retrieval.Lambda > 1 {
		return fmt.Errorf("retrieval.lambda must be in [0, 1], got %v", c.Retrieval.Lambda)
	}
	if c.Analysis.Concurrency <= 0 {
		return fmt.Errorf("analysis.concurrency must be positive, got %d", c.Analysis.Concurrency)
	}
	return nil
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.cors", false)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	// 鉴权默认配置
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.rate_limit", 5)
	v.SetDefault("auth.burst", 10)

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/files")
	v.SetDefault("storage.bucket", "contracts")
	v.SetDefault("storage.use_ssl", false)

	// 向量数据库默认配置
	v.SetDefault("vectordb.type", "sqlite")
	v.SetDefault("vectordb.path", "./data/vectors.db")
	v.SetDefault("vectordb.dim", 768) // nomic-embed-text 维度

	// LLM默认配置
	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "llama3.2")
	v.SetDefault("llm.endpoint", "http://localhost:11434")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.max_retries", 3)

	// Embedding默认配置
	v.SetDefault("embed.provider", "ollama")
	v.SetDefault("embed.model", "nomic-embed-text")
	v.SetDefault("embed.endpoint", "http://localhost:11434")
	v.SetDefault("embed.batch_size", 16)
	v.SetDefault("embed.dimensions", 768)
	v.SetDefault("embed.timeout", "60s")
	v.SetDefault("embed.cache", true)

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.prefix", "auditor")
	v.SetDefault("cache.ttl", 86400) // 1天
	v.SetDefault("cache.max_items", 50000)

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 2)
	v.SetDefault("queue.retry_limit", 1)
	v.SetDefault("queue.retry_delay", 30)
	v.SetDefault("queue.task_timeout", "15m")

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/auditor.db")

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)

	// 检索默认配置
	v.SetDefault("retrieval.k", 5)
	v.SetDefault("retrieval.fetch_k", 0)
	v.SetDefault("retrieval.lambda", 0.7)
	v.SetDefault("retrieval.min_score", 0.25)
	v.SetDefault("retrieval.rerank", false)
	v.SetDefault("retrieval.rerank_concurrency", 4)

	// 分析默认配置
	v.SetDefault("analysis.concurrency", 3)
	v.SetDefault("analysis.timeout", "10m")
	v.SetDefault("analysis.redline", false)
	v.SetDefault("analysis.max_tokens", 1024)

	// 问答默认配置
	v.SetDefault("qa.top_k", 3)
	v.SetDefault("qa.cache_ttl", "1h")
}
