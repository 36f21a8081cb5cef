// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Reranker      RerankerConfig      `mapstructure:"reranker"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Quiz          QuizConfig          `mapstructure:"quiz"`
	Task          TaskConfig          `mapstructure:"task"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	// Driver 为 mysql 或 sqlite。
	Driver string       `mapstructure:"driver"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQLiteConfig 存储嵌入式 SQLite 的配置，适合单机部署和本地开发。
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 校验相关的配置。令牌由外部签发，这里只负责验证。
type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	SecretBase64 bool   `mapstructure:"secret_base64"`
	Issuer       string `mapstructure:"issuer"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
	Workers int    `mapstructure:"workers"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
	Dims      int    `mapstructure:"dims"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// ModelEndpoint 描述一个 OpenAI 兼容的模型候选项。
type ModelEndpoint struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。候选项按顺序探测，取第一个可用的。
type EmbeddingConfig struct {
	Candidates        []ModelEndpoint `mapstructure:"candidates"`
	BatchSize         int             `mapstructure:"batch_size"`
	Concurrency       int             `mapstructure:"concurrency"`
	RequestsPerSecond float64         `mapstructure:"requests_per_second"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Candidates []ModelEndpoint     `mapstructure:"candidates"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RerankerConfig 存储交叉编码器重排服务的配置。全部候选不可用时检索退化为纯 MMR。
type RerankerConfig struct {
	Candidates []ModelEndpoint `mapstructure:"candidates"`
}

// IngestionConfig 控制入库任务。
type IngestionConfig struct {
	ChunkSize       int           `mapstructure:"chunk_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// RetrievalConfig 控制检索参数。
type RetrievalConfig struct {
	K              int     `mapstructure:"k"`
	FetchK         int     `mapstructure:"fetch_k"`
	TopN           int     `mapstructure:"top_n"`
	FallbackK      int     `mapstructure:"fallback_k"`
	FallbackFetchK int     `mapstructure:"fallback_fetch_k"`
	MMRLambda      float64 `mapstructure:"mmr_lambda"`
}

// QuizConfig 控制出题和批改。
type QuizConfig struct {
	RetrievalAttempts  int           `mapstructure:"retrieval_attempts"`
	RetrievalDelay     time.Duration `mapstructure:"retrieval_delay"`
	GradingConcurrency int           `mapstructure:"grading_concurrency"`
}

// TaskConfig 控制任务状态存储。
type TaskConfig struct {
	ResultTTL time.Duration `mapstructure:"result_ttl"`
}

// SetDefaults 注册默认值，最小化的配置文件也能启动。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.sqlite.path", "dodream.db")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "embedding-tasks")
	v.SetDefault("kafka.group_id", "embedding-workers")
	v.SetDefault("kafka.workers", 2)
	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.index_name", "material_vectors")
	v.SetDefault("elasticsearch.dims", 1536)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.concurrency", 4)
	v.SetDefault("embedding.requests_per_second", 10)
	v.SetDefault("ingestion.chunk_size", 1000)
	v.SetDefault("ingestion.chunk_overlap", 100)
	v.SetDefault("ingestion.max_retries", 3)
	v.SetDefault("ingestion.retry_delay", 60*time.Second)
	v.SetDefault("ingestion.download_timeout", 60*time.Second)
	v.SetDefault("retrieval.k", 10)
	v.SetDefault("retrieval.fetch_k", 20)
	v.SetDefault("retrieval.top_n", 3)
	v.SetDefault("retrieval.fallback_k", 5)
	v.SetDefault("retrieval.fallback_fetch_k", 15)
	v.SetDefault("retrieval.mmr_lambda", 0.5)
	v.SetDefault("quiz.retrieval_attempts", 3)
	v.SetDefault("quiz.retrieval_delay", 2*time.Second)
	v.SetDefault("quiz.grading_concurrency", 4)
	v.SetDefault("task.result_ttl", time.Hour)
}

// Load 读取 .env（可选）与 YAML 配置文件，环境变量可覆盖任意键，
// 如 LLM_GENERATION_TEMPERATURE 覆盖 llm.generation.temperature。
func Load(configPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("读取 .env 文件失败: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	expandEndpoints(c.Embedding.Candidates)
	expandEndpoints(c.LLM.Candidates)
	expandEndpoints(c.Reranker.Candidates)
	return c, nil
}

// expandEndpoints 展开候选项中的 ${VAR} 引用，密钥不必写进配置文件。
func expandEndpoints(eps []ModelEndpoint) {
	for i := range eps {
		eps[i].APIKey = os.ExpandEnv(eps[i].APIKey)
		eps[i].BaseURL = os.ExpandEnv(eps[i].BaseURL)
	}
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = c
}
