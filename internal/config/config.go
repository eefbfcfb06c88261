// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 KL_EMBEDDING_API_KEY 覆盖 embedding.api_key。
const EnvPrefix = "KL"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Qdrant        QdrantConfig        `mapstructure:"qdrant"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Fetcher       FetcherConfig       `mapstructure:"fetcher"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Search        SearchConfig        `mapstructure:"search"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 为空 Addr 时不启用 Redis（embedding 缓存、Kafka 重试计数随之关闭）。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// QueueConfig 控制后台摄取任务的执行方式。
// Mode 为 local 时使用进程内有界 worker 池，为 kafka 时通过 Kafka 投递，
// inline 在请求 goroutine 中同步处理，只能由命令行工具在 Load 之后设置，配置文件中会被拒绝。
type QueueConfig struct {
	Mode        string        `mapstructure:"mode"`
	Workers     int           `mapstructure:"workers"`
	Buffer      int           `mapstructure:"buffer"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type KafkaConfig struct {
	Brokers   string `mapstructure:"brokers"`
	Topic     string `mapstructure:"topic"`
	GroupID   string `mapstructure:"group_id"`
	Consumers int    `mapstructure:"consumers"`
}

// TikaConfig 为空时 PDF 按原始字节截断处理。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// VectorConfig 选择 ANN 索引后端：elasticsearch、qdrant 或 none（仅用 MySQL 暴力检索）。
type VectorConfig struct {
	Index         string `mapstructure:"index"`
	FallbackLimit int    `mapstructure:"fallback_limit"`
}

type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`

	// InsecureSkipVerify 用于自签名证书的本地集群
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

// MinIOConfig 为空 Endpoint 时不保存原始页面快照。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。APIKey 为空即视为功能不可用。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// LLMConfig 存储摘要/标题生成模型的配置。
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RateLimit   float64       `mapstructure:"rate_limit"`
}

type FetcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	UserAgent    string        `mapstructure:"user_agent"`
}

type ChunkerConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type SearchConfig struct {
	DefaultLimit     int     `mapstructure:"default_limit"`
	MaxLimit         int     `mapstructure:"max_limit"`
	DefaultThreshold float64 `mapstructure:"default_threshold"`
}

func setDefaults(v *viper.Viper) {
	// 没有默认值的键也需要注册，AutomaticEnv 才能在 Unmarshal 时生效
	for _, key := range []string{
		"database.mysql.dsn", "database.redis.addr", "database.redis.password",
		"jwt.secret", "log.output_path", "kafka.brokers", "tika.server_url",
		"elasticsearch.addresses", "elasticsearch.username", "elasticsearch.password",
		"qdrant.api_key", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
		"embedding.api_key", "llm.api_key", "fetcher.user_agent",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("qdrant.use_tls", false)
	v.SetDefault("elasticsearch.insecure_skip_verify", false)
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)

	v.SetDefault("queue.mode", "local")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.buffer", 64)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.task_timeout", 5*time.Minute)
	v.SetDefault("kafka.topic", "link-ingest")
	v.SetDefault("kafka.group_id", "knowledgelink-ingest")
	v.SetDefault("kafka.consumers", 2)

	v.SetDefault("vector.index", "elasticsearch")
	v.SetDefault("vector.fallback_limit", 1000)
	v.SetDefault("elasticsearch.index_name", "link_chunks")
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "link_chunks")
	v.SetDefault("minio.bucket_name", "link-snapshots")

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 100)
	v.SetDefault("embedding.timeout", 60*time.Second)
	v.SetDefault("embedding.rate_limit", 5)
	v.SetDefault("embedding.cache_ttl", 24*time.Hour)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 500)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.rate_limit", 2)

	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.max_body_bytes", 10<<20)

	v.SetDefault("chunker.size", 1000)
	v.SetDefault("chunker.overlap", 200)

	v.SetDefault("search.default_limit", 10)
	v.SetDefault("search.max_limit", 50)
	v.SetDefault("search.default_threshold", 0.7)
}

// Load 从指定的 YAML 文件读取配置，允许环境变量与 .env 覆盖。
// configPath 为空时只使用默认值和环境变量。
func Load(configPath string) (*Config, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Init 与 Load 相同，但失败时直接 panic，供 main 使用。
func Init(configPath string) *Config {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	switch c.Queue.Mode {
	case "local":
	case "inline":
		// inline 会让保存链接的请求同步等待整个摄取流程，只允许命令行在加载配置后设置
		return fmt.Errorf("queue.mode=inline 只能由 linkctl 使用")
	case "kafka":
		if c.Kafka.Brokers == "" {
			return fmt.Errorf("queue.mode=kafka 需要配置 kafka.brokers")
		}
	default:
		return fmt.Errorf("未知的 queue.mode: %q", c.Queue.Mode)
	}
	switch c.Vector.Index {
	case "elasticsearch", "qdrant", "none":
	default:
		return fmt.Errorf("未知的 vector.index: %q", c.Vector.Index)
	}
	if c.Chunker.Size <= 0 {
		return fmt.Errorf("chunker.size 必须大于 0")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("chunker.overlap 必须在 [0, size) 之间")
	}
	if c.Search.MaxLimit <= 0 || c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit 必须在 [1, max_limit] 之间")
	}
	return nil
}

// BrokerList 返回拆分后的 Kafka broker 列表。
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
