// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

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
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Digest        DigestConfig        `mapstructure:"digest"`
	Queue         QueueConfig         `mapstructure:"queue"`
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

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时不发布事件。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型相关的配置，摘要和翻译任务使用。
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// UploadConfig 控制上传批次的准入规则。
type UploadConfig struct {
	MaxFileSize int64 `mapstructure:"max_file_size"`
	// MaxBatchFiles 是单次提交允许的最大文件数。历史上存在 10 和 20 两个取值，这里统一为一个配置项。
	MaxBatchFiles      int           `mapstructure:"max_batch_files"`
	SkipDuplicateCheck bool          `mapstructure:"skip_duplicate_check"`
	CompletedGrace     time.Duration `mapstructure:"completed_grace"`
}

// DigestConfig 控制内容指纹的计算方式。
type DigestConfig struct {
	Algorithm   string `mapstructure:"algorithm"` // sha256 | fallback
	Concurrency int    `mapstructure:"concurrency"`
}

// QueueConfig 控制后台任务队列。
type QueueConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
	TaskTimeout   time.Duration `mapstructure:"task_timeout"`
	SnapshotKey   string        `mapstructure:"snapshot_key"`
}

// envOnlyKeys 没有默认值，但仍需能被环境变量覆盖。viper 只对已知的键应用 AutomaticEnv。
var envOnlyKeys = []string{
	"database.mysql.dsn",
	"database.redis.addr",
	"database.redis.password",
	"jwt.secret",
	"kafka.brokers",
	"tika.server_url",
	"elasticsearch.addresses",
	"elasticsearch.username",
	"elasticsearch.password",
	"minio.endpoint",
	"minio.access_key_id",
	"minio.secret_access_key",
	"llm.api_key",
	"llm.base_url",
	"llm.model",
}

// setDefaults 注册所有默认值，配置文件缺失时也能得到一份可运行的配置。
func setDefaults(v *viper.Viper) {
	for _, key := range envOnlyKeys {
		_ = v.BindEnv(key)
	}
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("kafka.topic", "course-intake-events")
	v.SetDefault("elasticsearch.index_name", "course_files")
	v.SetDefault("minio.bucket_name", "course-files")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 800)

	v.SetDefault("upload.max_file_size", 50*1024*1024)
	v.SetDefault("upload.max_batch_files", 10)
	v.SetDefault("upload.skip_duplicate_check", false)
	v.SetDefault("upload.completed_grace", 1500*time.Millisecond)

	v.SetDefault("digest.algorithm", "sha256")
	v.SetDefault("digest.concurrency", 4)

	v.SetDefault("queue.concurrency", 3)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.retry_interval", 5*time.Second)
	v.SetDefault("queue.sweep_interval", 5*time.Second)
	v.SetDefault("queue.retention", 24*time.Hour)
	v.SetDefault("queue.task_timeout", 2*time.Minute)
	v.SetDefault("queue.snapshot_key", "intake:ai-processing-queue")
}

// Load 读取配置文件并叠加 INTAKE_ 前缀的环境变量。configPath 为空或文件不存在时只使用默认值。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
