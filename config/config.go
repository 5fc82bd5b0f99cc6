package config

import (
	"time"

	"github.com/JiscPER/jper-sub000/pkg/database"
	"github.com/JiscPER/jper-sub000/pkg/redis"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"jper-router"`
	AppVersion         string `env:"APP_VERSION" env-default:"dev"`
	Port               int    `env:"PORT" env-default:"3010"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"30"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"60"`
	ReadHeaderTimeoutSeconds      int      `env:"HTTP_SERVER_READ_HEADER_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,DELETE"`

	// Tracing
	TraceExporter     string        `env:"TRACE_EXPORTER" env-default:"console"`
	OTLPEndpoint      string        `env:"OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTLPProtocol      string        `env:"OTLP_PROTOCOL" env-default:"grpc"`
	OTLPInsecure      bool          `env:"OTLP_INSECURE" env-default:"true"`
	OTLPExportTimeout time.Duration `env:"OTLP_EXPORT_TIMEOUT" env-default:"10s"`

	// PostgreSQL (notifications, provenance, license register, subscribers)
	DatabaseHost                string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                int           `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"router"`
	DatabaseSSLMode             string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Redis (locks, register cache, dead letter queue)
	RedisHost             string        `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort             int           `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword         string        `env:"REDIS_PASSWORD" env-default:""`
	RedisDB               int           `env:"REDIS_DB" env-default:"0"`
	RedisKeyPrefix        string        `env:"REDIS_KEY_PREFIX" env-default:"router:"`
	RedisLockTTL          time.Duration `env:"REDIS_LOCK_TTL" env-default:"2m"`
	RegisterCacheEnabled  bool          `env:"REGISTER_CACHE_ENABLED" env-default:"true"`
	RegisterCacheTTL      time.Duration `env:"REGISTER_CACHE_TTL" env-default:"5m"`
	DeadLetterQueueStream string        `env:"DLQ_STREAM" env-default:"router:dlq"`

	// Graph Database (routing projection)
	GraphDBEnabled     bool   `env:"GRAPH_DB_ENABLED" env-default:"false"`
	GraphDBHost        string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort        int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser        string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword    string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBName        string `env:"GRAPH_DB_NAME" env-default:""`
	GraphDBMaxPoolSize int    `env:"GRAPH_DB_MAX_POOL_SIZE" env-default:"20"`

	// Kafka Consumer (unrouted notifications)
	KafkaBrokers         []string      `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string        `env:"KAFKA_INPUT_TOPIC" env-default:"notifications.unrouted"`
	KafkaConsumerGroup   string        `env:"KAFKA_CONSUMER_GROUP" env-default:"router-consumer"`
	KafkaConsumerEnabled bool          `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`
	KafkaMaxRetries      int           `env:"KAFKA_MAX_RETRIES" env-default:"3"`
	KafkaRetryBackoff    time.Duration `env:"KAFKA_RETRY_BACKOFF" env-default:"1s"`

	// Kafka Producer settings
	KafkaOutcomeTopic string `env:"KAFKA_OUTCOME_TOPIC" env-default:"notifications.outcomes"`
	KafkaPackageTopic string `env:"KAFKA_PACKAGE_TOPIC" env-default:"packages.repackage"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Content packages
	PackageStoreURL     string        `env:"PACKAGE_STORE_URL" env-default:"http://localhost:3020"`
	PackageStoreTimeout time.Duration `env:"PACKAGE_STORE_TIMEOUT" env-default:"30s"`
	PackageDownloadURL  string        `env:"PACKAGE_DOWNLOAD_URL" env-default:"http://localhost:3010"`
	ExtractionEnabled   bool          `env:"EXTRACTION_ENABLED" env-default:"true"`

	// Routing
	RoutingPolicyFile   string        `env:"ROUTING_POLICY_FILE" env-default:"routing.yml"`
	SchedulerEnabled    bool          `env:"SCHEDULER_ENABLED" env-default:"true"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL" env-default:"30s"`
	SchedulerBatchSize  int           `env:"SCHEDULER_BATCH_SIZE" env-default:"100"`
	SchedulerSettleTime time.Duration `env:"SCHEDULER_SETTLE_TIME" env-default:"1m"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" env-default:"30s"`
	HealthCheckGraph    bool          `env:"HEALTH_CHECK_GRAPH" env-default:"true"`
}

// Database returns the connection settings for the Postgres pool
func (c Config) Database() database.Config {
	return database.Config{
		Host:            c.DatabaseHost,
		Port:            c.DatabasePort,
		User:            c.DatabaseUserName,
		Password:        c.DatabasePassword,
		Name:            c.DatabaseName,
		SSLMode:         c.DatabaseSSLMode,
		MaxOpenConns:    c.DatabaseMaxOpenConns,
		MaxIdleConns:    c.DatabaseMaxIdleConns,
		ConnMaxLifetime: c.DatabaseConnMaxLifetime,
	}
}

// Migrations returns the schema migration settings
func (c Config) Migrations() database.MigrationConfig {
	return database.MigrationConfig{
		MigrationFolderPath: c.DatabaseMigrationFolderPath,
		Version:             uint(c.DatabaseMigrationVersion),
		Force:               c.DatabaseMigrationForce,
	}
}

// Redis returns the connection settings for the Redis client
func (c Config) Redis() redis.Config {
	return redis.Config{
		Host:      c.RedisHost,
		Port:      c.RedisPort,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.RedisKeyPrefix,
	}
}
