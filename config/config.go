package config

import (
	"log"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"checkinguard"`

	// PostgreSQL 配置
	PostgreSQLHost     string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort     string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser     string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase string `env:"POSTGRESQL_DATABASE" envDefault:"checkinguard"`
	PostgreSQLSchema   string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode  string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle  int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen  int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"cig"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// JWT 配置，只做身份校验，签发由账号服务负责
	JWTSecret string `env:"JWT_SECRET"`

	// 延迟任务回调入口的签名密钥
	TaskCallbackSecret string `env:"TASK_CALLBACK_SECRET"`
	// 设置后 worker 不在本地检测，而是签名回调 API 服务，例如 http://api:8888/internal/tasks/missed-check-in
	TaskCallbackURL       string `env:"TASK_CALLBACK_URL"`
	TaskCallbackTimeoutMS int    `env:"TASK_CALLBACK_TIMEOUT_MS" envDefault:"10000"`

	// 打卡规则
	GracePeriodMinutes      int      `env:"CHECKIN_GRACE_PERIOD_MINUTES" envDefault:"30"`
	EscalationThresholdDays int      `env:"ESCALATION_THRESHOLD_DAYS" envDefault:"2"`
	EscalationWindowHours   int      `env:"ESCALATION_WINDOW_HOURS" envDefault:"24"`
	DefaultSchedules        []string `env:"DEFAULT_CHECKIN_SCHEDULES" envSeparator:"," envDefault:"9:00 AM"`
	DefaultTimezone         string   `env:"DEFAULT_TIMEZONE" envDefault:"America/New_York"`

	// 兜底扫描
	SweepIntervalMinutes int `env:"SWEEP_INTERVAL_MINUTES" envDefault:"15"`
	SweepBatchSize       int `env:"SWEEP_BATCH_SIZE" envDefault:"500"`
	SweepConcurrency     int `env:"SWEEP_CONCURRENCY" envDefault:"8"`

	// 延迟任务创建重试
	TaskCreateMaxAttempts int `env:"TASK_CREATE_MAX_ATTEMPTS" envDefault:"3"`
	TaskRetryInitialMS    int `env:"TASK_RETRY_INITIAL_MS" envDefault:"1000"`

	// 推送 / 短信
	FirebaseCredentialsFile   string `env:"FIREBASE_CREDENTIALS_FILE"`
	PushProvider              string `env:"PUSH_PROVIDER" envDefault:"fcm"` // fcm, mock
	AliCloudAccessKeyID       string `env:"ALIBABA_CLOUD_ACCESS_KEY_ID"`
	AliCloudAccessKeySecret   string `env:"ALIBABA_CLOUD_ACCESS_KEY_SECRET"`
	SMSProvider               string `env:"SMS_PROVIDER" envDefault:"aliyun"` // aliyun, mock
	SMSSignName               string `env:"SMS_SIGN_NAME"`
	SMSEscalationTemplateCode string `env:"SMS_ESCALATION_TEMPLATE_CODE"`

	// 加密配置
	EncryptionKey string `env:"ENCRYPTION_KEY"` // 用于加密手机号，32字节 AES-256

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled      bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitRPS          int  `env:"RATE_LIMIT_RPS" envDefault:"100"` // 每秒请求数
	ScheduleEditPerMinute int  `env:"SCHEDULE_EDIT_PER_MINUTE" envDefault:"30"`
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

// validateConfig 只告警，不退出；必需项在各进程启动时由 MustValidate 检查
func validateConfig() {
	if Cfg.JWTSecret == "" {
		log.Printf("WARN: JWT_SECRET is not set, API authentication will reject every request")
	}
	if Cfg.TaskCallbackSecret == "" {
		log.Printf("WARN: TASK_CALLBACK_SECRET is not set, the task callback endpoint is disabled")
	}
	if Cfg.EncryptionKey != "" && len(Cfg.EncryptionKey) != 32 {
		log.Printf("WARN: ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if Cfg.SMSEscalationTemplateCode == "" {
		log.Printf("WARN: SMS_ESCALATION_TEMPLATE_CODE is not set, caregiver SMS will not be sent")
	}
	if Cfg.GracePeriodMinutes < 0 {
		log.Printf("WARN: CHECKIN_GRACE_PERIOD_MINUTES is negative, falling back to 30")
		Cfg.GracePeriodMinutes = 30
	}
}

// MustValidate 用于正式进程启动
func (c *Config) MustValidate() {
	if c.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if len(c.EncryptionKey) != 32 {
		log.Fatal("ENCRYPTION_KEY is required (32 bytes for AES-256)")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DefaultScheduleList 返回去掉空白项后的默认打卡时间
func (c *Config) DefaultScheduleList() []string {
	out := make([]string, 0, len(c.DefaultSchedules))
	for _, s := range c.DefaultSchedules {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		out = append(out, "9:00 AM")
	}
	return out
}
