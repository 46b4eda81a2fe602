package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort string `mapstructure:"APP_PORT"`
	AppMode string `mapstructure:"APP_MODE"`
	// CORSOrigins is a comma separated allow list; "*" allows any origin.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// StoreDriver selects the gateway: "memory" or "postgres".
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	DBPort      string `mapstructure:"DB_PORT"`

	JWTSecret    string `mapstructure:"JWT_SECRET"`
	JWTExpiryMin int    `mapstructure:"JWT_EXPIRY_MIN"`

	// An empty RedisHost runs without the Redis mirror, counters and limiter.
	RedisHost     string `mapstructure:"REDIS_HOST"`
	RedisPort     string `mapstructure:"REDIS_PORT"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	KafkaBrokers      string `mapstructure:"KAFKA_BROKERS"`
	KafkaOfflineTopic string `mapstructure:"KAFKA_OFFLINE_TOPIC"`

	S3Region     string `mapstructure:"S3_REGION"`
	S3Bucket     string `mapstructure:"S3_BUCKET"`
	S3AccessKey  string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey  string `mapstructure:"S3_SECRET_KEY"`
	S3Endpoint   string `mapstructure:"S3_ENDPOINT"`
	S3PublicBase string `mapstructure:"S3_PUBLIC_BASE"`

	PersistTimeout        time.Duration `mapstructure:"PERSIST_TIMEOUT"`
	TypingTTL             time.Duration `mapstructure:"TYPING_TTL"`
	SendBuffer            int           `mapstructure:"SEND_BUFFER"`
	MaxConnectionsPerUser int           `mapstructure:"MAX_CONNECTIONS_PER_USER"`
	MessageRateLimit      int           `mapstructure:"MESSAGE_RATE_LIMIT"`
	MessageRateWindow     time.Duration `mapstructure:"MESSAGE_RATE_WINDOW"`
	RequestRateLimit      int           `mapstructure:"REQUEST_RATE_LIMIT"`

	// SeedGroups lists groups created at startup as "id:member1,member2;id2:...".
	SeedGroups string `mapstructure:"SEED_GROUPS"`
}

var defaults = map[string]interface{}{
	"APP_PORT":                 "8080",
	"APP_MODE":                 "debug",
	"CORS_ORIGINS":             "*",
	"STORE_DRIVER":             "memory",
	"DB_HOST":                  "localhost",
	"DB_USER":                  "postgres",
	"DB_PASSWORD":              "postgres",
	"DB_NAME":                  "corpchat",
	"DB_PORT":                  "5432",
	"JWT_SECRET":               "change-me",
	"JWT_EXPIRY_MIN":           24 * 60,
	"REDIS_HOST":               "",
	"REDIS_PORT":               "6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"KAFKA_BROKERS":            "",
	"KAFKA_OFFLINE_TOPIC":      "corpchat.offline",
	"S3_REGION":                "",
	"S3_BUCKET":                "",
	"S3_ACCESS_KEY":            "",
	"S3_SECRET_KEY":            "",
	"S3_ENDPOINT":              "",
	"S3_PUBLIC_BASE":           "",
	"PERSIST_TIMEOUT":          "10s",
	"TYPING_TTL":               "3s",
	"SEND_BUFFER":              256,
	"MAX_CONNECTIONS_PER_USER": 10,
	"MESSAGE_RATE_LIMIT":       60,
	"MESSAGE_RATE_WINDOW":      "1m",
	"REQUEST_RATE_LIMIT":       120,
	"SEED_GROUPS":              "",
}

// LoadConfig reads .env if present, then an optional YAML file named by CONFIG_FILE, then
// the environment. Later sources win.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("STORE_DRIVER must be memory or postgres, got %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.PersistTimeout <= 0 || c.TypingTTL <= 0 {
		return fmt.Errorf("PERSIST_TIMEOUT and TYPING_TTL must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be positive")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return c.RedisHost + ":" + c.RedisPort
}

func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryMin) * time.Minute
}

func (c *Config) Origins() []string {
	return splitList(c.CORSOrigins, ",")
}

func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers, ",")
}

// Groups parses SeedGroups into group ID to member IDs.
func (c *Config) Groups() (map[string][]string, error) {
	out := make(map[string][]string)
	for _, entry := range splitList(c.SeedGroups, ";") {
		id, members, ok := strings.Cut(entry, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("SEED_GROUPS entry %q must look like id:member1,member2", entry)
		}
		out[id] = splitList(members, ",")
	}
	return out, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
