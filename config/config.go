package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"athome-scraper/models"
)

// Fetch strategies selectable with FETCH_STRATEGY.
const (
	StrategyHTTP    = "http"
	StrategyBrowser = "browser"
)

// Store backends selectable with STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	Store            string

	SearchURL      string
	FetchStrategy  string
	UserAgent      string
	ChromeBin      string
	MaxPages       int
	MaxConcurrency int
	MaxRetries     int
	RequestDelay   time.Duration
	Timeout        time.Duration

	RubricPath string
	Rubric     models.Rubric

	LogLevel  string
	LogFormat string

	ExportDir    string
	ExportGrades []models.Grade

	NotifyGrades  []models.Grade
	NotifyNewOnly bool
	AMQPURL       string
	AMQPExchange  string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	S3Key      string
	S3Secret   string

	APIAddr       string
	ScheduleHours []int
	ScheduleTZ    string
}

// Load reads the .env file and returns a populated Config struct. The rubric
// file, when RUBRIC_PATH is set, is layered over the default rubric.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "properties"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		Store:            strings.ToLower(getEnv("STORE", StorePostgres)),

		SearchURL:      getEnv("ATHOME_SEARCH_URL", "https://www.athome.co.jp/tochi/chuko/oita/oita-city/list/"),
		FetchStrategy:  strings.ToLower(getEnv("FETCH_STRATEGY", StrategyHTTP)),
		UserAgent:      getEnv("USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		ChromeBin:      getEnv("CHROME_BIN", ""),
		MaxPages:       getEnvInt("MAX_PAGES", 10),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RequestDelay:   getEnvDuration("REQUEST_DELAY", 2*time.Second),
		Timeout:        getEnvDuration("TIMEOUT", 30*time.Second),

		RubricPath: getEnv("RUBRIC_PATH", ""),

		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		ExportDir:    getEnv("EXPORT_DIR", "./exports"),
		ExportGrades: getEnvGrades("EXPORT_GRADES", []models.Grade{models.GradeS, models.GradeA, models.GradeB}),

		NotifyGrades:  getEnvGrades("NOTIFY_GRADES", []models.Grade{models.GradeS, models.GradeA}),
		NotifyNewOnly: getEnvBool("NOTIFY_NEW_ONLY", true),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "listings"),

		S3Bucket:   getEnv("S3_BUCKET", ""),
		S3Region:   getEnv("S3_REGION", "ap-northeast-1"),
		S3Endpoint: getEnv("S3_ENDPOINT", ""),
		S3Prefix:   getEnv("S3_PREFIX", "exports"),
		S3Key:      getEnv("S3_ACCESS_KEY", ""),
		S3Secret:   getEnv("S3_SECRET_KEY", ""),

		APIAddr:       getEnv("API_ADDR", ":8080"),
		ScheduleHours: getEnvInts("SCHEDULE_HOURS", []int{9, 12, 15, 17}),
		ScheduleTZ:    getEnv("SCHEDULE_TZ", "Asia/Tokyo"),
	}

	rubric, err := LoadRubric(cfg.RubricPath)
	if err != nil {
		return nil, err
	}
	cfg.Rubric = rubric

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func getEnvInts(key string, fallback []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}

func getEnvGrades(key string, fallback []models.Grade) []models.Grade {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	grades, err := ParseGrades(val)
	if err != nil {
		return fallback
	}
	return grades
}
