package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int
	AdminRole       string
	RateLimitRPS    float64
	RateLimitBurst  int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	MigrateOnStart   bool

	KafkaBrokers           []string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaRetryMax          int
	KafkaWriteMS           int
	TopicIssueChanges      string
	TopicAnalysisNewIssues string
	TopicEmails            string
	TopicDeadLetter        string

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	OutboxScanSec     int
	OutboxBatchSize   int
	OutboxMaxAttempts int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	ServerBaseURL            string
	ProductName              string
	EmailEnabled             bool
	EmailFromDefault         string
	NotificationCatalogPath  string
	MaxIssuesPerLink         int
	AuthorizationConcurrency int
	DeliveryDedupTTLSec      int
	RecipientCacheTTLSec     int
	DigestLockTTLSec         int

	PermissionBackend    string
	PermissionServiceURL string
	PermissionTimeoutMS  int
	PermissionRetryMax   int
	PermissionRPS        float64

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

const (
	PermissionBackendDB   = "db"
	PermissionBackendHTTP = "http"
)

func defaults(serviceName string, httpPort int) Config {
	return Config{
		ServiceName:              serviceName,
		HTTPPort:                 httpPort,
		LogLevel:                 "info",
		RequestTimeoutMS:         30000,
		JWKSTTLSeconds:           300,
		JWTClockSkewSec:          60,
		AdminRole:                "notifications-admin",
		RateLimitRPS:             5,
		RateLimitBurst:           10,
		DBMaxConns:               10,
		DBMinConns:               1,
		DBConnMaxIdleSec:         300,
		DBConnMaxLifeSec:         1800,
		KafkaRetryMax:            5,
		KafkaWriteMS:             5000,
		TopicIssueChanges:        "issues.changes",
		TopicAnalysisNewIssues:   "analysis.new-issues",
		TopicEmails:              "notifications.emails",
		TopicDeadLetter:          "notifications.dead-letter",
		AsynqQueue:               "default",
		AsynqConcurrency:         10,
		OutboxScanSec:            5,
		OutboxBatchSize:          50,
		OutboxMaxAttempts:        20,
		InfluxTimeoutMS:          5000,
		ProductName:              "SonarQube",
		EmailEnabled:             true,
		MaxIssuesPerLink:         40,
		AuthorizationConcurrency: 8,
		DeliveryDedupTTLSec:      86400,
		DigestLockTTLSec:         300,
		PermissionBackend:        PermissionBackendDB,
		PermissionTimeoutMS:      3000,
		PermissionRetryMax:       2,
		PermissionRPS:            50,
		OtelInsecure:             true,
		OtelSampleRatio:          1.0,
	}
}

// Load resolves defaults, then .env, then the JSON config file, then the
// process environment. Invalid values are reported and reset to defaults.
func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	problems := make([]Problem, 0, 4)
	if err := loadDotEnv(); err != nil {
		problems = append(problems, Problem{Field: "DOTENV", Message: err.Error()})
	}

	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	explicitPath := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	cfg := defaults(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = explicitPath
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, explicitPath != "")
	problems = append(problems, fileProblems...)
	if ok {
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	}

	applyEnv(&cfg, &problems)

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, defaults(serviceNameDefault, httpPortDefault), &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return cfg, problems
}

func validate(cfg *Config, def Config, problems *[]Problem) {
	check := func(bad bool, field string, msg string, reset func()) {
		if bad {
			*problems = append(*problems, Problem{Field: field, Message: msg})
			reset()
		}
	}
	check(cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535, "HTTP_PORT", "HTTP_PORT must be 1-65535", func() { cfg.HTTPPort = def.HTTPPort })
	check(cfg.RequestTimeoutMS <= 0, "REQUEST_TIMEOUT_MS", "REQUEST_TIMEOUT_MS must be > 0", func() { cfg.RequestTimeoutMS = def.RequestTimeoutMS })
	check(cfg.JWKSTTLSeconds <= 0, "JWKS_CACHE_TTL_SECONDS", "JWKS_CACHE_TTL_SECONDS must be > 0", func() { cfg.JWKSTTLSeconds = def.JWKSTTLSeconds })
	check(cfg.JWTClockSkewSec < 0, "JWT_CLOCK_SKEW_SECONDS", "JWT_CLOCK_SKEW_SECONDS must be >= 0", func() { cfg.JWTClockSkewSec = def.JWTClockSkewSec })
	check(cfg.RateLimitRPS <= 0, "RATE_LIMIT_RPS", "RATE_LIMIT_RPS must be > 0", func() { cfg.RateLimitRPS = def.RateLimitRPS })
	check(cfg.RateLimitBurst <= 0, "RATE_LIMIT_BURST", "RATE_LIMIT_BURST must be > 0", func() { cfg.RateLimitBurst = def.RateLimitBurst })
	check(cfg.DBMaxConns <= 0, "DB_MAX_CONNS", "DB_MAX_CONNS must be > 0", func() { cfg.DBMaxConns = def.DBMaxConns })
	check(cfg.DBMinConns < 0, "DB_MIN_CONNS", "DB_MIN_CONNS must be >= 0", func() { cfg.DBMinConns = def.DBMinConns })
	check(cfg.DBMinConns > cfg.DBMaxConns, "DB_MIN_CONNS", "DB_MIN_CONNS must be <= DB_MAX_CONNS", func() { cfg.DBMinConns = cfg.DBMaxConns })
	check(cfg.DBConnMaxIdleSec <= 0, "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_IDLE_SECONDS must be > 0", func() { cfg.DBConnMaxIdleSec = def.DBConnMaxIdleSec })
	check(cfg.DBConnMaxLifeSec <= 0, "DB_CONN_MAX_LIFETIME_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS must be > 0", func() { cfg.DBConnMaxLifeSec = def.DBConnMaxLifeSec })
	check(cfg.KafkaRetryMax < 0, "KAFKA_RETRY_MAX", "KAFKA_RETRY_MAX must be >= 0", func() { cfg.KafkaRetryMax = def.KafkaRetryMax })
	check(cfg.KafkaWriteMS <= 0, "KAFKA_WRITE_TIMEOUT_MS", "KAFKA_WRITE_TIMEOUT_MS must be > 0", func() { cfg.KafkaWriteMS = def.KafkaWriteMS })
	check(cfg.RedisDB < 0, "REDIS_DB", "REDIS_DB must be >= 0", func() { cfg.RedisDB = 0 })
	check(cfg.AsynqRedisDB < 0, "ASYNQ_REDIS_DB", "ASYNQ_REDIS_DB must be >= 0", func() { cfg.AsynqRedisDB = 0 })
	check(cfg.AsynqConcurrency <= 0, "ASYNQ_CONCURRENCY", "ASYNQ_CONCURRENCY must be > 0", func() { cfg.AsynqConcurrency = def.AsynqConcurrency })
	check(cfg.OutboxScanSec <= 0, "OUTBOX_SCAN_INTERVAL_SECONDS", "OUTBOX_SCAN_INTERVAL_SECONDS must be > 0", func() { cfg.OutboxScanSec = def.OutboxScanSec })
	check(cfg.OutboxBatchSize <= 0, "OUTBOX_BATCH_SIZE", "OUTBOX_BATCH_SIZE must be > 0", func() { cfg.OutboxBatchSize = def.OutboxBatchSize })
	check(cfg.OutboxMaxAttempts <= 0, "OUTBOX_MAX_ATTEMPTS", "OUTBOX_MAX_ATTEMPTS must be > 0", func() { cfg.OutboxMaxAttempts = def.OutboxMaxAttempts })
	check(cfg.InfluxTimeoutMS <= 0, "INFLUX_TIMEOUT_MS", "INFLUX_TIMEOUT_MS must be > 0", func() { cfg.InfluxTimeoutMS = def.InfluxTimeoutMS })
	check(cfg.MaxIssuesPerLink <= 0, "MAX_ISSUES_PER_LINK", "MAX_ISSUES_PER_LINK must be > 0", func() { cfg.MaxIssuesPerLink = def.MaxIssuesPerLink })
	check(cfg.AuthorizationConcurrency <= 0, "AUTHORIZATION_CONCURRENCY", "AUTHORIZATION_CONCURRENCY must be > 0", func() { cfg.AuthorizationConcurrency = def.AuthorizationConcurrency })
	check(cfg.DeliveryDedupTTLSec < 0, "DELIVERY_DEDUP_TTL_SECONDS", "DELIVERY_DEDUP_TTL_SECONDS must be >= 0", func() { cfg.DeliveryDedupTTLSec = def.DeliveryDedupTTLSec })
	check(cfg.RecipientCacheTTLSec < 0, "RECIPIENT_CACHE_TTL_SECONDS", "RECIPIENT_CACHE_TTL_SECONDS must be >= 0", func() { cfg.RecipientCacheTTLSec = 0 })
	check(cfg.DigestLockTTLSec <= 0, "DIGEST_LOCK_TTL_SECONDS", "DIGEST_LOCK_TTL_SECONDS must be > 0", func() { cfg.DigestLockTTLSec = def.DigestLockTTLSec })
	check(cfg.PermissionBackend != PermissionBackendDB && cfg.PermissionBackend != PermissionBackendHTTP,
		"PERMISSION_BACKEND", "PERMISSION_BACKEND must be db or http", func() { cfg.PermissionBackend = def.PermissionBackend })
	check(cfg.PermissionTimeoutMS <= 0, "PERMISSION_TIMEOUT_MS", "PERMISSION_TIMEOUT_MS must be > 0", func() { cfg.PermissionTimeoutMS = def.PermissionTimeoutMS })
	check(cfg.PermissionRetryMax < 0, "PERMISSION_RETRY_MAX", "PERMISSION_RETRY_MAX must be >= 0", func() { cfg.PermissionRetryMax = def.PermissionRetryMax })
	check(cfg.PermissionRPS <= 0, "PERMISSION_RPS", "PERMISSION_RPS must be > 0", func() { cfg.PermissionRPS = def.PermissionRPS })
	check(cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1, "OTEL_SAMPLE_RATIO", "OTEL_SAMPLE_RATIO must be 0-1", func() { cfg.OtelSampleRatio = 1.0 })
	check(strings.TrimSpace(cfg.ProductName) == "", "PRODUCT_NAME", "PRODUCT_NAME must not be blank", func() { cfg.ProductName = def.ProductName })
}

// loadDotEnv reads ./.env when present. Variables already set win.
func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("DOTENV_PATH"))
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

type binding struct {
	key  string
	kind string
	set  func(v any) bool
}

func str(key string, dst *string) binding {
	return binding{key: key, kind: "a string", set: func(v any) bool {
		s, ok := v.(string)
		if ok {
			*dst = strings.TrimSpace(s)
		}
		return ok
	}}
}

func secret(key string, dst *string) binding {
	return binding{key: key, kind: "a string", set: func(v any) bool {
		s, ok := v.(string)
		if ok {
			*dst = s
		}
		return ok
	}}
}

func integer(key string, dst *int) binding {
	return binding{key: key, kind: "an integer", set: func(v any) bool {
		n, ok := asInt(v)
		if ok {
			*dst = n
		}
		return ok
	}}
}

func number(key string, dst *float64) binding {
	return binding{key: key, kind: "a number", set: func(v any) bool {
		f, ok := asFloat(v)
		if ok {
			*dst = f
		}
		return ok
	}}
}

func boolean(key string, dst *bool) binding {
	return binding{key: key, kind: "a boolean", set: func(v any) bool {
		b, ok := asBoolAny(v)
		if ok {
			*dst = b
		}
		return ok
	}}
}

func list(key string, dst *[]string) binding {
	return binding{key: key, kind: "a list", set: func(v any) bool {
		switch t := v.(type) {
		case string:
			*dst = parseCSV(t)
		case []any:
			*dst = parseAnyCSV(t)
		default:
			return false
		}
		return true
	}}
}

func bindings(cfg *Config) []binding {
	return []binding{
		str("SERVICE_NAME", &cfg.ServiceName),
		integer("HTTP_PORT", &cfg.HTTPPort),
		str("LOG_LEVEL", &cfg.LogLevel),
		integer("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS),
		str("OIDC_ISSUER", &cfg.OIDCIssuer),
		str("OIDC_AUDIENCE", &cfg.OIDCAudience),
		str("OIDC_JWKS_URL", &cfg.OIDCJWKSURL),
		integer("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds),
		integer("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec),
		str("ADMIN_ROLE", &cfg.AdminRole),
		number("RATE_LIMIT_RPS", &cfg.RateLimitRPS),
		integer("RATE_LIMIT_BURST", &cfg.RateLimitBurst),
		str("DATABASE_URL", &cfg.DatabaseURL),
		integer("DB_MAX_CONNS", &cfg.DBMaxConns),
		integer("DB_MIN_CONNS", &cfg.DBMinConns),
		integer("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec),
		integer("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec),
		boolean("MIGRATE_ON_START", &cfg.MigrateOnStart),
		list("KAFKA_BROKERS", &cfg.KafkaBrokers),
		str("KAFKA_CLIENT_ID", &cfg.KafkaClientID),
		str("KAFKA_CONSUMER_GROUP", &cfg.KafkaGroupID),
		integer("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax),
		integer("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS),
		str("TOPIC_ISSUE_CHANGES", &cfg.TopicIssueChanges),
		str("TOPIC_ANALYSIS_NEW_ISSUES", &cfg.TopicAnalysisNewIssues),
		str("TOPIC_EMAILS", &cfg.TopicEmails),
		str("TOPIC_DEAD_LETTER", &cfg.TopicDeadLetter),
		str("REDIS_ADDR", &cfg.RedisAddr),
		secret("REDIS_PASSWORD", &cfg.RedisPassword),
		integer("REDIS_DB", &cfg.RedisDB),
		str("ASYNQ_REDIS_ADDR", &cfg.AsynqRedisAddr),
		secret("ASYNQ_REDIS_PASSWORD", &cfg.AsynqRedisPass),
		integer("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB),
		str("ASYNQ_QUEUE", &cfg.AsynqQueue),
		integer("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency),
		integer("OUTBOX_SCAN_INTERVAL_SECONDS", &cfg.OutboxScanSec),
		integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize),
		integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts),
		str("INFLUX_URL", &cfg.InfluxURL),
		secret("INFLUX_TOKEN", &cfg.InfluxToken),
		str("INFLUX_ORG", &cfg.InfluxOrg),
		str("INFLUX_BUCKET", &cfg.InfluxBucket),
		integer("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS),
		str("SERVER_BASE_URL", &cfg.ServerBaseURL),
		str("PRODUCT_NAME", &cfg.ProductName),
		boolean("EMAIL_ENABLED", &cfg.EmailEnabled),
		str("EMAIL_FROM_DEFAULT", &cfg.EmailFromDefault),
		str("NOTIFICATION_CATALOG_PATH", &cfg.NotificationCatalogPath),
		integer("MAX_ISSUES_PER_LINK", &cfg.MaxIssuesPerLink),
		integer("AUTHORIZATION_CONCURRENCY", &cfg.AuthorizationConcurrency),
		integer("DELIVERY_DEDUP_TTL_SECONDS", &cfg.DeliveryDedupTTLSec),
		integer("RECIPIENT_CACHE_TTL_SECONDS", &cfg.RecipientCacheTTLSec),
		integer("DIGEST_LOCK_TTL_SECONDS", &cfg.DigestLockTTLSec),
		str("PERMISSION_BACKEND", &cfg.PermissionBackend),
		str("PERMISSION_SERVICE_URL", &cfg.PermissionServiceURL),
		integer("PERMISSION_TIMEOUT_MS", &cfg.PermissionTimeoutMS),
		integer("PERMISSION_RETRY_MAX", &cfg.PermissionRetryMax),
		number("PERMISSION_RPS", &cfg.PermissionRPS),
		boolean("OTEL_ENABLED", &cfg.OtelEnabled),
		str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint),
		boolean("OTEL_EXPORTER_OTLP_INSECURE", &cfg.OtelInsecure),
		number("OTEL_SAMPLE_RATIO", &cfg.OtelSampleRatio),
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	lookup := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" && key == "HTTP_PORT" {
			v = strings.TrimSpace(os.Getenv("PORT"))
		}
		return v
	}
	for _, b := range bindings(cfg) {
		v := lookup(b.key)
		if v == "" {
			continue
		}
		if !b.set(v) {
			*problems = append(*problems, Problem{Field: b.key, Message: b.key + " must be " + b.kind})
		}
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	byKey := make(map[string]binding)
	for _, b := range bindings(cfg) {
		byKey[b.key] = b
	}
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "ENV" {
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
			continue
		}
		b, ok := byKey[key]
		if !ok {
			continue
		}
		if !b.set(v) {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be " + b.kind})
		}
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asBoolAny(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return asBool(t)
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
