package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"mediarepo/internal/storage"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort string
	// ServerName 是本服务器在联邦中的名字，用于拼 mxc URI。
	ServerName string
	// MediaStorePath 是本地缓存根目录，所有内容先落在这里。
	MediaStorePath string
	// FederationMediaEnabled 控制联邦媒体下载端点是否可用。
	FederationMediaEnabled bool
	MaxUploadSize          int64
	CORSAllowedOrigins     []string
	RateLimitRequests      int
	RateLimitWindow        time.Duration
	DBHost                 string
	DBPort                 int
	DBUser                 string
	DBPassword             string
	DBName                 string
	DBSSLMode              string
	// 鉴权配置
	AuthEnabled   bool
	AuthJWKSURL   string // JWKS 公钥端点，留空则只用 HMAC
	AuthJWTSecret string // HS256 密钥
	// 存储后端声明，进程生命周期内不再变化
	StorageProviders []storage.ProviderConfig
}

// Load 从环境变量加载配置，并提供默认值。
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	serverName := envOrDefault("SERVER_NAME", "localhost")

	mediaStorePath := os.Getenv("MEDIA_STORE_PATH")
	if mediaStorePath == "" {
		mediaStorePath = "./media_store"
	}
	if err := ensureDir(mediaStorePath); err != nil {
		return nil, fmt.Errorf("确保媒体目录失败: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	maxUploadSize, err := parseInt64Env("MAX_UPLOAD_SIZE", 100*1024*1024)
	if err != nil {
		return nil, err
	}

	providers, err := parseProviders(os.Getenv("STORAGE_PROVIDERS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		HTTPPort:               port,
		ServerName:             serverName,
		MediaStorePath:         mediaStorePath,
		FederationMediaEnabled: parseBoolEnv("FEDERATION_MEDIA_ENABLED", false),
		MaxUploadSize:          maxUploadSize,
		CORSAllowedOrigins:     corsOrigins,
		RateLimitRequests:      rateLimitRequests,
		RateLimitWindow:        rateLimitWindow,
		DBHost:                 envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:                 dbPort,
		DBUser:                 envOrDefault("DB_USER", "mediarepo"),
		DBPassword:             envOrDefault("DB_PASSWORD", "mediarepo"),
		DBName:                 envOrDefault("DB_NAME", "mediarepo"),
		DBSSLMode:              envOrDefault("DB_SSL_MODE", "disable"),
		AuthEnabled:            parseBoolEnv("AUTH_ENABLED", true),
		AuthJWKSURL:            os.Getenv("AUTH_JWKS_URL"),
		AuthJWTSecret:          os.Getenv("AUTH_JWT_SECRET"),
		StorageProviders:       providers,
	}, nil
}

// parseProviders 解析 JSON 形式的后端声明列表，例如：
// [{"module":"file","store_local":true,"store_remote":false,
//   "store_synchronous":true,"config":{"directory":"/srv/media-backup"}}]
func parseProviders(raw string) ([]storage.ProviderConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var providers []storage.ProviderConfig
	if err := json.Unmarshal([]byte(raw), &providers); err != nil {
		return nil, fmt.Errorf("解析 STORAGE_PROVIDERS 失败: %w", err)
	}
	for i, p := range providers {
		if p.Module == "" {
			return nil, fmt.Errorf("STORAGE_PROVIDERS[%d] 缺少 module", i)
		}
	}
	return providers, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("路径 %s 已存在但不是目录", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("解析 %s 失败: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
