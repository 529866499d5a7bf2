package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// DataDir 是 JNAS 数据目录
	// 用于存储数据库和回退存储根
	// 可以通过环境变量 JNAS_DATA_DIR 配置
	// 默认：/var/lib/jnas，不可写时退回 ~/.local/share/jnas
	DataDir string

	// DBPath 是 SQLite 数据库文件路径
	// 可以通过环境变量 JNAS_DB_PATH 配置
	// 默认：<DataDir>/jnas.db
	DBPath string

	// FallbackRoot 是系统挂载目录不可写时的回退存储根
	// 可以通过环境变量 JNAS_FALLBACK_ROOT 配置
	// 默认：<DataDir>/storage
	FallbackRoot string

	// ScanTTL 是设备扫描结果的缓存时长
	// 可以通过环境变量 JNAS_SCAN_TTL 配置（time.ParseDuration 格式）
	ScanTTL time.Duration

	// MonitorInterval 是健康巡检周期
	// 可以通过环境变量 JNAS_MONITOR_INTERVAL 配置
	MonitorInterval time.Duration
}

func New() (*Config, error) {
	// 允许通过 .env 文件提供环境变量，文件不存在时忽略
	_ = godotenv.Load()

	dataDir := getDataDir()
	cfg := &Config{
		DataDir:         dataDir,
		DBPath:          getEnvPath("JNAS_DB_PATH", filepath.Join(dataDir, "jnas.db")),
		FallbackRoot:    getEnvPath("JNAS_FALLBACK_ROOT", filepath.Join(dataDir, "storage")),
		ScanTTL:         getEnvDuration("JNAS_SCAN_TTL", 5*time.Minute),
		MonitorInterval: getEnvDuration("JNAS_MONITOR_INTERVAL", 60*time.Second),
	}
	return cfg, nil
}

// getDataDir 获取数据目录，优先使用环境变量
func getDataDir() string {
	// 1. 优先使用环境变量 JNAS_DATA_DIR
	if dir := os.Getenv("JNAS_DATA_DIR"); dir != "" {
		return dir
	}

	// 2. 系统目录可写时使用 /var/lib/jnas
	if err := os.MkdirAll("/var/lib/jnas", 0o755); err == nil {
		return "/var/lib/jnas"
	}

	// 3. 使用用户主目录下的 .local/share/jnas
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "jnas")
	}

	// 4. 如果无法获取主目录，使用当前目录下的 data
	return filepath.Join(".", "data")
}

func getEnvPath(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
