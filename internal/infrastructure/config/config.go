package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 應用配置
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Matcher   MatcherConfig   `mapstructure:"matcher"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Apple     AppleConfig     `mapstructure:"apple"`
	LogLevel  string          `mapstructure:"log_level"`
}

// AppConfig 應用程式設定
type AppConfig struct {
	Env      string `mapstructure:"env"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Version  string `mapstructure:"version"`
	Name     string `mapstructure:"name"`
}

// ServerConfig 服務器配置
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StoreConfig 共享文件存儲配置（Redis）
type StoreConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	TxRetries   int           `mapstructure:"tx_retries"` // 樂觀交易衝突重試次數
	TxBackoff   time.Duration `mapstructure:"tx_backoff"` // 重試間隔基數
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// GeneratorConfig 外部生成服務配置
type GeneratorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"` // 生成耗時長，需要分鐘級超時
}

// EndpointLimit 單一端點的配額設定
type EndpointLimit struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// AdmissionConfig 准入控制配置
type AdmissionConfig struct {
	GeneratePlan         EndpointLimit `mapstructure:"generate_plan"`
	SwapMeal             EndpointLimit `mapstructure:"swap_meal"`
	SubstituteIngredient EndpointLimit `mapstructure:"substitute_ingredient"`
}

// MatcherConfig 圖片匹配配置
type MatcherConfig struct {
	MinScore  float64 `mapstructure:"min_score"`
	PoolLimit int     `mapstructure:"pool_limit"`
}

// DedupConfig 生成結果去重配置
type DedupConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	ScanLimit int     `mapstructure:"scan_limit"`
}

// AppleConfig 平台收據驗證配置
type AppleConfig struct {
	RootCertPath string `mapstructure:"root_cert_path"` // PEM 格式的信任根憑證
	BundleID     string `mapstructure:"bundle_id"`
	Environment  string `mapstructure:"environment"` // Production / Sandbox
}

// LoadConfig 載入設定
func LoadConfig() (*Config, error) {
	// 加載 .env 文件
	if err := godotenv.Load(); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return nil, err
		}
	}

	// 設定預設值
	setDefaults()

	// 設定環境變數前綴
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 綁定環境變量
	viper.BindEnv("store.addr", "REDIS_ADDR")
	viper.BindEnv("store.password", "REDIS_PASSWORD")
	viper.BindEnv("store.db", "REDIS_DB")
	viper.BindEnv("generator.api_key", "GENERATOR_API_KEY")
	viper.BindEnv("generator.model", "GENERATOR_MODEL")
	viper.BindEnv("generator.max_tokens", "GENERATOR_MAX_TOKENS")
	viper.BindEnv("apple.root_cert_path", "APPLE_ROOT_CERT_PATH")
	viper.BindEnv("apple.bundle_id", "APPLE_BUNDLE_ID")
	viper.BindEnv("apple.environment", "APPLE_ENVIRONMENT")
	viper.BindEnv("log_level", "LOG_LEVEL")

	// 設定設定檔名稱和路徑
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")

	// 讀取設定檔
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// 解析設定
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 驗證必要設定
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// setDefaults 設定預設值
func setDefaults() {
	// 應用程式設定
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.debug", true)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.name", "mealplan-gateway")

	// 伺服器設定
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "300s")
	viper.SetDefault("server.idle_timeout", "120s")

	// 存儲設定
	viper.SetDefault("store.addr", "localhost:6379")
	viper.SetDefault("store.password", "")
	viper.SetDefault("store.db", 0)
	viper.SetDefault("store.tx_retries", 5)
	viper.SetDefault("store.tx_backoff", "20ms")
	viper.SetDefault("store.dial_timeout", "5s")

	// 生成服務設定
	viper.SetDefault("generator.enabled", true)
	viper.SetDefault("generator.model", "openai/gpt-4o-mini")
	viper.SetDefault("generator.max_tokens", 8192)
	viper.SetDefault("generator.timeout", "4m")

	// 准入控制設定
	viper.SetDefault("admission.generate_plan.limit", 10)
	viper.SetDefault("admission.generate_plan.window", "24h")
	viper.SetDefault("admission.swap_meal.limit", 20)
	viper.SetDefault("admission.swap_meal.window", "1h")
	viper.SetDefault("admission.substitute_ingredient.limit", 20)
	viper.SetDefault("admission.substitute_ingredient.window", "1h")

	// 圖片匹配設定
	viper.SetDefault("matcher.min_score", 0.15)
	viper.SetDefault("matcher.pool_limit", 50)

	// 去重設定
	viper.SetDefault("dedup.threshold", 0.8)
	viper.SetDefault("dedup.scan_limit", 50)

	// 平台驗證設定
	viper.SetDefault("apple.root_cert_path", "certs/AppleRootCA-G3.pem")
	viper.SetDefault("apple.environment", "Production")
}

// validateConfig 驗證設定
func validateConfig(config *Config) error {
	// 驗證伺服器設定
	if config.Server.Port == 0 {
		return fmt.Errorf("server port is required")
	}

	// 驗證存儲設定
	if config.Store.Addr == "" {
		return fmt.Errorf("store addr is required")
	}
	if config.Store.TxRetries <= 0 {
		return fmt.Errorf("invalid store tx retries")
	}

	// 驗證配額設定
	for name, ep := range map[string]EndpointLimit{
		"generate_plan":         config.Admission.GeneratePlan,
		"swap_meal":             config.Admission.SwapMeal,
		"substitute_ingredient": config.Admission.SubstituteIngredient,
	} {
		if ep.Limit <= 0 {
			return fmt.Errorf("invalid admission limit for %s", name)
		}
		if ep.Window <= 0 {
			return fmt.Errorf("invalid admission window for %s", name)
		}
	}

	// 驗證去重設定
	if config.Dedup.Threshold <= 0 || config.Dedup.Threshold > 1 {
		return fmt.Errorf("invalid dedup threshold")
	}
	if config.Dedup.ScanLimit <= 0 {
		return fmt.Errorf("invalid dedup scan limit")
	}

	return nil
}
