package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Promo    PromoConfig    `json:"promo"`
	MySQL    MySQLConfig    `json:"mysql"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env      string `json:"env"`       // 运行环境: local / prod
	LogLevel string `json:"log_level"` // 日志级别: debug / info / warn / error
	HTTPAddr string `json:"http_addr"` // API 服务监听地址

	TickInterval time.Duration `json:"tick_interval"` // 定价 Tick 周期（如 "30s"）
	SalesWindow  time.Duration `json:"sales_window"`  // 销量回看窗口（必须 ≥ tick_interval）

	PriceRoundStep  float64 `json:"price_round_step"`  // 价格舍入粒度（0.01，整数货币用 1）
	PriceFloorRatio float64 `json:"price_floor_ratio"` // 下限 = 基础价 × 该比例
	PriceCapRatio   float64 `json:"price_cap_ratio"`   // 上限 = 基础价 × 该比例（历史上用过 1.30 和 1.40）

	OrderRateLimit float64 `json:"order_rate_limit"` // 单个员工下单限流速率（token/s）
	OrderRateBurst float64 `json:"order_rate_burst"` // 限流桶容量

	BoardTTL time.Duration `json:"board_ttl"` // Redis 价格看板缓存有效期
}

// PromoConfig 促销轮播配置。
type PromoConfig struct {
	InitialDelay time.Duration `json:"initial_delay"` // 服务启动后的促销静默期
	Pause        time.Duration `json:"pause"`         // 两次促销之间的冷却时间
}

// MySQLConfig MySQL 数据库配置。
type MySQLConfig struct {
	DSN string `json:"dsn"` // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件告警配置。
type EmailConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPass     string `json:"smtp_pass"`
	FromEmail    string `json:"from_email"`
	ManagerEmail string `json:"manager_email"` // 价格触顶告警接收人（为空则关闭告警）
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret     string `json:"jwt_secret"`     // JWT 签名密钥
	StaffPassword string `json:"staff_password"` // Seed 员工账号的初始密码
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值；
// 环境变量始终可以覆盖文件值。加载完成后执行一次 Validate，
// 配置非法时在启动阶段直接失败，而不是等到第一个 Tick。
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg = getDefaultConfig()
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
		applyDefaults(cfg)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate 检查配置的内部一致性。
//
// 这些都是"启动即失败"级别的错误：带着它们运行只会在之后的
// 某个 Tick 或促销轮播里悄悄出问题。
func (c *Config) Validate() error {
	if c.App.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.App.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", c.App.TickInterval)
	}
	if c.App.SalesWindow < c.App.TickInterval {
		// 窗口短于周期会在相邻 Tick 之间留下不被统计的销量空洞
		return fmt.Errorf("sales_window (%s) must be >= tick_interval (%s)", c.App.SalesWindow, c.App.TickInterval)
	}
	if c.App.PriceRoundStep <= 0 {
		return fmt.Errorf("price_round_step must be positive, got %g", c.App.PriceRoundStep)
	}
	if c.App.PriceFloorRatio <= 0 || c.App.PriceFloorRatio >= 1 {
		return fmt.Errorf("price_floor_ratio must be in (0,1), got %g", c.App.PriceFloorRatio)
	}
	if c.App.PriceCapRatio <= 1 {
		return fmt.Errorf("price_cap_ratio must be > 1, got %g", c.App.PriceCapRatio)
	}
	if c.Promo.InitialDelay < 0 {
		return fmt.Errorf("promo initial_delay must not be negative, got %s", c.Promo.InitialDelay)
	}
	if c.Promo.Pause <= 0 {
		return fmt.Errorf("promo pause must be positive, got %s", c.Promo.Pause)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:      "local",
			LogLevel: "info",
			HTTPAddr: ":8081",

			TickInterval: 30 * time.Second,
			SalesWindow:  30 * time.Second,

			PriceRoundStep:  0.01,
			PriceFloorRatio: 0.70,
			PriceCapRatio:   1.30,

			OrderRateLimit: 3,
			OrderRateBurst: 5,

			BoardTTL: 2 * time.Minute,
		},
		Promo: PromoConfig{
			InitialDelay: 5 * time.Minute,
			Pause:        2 * time.Minute,
		},
		MySQL: MySQLConfig{
			DSN: "root:password@tcp(localhost:3306)/berza?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:     "dev_secret_change_me",
			StaffPassword: "change_me",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.TickInterval == 0 {
		cfg.App.TickInterval = defaults.App.TickInterval
	}
	if cfg.App.SalesWindow == 0 {
		cfg.App.SalesWindow = defaults.App.SalesWindow
	}
	if cfg.App.PriceRoundStep == 0 {
		cfg.App.PriceRoundStep = defaults.App.PriceRoundStep
	}
	if cfg.App.PriceFloorRatio == 0 {
		cfg.App.PriceFloorRatio = defaults.App.PriceFloorRatio
	}
	if cfg.App.PriceCapRatio == 0 {
		cfg.App.PriceCapRatio = defaults.App.PriceCapRatio
	}
	if cfg.App.OrderRateLimit == 0 {
		cfg.App.OrderRateLimit = defaults.App.OrderRateLimit
	}
	if cfg.App.OrderRateBurst == 0 {
		cfg.App.OrderRateBurst = defaults.App.OrderRateBurst
	}
	if cfg.App.BoardTTL == 0 {
		cfg.App.BoardTTL = defaults.App.BoardTTL
	}
	if cfg.Promo.InitialDelay == 0 {
		cfg.Promo.InitialDelay = defaults.Promo.InitialDelay
	}
	if cfg.Promo.Pause == 0 {
		cfg.Promo.Pause = defaults.Promo.Pause
	}
	if cfg.MySQL.DSN == "" {
		cfg.MySQL.DSN = defaults.MySQL.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.StaffPassword == "" {
		cfg.Security.StaffPassword = defaults.Security.StaffPassword
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("staff_password", "STAFF_PASSWORD")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.TickInterval = d
		}
	}
	if v := os.Getenv("APP_SALES_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.SalesWindow = d
		}
	}
	if v := os.Getenv("APP_PRICE_ROUND_STEP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.PriceRoundStep = f
		}
	}
	if v := os.Getenv("APP_PRICE_FLOOR_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.PriceFloorRatio = f
		}
	}
	if v := os.Getenv("APP_PRICE_CAP_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.PriceCapRatio = f
		}
	}
	if v := os.Getenv("APP_ORDER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.OrderRateLimit = f
		}
	}
	if v := os.Getenv("APP_ORDER_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.OrderRateBurst = f
		}
	}
	if v := os.Getenv("APP_BOARD_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.BoardTTL = d
		}
	}
	if v := os.Getenv("PROMO_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Promo.InitialDelay = d
		}
	}
	if v := os.Getenv("PROMO_PAUSE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Promo.Pause = d
		}
	}

	if v := viper.GetString("jwt_secret"); v != "" {
		cfg.Security.JWTSecret = v
	}
	if v := viper.GetString("staff_password"); v != "" {
		cfg.Security.StaffPassword = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.MySQL.DSN = v
	} else if hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "" {
		parsed := parseMySQLDSN(cfg.MySQL.DSN)
		if v := viper.GetString("db_host"); v != "" {
			host := v
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = host + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.MySQL.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("MANAGER_EMAIL"); v != "" {
		cfg.Email.ManagerEmail = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Passwd: "",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "berza",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TickInterval string `json:"tick_interval"`
		SalesWindow  string `json:"sales_window"`
		BoardTTL     string `json:"board_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TickInterval != "" {
		duration, err := time.ParseDuration(aux.TickInterval)
		if err != nil {
			return fmt.Errorf("invalid tick_interval format: %w", err)
		}
		a.TickInterval = duration
	}
	if aux.SalesWindow != "" {
		duration, err := time.ParseDuration(aux.SalesWindow)
		if err != nil {
			return fmt.Errorf("invalid sales_window format: %w", err)
		}
		a.SalesWindow = duration
	}
	if aux.BoardTTL != "" {
		duration, err := time.ParseDuration(aux.BoardTTL)
		if err != nil {
			return fmt.Errorf("invalid board_ttl format: %w", err)
		}
		a.BoardTTL = duration
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		TickInterval string `json:"tick_interval"`
		SalesWindow  string `json:"sales_window"`
		BoardTTL     string `json:"board_ttl"`
		*Alias
	}{
		TickInterval: a.TickInterval.String(),
		SalesWindow:  a.SalesWindow.String(),
		BoardTTL:     a.BoardTTL.String(),
		Alias:        (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 Duration 字符串。
func (p *PromoConfig) UnmarshalJSON(data []byte) error {
	type Alias PromoConfig
	aux := &struct {
		InitialDelay string `json:"initial_delay"`
		Pause        string `json:"pause"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.InitialDelay != "" {
		duration, err := time.ParseDuration(aux.InitialDelay)
		if err != nil {
			return fmt.Errorf("invalid initial_delay format: %w", err)
		}
		p.InitialDelay = duration
	}
	if aux.Pause != "" {
		duration, err := time.ParseDuration(aux.Pause)
		if err != nil {
			return fmt.Errorf("invalid pause format: %w", err)
		}
		p.Pause = duration
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (p PromoConfig) MarshalJSON() ([]byte, error) {
	type Alias PromoConfig
	return json.Marshal(&struct {
		InitialDelay string `json:"initial_delay"`
		Pause        string `json:"pause"`
		*Alias
	}{
		InitialDelay: p.InitialDelay.String(),
		Pause:        p.Pause.String(),
		Alias:        (*Alias)(&p),
	})
}
