package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/captcha"
	"github.com/RecoveryAshes/ScrapeSiege/internal/proxypool"
	"github.com/RecoveryAshes/ScrapeSiege/internal/ratelimit"
	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Session   SessionConfig   `mapstructure:"session"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Output    OutputConfig    `mapstructure:"output"`
}

// RateLimitConfig 限速配置
type RateLimitConfig struct {
	PerMinute       int     `mapstructure:"per_minute"`
	PerHour         int     `mapstructure:"per_hour"`
	MinDelay        float64 `mapstructure:"min_delay"`    // 秒
	MaxDelay        float64 `mapstructure:"max_delay"`    // 秒
	BackoffBase     float64 `mapstructure:"backoff_base"` // 秒
	BackoffMax      float64 `mapstructure:"backoff_max"`  // 秒
	Jitter          float64 `mapstructure:"jitter"`       // 秒
	MaxLevelRetries int     `mapstructure:"max_level_retries"`
}

// ProxyConfig 代理池配置
type ProxyConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	RefreshURL     string   `mapstructure:"refresh_url"`  // 订阅地址,按行返回代理
	ProxyFile      string   `mapstructure:"proxy_file"`   // 本地代理列表文件
	Static         []string `mapstructure:"static"`       // 配置内联的固定代理
	FailThreshold  int      `mapstructure:"fail_threshold"`
	BanCooldown    float64  `mapstructure:"ban_cooldown"`     // 秒
	BanCooldownMax float64  `mapstructure:"ban_cooldown_max"` // 秒
}

// CaptchaConfig 验证码解决配置
type CaptchaConfig struct {
	Provider     string  `mapstructure:"provider"` // none | 2captcha
	APIKey       string  `mapstructure:"api_key"`
	APIURL       string  `mapstructure:"api_url"`
	Timeout      float64 `mapstructure:"timeout"`       // 秒
	PollInterval float64 `mapstructure:"poll_interval"` // 秒
}

// SessionConfig 会话持久化配置
type SessionConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless   bool   `mapstructure:"headless"`
	MaxTabs    int    `mapstructure:"max_tabs"`
	NavTimeout int    `mapstructure:"nav_timeout"` // 秒
	UserAgent  string `mapstructure:"user_agent"`
	Proxy      string `mapstructure:"proxy"` // 浏览器出口代理, 启动时固定
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".scrapesiege"))
		}
	}

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在,使用默认值
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 限速配置默认值
	v.SetDefault("ratelimit.per_minute", 15)
	v.SetDefault("ratelimit.per_hour", 500)
	v.SetDefault("ratelimit.min_delay", 2)
	v.SetDefault("ratelimit.max_delay", 5)
	v.SetDefault("ratelimit.backoff_base", 5)
	v.SetDefault("ratelimit.backoff_max", 60)
	v.SetDefault("ratelimit.jitter", 1)
	v.SetDefault("ratelimit.max_level_retries", 3)

	// 代理配置默认值
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.fail_threshold", 3)
	v.SetDefault("proxy.ban_cooldown", 300)
	v.SetDefault("proxy.ban_cooldown_max", 4800)

	// 验证码配置默认值
	v.SetDefault("captcha.provider", "none")
	v.SetDefault("captcha.api_url", "https://2captcha.com")
	v.SetDefault("captcha.timeout", 120)
	v.SetDefault("captcha.poll_interval", 5)

	// 会话配置默认值 (空值在运行时落到 ~/.scrapesiege/sessions)
	v.SetDefault("session.data_dir", "")

	// 浏览器配置默认值
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.max_tabs", 4)
	v.SetDefault("browser.nav_timeout", 30)
	v.SetDefault("browser.proxy", "")

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
}

// seconds 把以秒计的配置值转成time.Duration
func seconds(value float64) time.Duration {
	return time.Duration(value * float64(time.Second))
}

// RateLimiterConfig 转换为限速器配置
func (c *Config) RateLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		PerMinute:   c.RateLimit.PerMinute,
		PerHour:     c.RateLimit.PerHour,
		MinDelay:    seconds(c.RateLimit.MinDelay),
		MaxDelay:    seconds(c.RateLimit.MaxDelay),
		BackoffBase: seconds(c.RateLimit.BackoffBase),
		BackoffMax:  seconds(c.RateLimit.BackoffMax),
		Jitter:      seconds(c.RateLimit.Jitter),
	}
}

// ProxyPoolConfig 转换为代理池配置
func (c *Config) ProxyPoolConfig() proxypool.Config {
	cfg := proxypool.DefaultConfig()
	if c.Proxy.FailThreshold > 0 {
		cfg.FailThreshold = c.Proxy.FailThreshold
	}
	if c.Proxy.BanCooldown > 0 {
		cfg.BanCooldown = seconds(c.Proxy.BanCooldown)
	}
	if c.Proxy.BanCooldownMax > 0 {
		cfg.BanCooldownMax = seconds(c.Proxy.BanCooldownMax)
	}
	return cfg
}

// CaptchaResolver 根据配置构造验证码解决器
func (c *Config) CaptchaResolver() (captcha.Resolver, error) {
	switch c.Captcha.Provider {
	case "", "none":
		return captcha.NewNullResolver(), nil
	case "2captcha":
		if c.Captcha.APIKey == "" {
			return nil, fmt.Errorf("验证码服务需要api_key (provider=%s)", c.Captcha.Provider)
		}
		return captcha.NewServiceResolver(captcha.ServiceConfig{
			APIKey:       c.Captcha.APIKey,
			APIURL:       c.Captcha.APIURL,
			Timeout:      seconds(c.Captcha.Timeout),
			PollInterval: seconds(c.Captcha.PollInterval),
		}), nil
	default:
		return nil, fmt.Errorf("不支持的验证码服务: %s", c.Captcha.Provider)
	}
}

// SessionDataDir 会话持久化目录,未配置时落到 ~/.scrapesiege/sessions
func (c *Config) SessionDataDir() string {
	if c.Session.DataDir != "" {
		return c.Session.DataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".scrapesiege", "sessions")
	}
	return filepath.Join(home, ".scrapesiege", "sessions")
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// MergeCLIFlags 合并命令行参数到配置
// 命令行参数优先于配置文件
func (c *Config) MergeCLIFlags(headless bool, maxTabs int, proxyEnabled bool, outputDir string) {
	c.Browser.Headless = headless
	if maxTabs > 0 {
		c.Browser.MaxTabs = maxTabs
	}
	if proxyEnabled {
		c.Proxy.Enabled = true
	}
	if outputDir != "" {
		c.Output.BaseDir = outputDir
	}
}
