package config

import (
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultHeadersFile 默认头部配置文件路径
	DefaultHeadersFile = "configs/headers.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024
)

//go:embed headers_template.yaml
var defaultHeaderTemplate string

// HeaderProfiles headers.yaml的结构
// defaults对所有来源生效,sources下的条目按来源覆盖默认值
type HeaderProfiles struct {
	Defaults map[string]string            `mapstructure:"defaults"`
	Sources  map[string]map[string]string `mapstructure:"sources"`
}

// ConfigError 配置文件错误
type ConfigError struct {
	FilePath string
	Cause    error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// HeaderLoader 头部配置加载器
// 负责加载和解析按来源划分的HTTP头部配置
type HeaderLoader struct {
	configPath string
	redactor   *utils.HeaderRedactor
}

// NewHeaderLoader 创建头部配置加载器
func NewHeaderLoader(configPath string) *HeaderLoader {
	if configPath == "" {
		configPath = DefaultHeadersFile
	}
	return &HeaderLoader{
		configPath: configPath,
		redactor:   utils.NewHeaderRedactor(),
	}
}

// EnsureConfigExists 确保配置文件存在,如不存在则自动生成模板
func (hl *HeaderLoader) EnsureConfigExists() error {
	if _, err := os.Stat(hl.configPath); os.IsNotExist(err) {
		dir := filepath.Dir(hl.configPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("无法创建配置目录 [%s]: %w", dir, err)
		}

		if err := os.WriteFile(hl.configPath, []byte(defaultHeaderTemplate), 0644); err != nil {
			return fmt.Errorf("无法生成配置文件 [%s]: %w", hl.configPath, err)
		}
	}
	return nil
}

// ValidateFileSize 验证配置文件大小是否在限制内
func (hl *HeaderLoader) ValidateFileSize() error {
	info, err := os.Stat(hl.configPath)
	if err != nil {
		return fmt.Errorf("无法读取配置文件信息 [%s]: %w", hl.configPath, err)
	}

	if info.Size() > MaxConfigFileSize {
		return &ConfigError{
			FilePath: hl.configPath,
			Cause: fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxConfigFileSize),
		}
	}

	return nil
}

// Load 加载配置文件并解析为HeaderProfiles
// 执行流程:
//  1. 确保配置文件存在 (不存在则自动创建模板)
//  2. 验证文件大小是否在限制内
//  3. 使用Viper解析YAML并绑定到结构体
//  4. 处理空配置情况
func (hl *HeaderLoader) Load() (*HeaderProfiles, error) {
	if err := hl.EnsureConfigExists(); err != nil {
		return nil, err
	}

	if err := hl.ValidateFileSize(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(hl.configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{
			FilePath: hl.configPath,
			Cause:    err,
		}
	}

	var profiles HeaderProfiles
	if err := v.Unmarshal(&profiles); err != nil {
		return nil, &ConfigError{
			FilePath: hl.configPath,
			Cause:    fmt.Errorf("配置绑定失败: %w", err),
		}
	}

	// 初始化空map避免nil指针异常
	if profiles.Defaults == nil {
		profiles.Defaults = make(map[string]string)
	}
	if profiles.Sources == nil {
		profiles.Sources = make(map[string]map[string]string)
	}

	if len(profiles.Defaults) > 0 {
		safe := hl.redactor.Redact(toHTTPHeader(profiles.Defaults))
		utils.Debugf("成功加载%d个默认HTTP头部: %v", len(safe), safe)
	}

	return &profiles, nil
}

// HeadersFor 返回指定来源的合并头部 (defaults < sources.<source>)
func (p *HeaderProfiles) HeadersFor(source string) http.Header {
	result := make(http.Header)
	for name, value := range p.Defaults {
		result.Set(name, value)
	}
	for name, value := range p.Sources[source] {
		result.Set(name, value)
	}
	return result
}

// CliHeaders 命令行传递的头部列表
// 每个字符串格式为 "Name: Value"
type CliHeaders []string

// Parse 将字符串列表解析为http.Header
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		parts := strings.SplitN(s, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 缺少冒号分隔符,应为 'Name: Value'", i+1)
		}
		name := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if name == "" {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 头部名称不能为空", i+1)
		}
		result.Set(name, value)
	}
	return result, nil
}

// toHTTPHeader 把map[string]string转换为http.Header
func toHTTPHeader(m map[string]string) http.Header {
	h := make(http.Header)
	for name, value := range m {
		h.Set(name, value)
	}
	return h
}
