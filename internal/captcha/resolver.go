// Package captcha 提供可插拔的验证码解决能力
//
// 两个内置实现: NullResolver立即报告未解决;ServiceResolver把挑战
// 提交给外部打码服务并在有界超时内轮询结果。控制器把未解决
// 等同于终止性的CaptchaRequired失败;解出的令牌交回当前策略重试一次。
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RecoveryAshes/ScrapeSiege/internal/utils"
)

// ErrUnresolved 挑战未能解决
// 超时、服务故障和未配置解决器统一归入此错误
var ErrUnresolved = errors.New("验证码未能解决")

// ChallengeType 已知的验证码类型
type ChallengeType string

const (
	TypeRecaptchaV2 ChallengeType = "recaptcha_v2"
	TypeRecaptchaV3 ChallengeType = "recaptcha_v3"
	TypeHCaptcha    ChallengeType = "hcaptcha"
	TypeTurnstile   ChallengeType = "turnstile"
	TypeImageText   ChallengeType = "image_text"
	TypeSlider      ChallengeType = "slider"
	TypeCustom      ChallengeType = "custom"
)

// Challenge 待解决的验证码挑战
type Challenge struct {
	Type        ChallengeType     // 挑战类型
	SiteURL     string            // 出现挑战的页面URL
	SiteKey     string            // reCAPTCHA/hCaptcha站点密钥
	ImageBase64 string            // 图片OCR数据
	Extra       map[string]string // 平台专属数据(如v3的action)
}

// Solution 解决结果
type Solution struct {
	Token string // 响应令牌 (reCAPTCHA/hCaptcha/Turnstile)
	Text  string // 识别文本 (图片OCR)
}

// Resolver 验证码解决器接口
type Resolver interface {
	// Resolve 尝试解决挑战;未能解决返回ErrUnresolved
	Resolve(ctx context.Context, challenge *Challenge) (*Solution, error)
	// Name 解决器名称(用于日志)
	Name() string
}

// NullResolver 空解决器
// 未配置打码服务时的默认实现,立即报告未解决
type NullResolver struct{}

// NewNullResolver 创建空解决器
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

// Resolve 记录警告并立即返回未解决
func (n *NullResolver) Resolve(ctx context.Context, challenge *Challenge) (*Solution, error) {
	utils.Warnf("未配置验证码解决器, 无法处理 %s 挑战 [url=%s]", challenge.Type, challenge.SiteURL)
	return nil, ErrUnresolved
}

// Name 实现Resolver接口
func (n *NullResolver) Name() string {
	return "null"
}

// ServiceConfig 外部打码服务配置
type ServiceConfig struct {
	APIKey       string        // 服务API密钥
	APIURL       string        // 服务基础URL
	Timeout      time.Duration // 轮询总超时
	PollInterval time.Duration // 轮询间隔
}

// DefaultServiceConfig 默认服务配置
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		APIURL:       "https://2captcha.com",
		Timeout:      120 * time.Second,
		PollInterval: 5 * time.Second,
	}
}

// ServiceResolver 基于外部打码服务的解决器
// 流程: 提交挑战获得票据 → 固定间隔轮询 → 令牌 | 未就绪 | 失败,
// 由有界超时封顶。轮询是显式循环+期限,不依赖隐式调度。
type ServiceResolver struct {
	config ServiceConfig
	client *http.Client
}

// NewServiceResolver 创建外部服务解决器
func NewServiceResolver(config ServiceConfig) *ServiceResolver {
	if config.APIURL == "" {
		config.APIURL = DefaultServiceConfig().APIURL
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultServiceConfig().Timeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultServiceConfig().PollInterval
	}
	return &ServiceResolver{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name 实现Resolver接口
func (s *ServiceResolver) Name() string {
	return "service"
}

// apiResponse 打码服务的统一响应结构
type apiResponse struct {
	Status  int    `json:"status"`  // 1=成功
	Request string `json:"request"` // 票据/令牌/错误码
}

// Resolve 实现Resolver接口
// 服务错误和超时统一映射为ErrUnresolved,不向控制器泄漏服务细节
func (s *ServiceResolver) Resolve(ctx context.Context, challenge *Challenge) (*Solution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ticket, err := s.submit(ctx, challenge)
	if err != nil {
		utils.Warnf("验证码提交失败: %v", err)
		return nil, ErrUnresolved
	}

	utils.Debugf("验证码任务已提交 [ticket=%s], 开始轮询", ticket)
	return s.poll(ctx, ticket, challenge.Type)
}

// submit 提交挑战,返回服务票据
func (s *ServiceResolver) submit(ctx context.Context, challenge *Challenge) (string, error) {
	params := url.Values{}
	params.Set("key", s.config.APIKey)
	params.Set("json", "1")

	switch challenge.Type {
	case TypeRecaptchaV2, TypeRecaptchaV3:
		params.Set("method", "userrecaptcha")
		params.Set("googlekey", challenge.SiteKey)
		params.Set("pageurl", challenge.SiteURL)
		if challenge.Type == TypeRecaptchaV3 {
			params.Set("version", "v3")
			action := challenge.Extra["action"]
			if action == "" {
				action = "verify"
			}
			params.Set("action", action)
		}
	case TypeHCaptcha:
		params.Set("method", "hcaptcha")
		params.Set("sitekey", challenge.SiteKey)
		params.Set("pageurl", challenge.SiteURL)
	case TypeTurnstile:
		params.Set("method", "turnstile")
		params.Set("sitekey", challenge.SiteKey)
		params.Set("pageurl", challenge.SiteURL)
	case TypeImageText:
		params.Set("method", "base64")
		params.Set("body", challenge.ImageBase64)
	default:
		return "", fmt.Errorf("服务不支持的挑战类型: %s", challenge.Type)
	}

	resp, err := s.post(ctx, s.config.APIURL+"/in.php", params)
	if err != nil {
		return "", err
	}
	if resp.Status != 1 {
		return "", fmt.Errorf("服务拒绝任务: %s", resp.Request)
	}
	return resp.Request, nil
}

// poll 轮询票据直到得到结果或超时
func (s *ServiceResolver) poll(ctx context.Context, ticket string, challengeType ChallengeType) (*Solution, error) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.Warnf("验证码轮询超时 [ticket=%s]", ticket)
			return nil, ErrUnresolved
		case <-ticker.C:
		}

		params := url.Values{}
		params.Set("key", s.config.APIKey)
		params.Set("action", "get")
		params.Set("id", ticket)
		params.Set("json", "1")

		resp, err := s.get(ctx, s.config.APIURL+"/res.php", params)
		if err != nil {
			utils.Warnf("验证码轮询请求失败: %v", err)
			return nil, ErrUnresolved
		}

		if resp.Status == 1 {
			utils.Infof("✅ 验证码已解决 [ticket=%s]", ticket)
			if challengeType == TypeImageText {
				return &Solution{Text: resp.Request}, nil
			}
			return &Solution{Token: resp.Request}, nil
		}

		if resp.Request != "CAPCHA_NOT_READY" {
			utils.Warnf("验证码服务报告失败: %s", resp.Request)
			return nil, ErrUnresolved
		}
		// 未就绪,继续轮询
	}
}

// post 发送表单POST并解析统一响应
func (s *ServiceResolver) post(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

// get 发送GET并解析统一响应
func (s *ServiceResolver) get(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return s.do(req)
}

// do 执行请求并解码JSON响应
func (s *ServiceResolver) do(req *http.Request) (*apiResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, err
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("解析服务响应失败: %w", err)
	}
	return &parsed, nil
}
