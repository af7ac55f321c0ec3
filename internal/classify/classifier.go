// Package classify 将单次尝试的原始观察结果归类为固定的防御信号集合
//
// 核心只定义Signal词汇表和"每次观察恰好产生一个信号"的保证;
// 谓词(状态码/正文标记/结构标记)由来源注册时提供,无谓词命中时
// 保守地归类为Unknown。
package classify

import (
	"bytes"
	"strings"

	"github.com/RecoveryAshes/ScrapeSiege/internal/models"
)

// Rule 单条分类规则
// Match返回true时产生对应Signal;规则按注册顺序求值,首个命中者胜出
type Rule struct {
	Signal models.Signal
	Match  func(obs *models.Observation) bool
}

// Classifier 有序规则分类器
type Classifier struct {
	rules []Rule
}

// New 创建分类器
func New(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Append 追加规则(在已有规则之后求值)
func (c *Classifier) Append(rules ...Rule) *Classifier {
	c.rules = append(c.rules, rules...)
	return c
}

// Classify 归类一次观察结果
// 保证恰好产生一个Signal;nil观察或无规则命中 → Unknown
func (c *Classifier) Classify(obs *models.Observation) models.Signal {
	if obs == nil {
		return models.SignalUnknown
	}
	for _, rule := range c.rules {
		if rule.Match != nil && rule.Match(obs) {
			return rule.Signal
		}
	}
	return models.SignalUnknown
}

// StatusRule 按HTTP状态码匹配
func StatusRule(signal models.Signal, codes ...int) Rule {
	return Rule{
		Signal: signal,
		Match: func(obs *models.Observation) bool {
			for _, code := range codes {
				if obs.StatusCode == code {
					return true
				}
			}
			return false
		},
	}
}

// BodyMarkerRule 按正文标记匹配(任一子串命中即成立)
func BodyMarkerRule(signal models.Signal, markers ...string) Rule {
	byteMarkers := make([][]byte, len(markers))
	for i, m := range markers {
		byteMarkers[i] = []byte(m)
	}
	return Rule{
		Signal: signal,
		Match: func(obs *models.Observation) bool {
			for _, m := range byteMarkers {
				if bytes.Contains(obs.Body, m) {
					return true
				}
			}
			return false
		},
	}
}

// URLMarkerRule 按最终URL标记匹配(站点常以跳转暴露防御: 登录页/验证码页)
func URLMarkerRule(signal models.Signal, markers ...string) Rule {
	return Rule{
		Signal: signal,
		Match: func(obs *models.Observation) bool {
			for _, m := range markers {
				if strings.Contains(obs.URL, m) {
					return true
				}
			}
			return false
		},
	}
}

// MetaRule 按策略附加标记匹配
func MetaRule(signal models.Signal, key, value string) Rule {
	return Rule{
		Signal: signal,
		Match: func(obs *models.Observation) bool {
			return obs.MetaValue(key) == value
		},
	}
}

// DefaultRules 通用规则集
// 覆盖大多数站点用标准状态码表达的防御行为,末尾2xx→Ok。
// 来源注册时通常将站点专属规则放在这些规则之前。
func DefaultRules() []Rule {
	return []Rule{
		StatusRule(models.SignalRateLimited, 429),
		StatusRule(models.SignalLoginRequired, 401),
		StatusRule(models.SignalBanned, 403),
		StatusRule(models.SignalContentNotFound, 404, 410),
		StatusRule(models.SignalPaywalled, 402),
		{
			Signal: models.SignalOk,
			Match: func(obs *models.Observation) bool {
				return obs.StatusCode >= 200 && obs.StatusCode < 300
			},
		},
	}
}
