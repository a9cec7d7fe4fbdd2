// Package txid 결제건 연계용 복합 거래 ID(prefix + 숫자 본문 + leg suffix) 변환
package txid

import (
	"fmt"
	"strings"
)

const (
	DefaultPrefix       = "SV"
	DefaultSuffixFormat = "H%d"
	DefaultBaseLength   = 10
)

// Config 복합 ID 형식 설정
type Config struct {
	Prefix       string
	SuffixFormat string
	BaseLength   int
}

// DefaultConfig 기본 설정 (SV / H%d / 10)
func DefaultConfig() Config {
	return Config{
		Prefix:       DefaultPrefix,
		SuffixFormat: DefaultSuffixFormat,
		BaseLength:   DefaultBaseLength,
	}
}

// withDefaults 비어있는 필드만 기본값으로 채움
func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.SuffixFormat == "" {
		c.SuffixFormat = DefaultSuffixFormat
	}
	if c.BaseLength <= 0 {
		c.BaseLength = DefaultBaseLength
	}
	return c
}

// ExtractBaseID 복합 ID에서 기준 주문 ID 추출
//
// ex) SV000012765016H1 -> 0012765016
func ExtractBaseID(compositeID string, cfg Config) string {
	if compositeID == "" {
		return compositeID
	}
	cfg = cfg.withDefaults()

	body := strings.TrimPrefix(compositeID, cfg.Prefix)

	marker := cfg.SuffixFormat[:1]
	idx := strings.Index(body, marker)
	if idx < 0 {
		return body
	}

	base := body[:idx]
	if len(base) > cfg.BaseLength {
		base = base[len(base)-cfg.BaseLength:]
	}
	return base
}

// ComposeID 기준 ID와 leg 번호로 복합 ID 생성
func ComposeID(baseID string, leg int, cfg Config) string {
	cfg = cfg.withDefaults()
	return cfg.Prefix + baseID + fmt.Sprintf(cfg.SuffixFormat, leg)
}
