package pool

import (
	"errors"
	"github.com/LubyRuffy/rproxypool/proxyurl"
)

var (
	// ErrSourceUnavailable 候选列表无法读取
	ErrSourceUnavailable = errors.New("pool: proxy source unavailable")
	// ErrNoValidProxies 验证完没有一个可用的代理，包括候选列表为空
	ErrNoValidProxies = errors.New("pool: no valid proxies")
)

// Status 代理的验证状态
type Status int

const (
	Untested Status = iota // 还没有测试
	Valid                  // 可用
	Invalid                // 不可用，会从列表中删除
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "untested"
	}
}

// MarshalText 用于json输出
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record 代理记录
type Record struct {
	Raw    string          `json:"raw"`    // 列表中的原始字符串
	Status Status          `json:"status"` // 只有Pool在验证的时候会修改
	Proxy  *proxyurl.Proxy `json:"-"`      // 解析失败为nil
	Err    error           `json:"-"`      // 解析失败的原因
}

func newRecord(raw string) *Record {
	r := &Record{Raw: raw, Status: Untested}
	r.Proxy, r.Err = proxyurl.Parse(raw)
	return r
}
