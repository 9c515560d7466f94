// Package rotation 从验证过的代理中按策略选择下一个代理
package rotation

import (
	"errors"
	"fmt"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/patrickmn/go-cache"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrEmptyPool 没有可以选择的代理
var ErrEmptyPool = errors.New("rotation: empty proxy pool")

// Mode 选择策略
type Mode int

const (
	PerCall Mode = iota // 每次调用按顺序轮换
	Sticky              // 一直返回第一次选择的，直到 Reset
	Random              // 随机
)

func (m Mode) String() string {
	switch m {
	case PerCall:
		return "request"
	case Sticky:
		return "session"
	case Random:
		return "random"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalText 用于json输出
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 和 MarshalText 对应
func (m *Mode) UnmarshalText(text []byte) error {
	v, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseMode 解析配置中的 rotate_mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "request", "per_call", "percall", "round_robin":
		return PerCall, nil
	case "session", "sticky":
		return Sticky, nil
	case "random":
		return Random, nil
	}
	return PerCall, fmt.Errorf("rotation: unknown mode %q (must be request, session or random)", s)
}

// Parse 解析代理字符串，给使用方直接调用
func Parse(raw string) (*proxyurl.Proxy, error) {
	return proxyurl.Parse(raw)
}

// Option 修改 Selector 参数
type Option func(*Selector)

// WithStartIndex Sticky 模式第一次选择的位置
func WithStartIndex(i int) Option {
	return func(s *Selector) {
		if i > 0 {
			s.start = i
		}
	}
}

// WithRand 指定随机数来源，测试的时候可以固定种子
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rnd = r }
}

// WithSessionTTL 会话绑定代理的过期时间
func WithSessionTTL(d time.Duration) Option {
	return func(s *Selector) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// Selector 在一份验证过的代理快照上做选择
type Selector struct {
	proxies []*proxyurl.Proxy
	mode    Mode
	start   int

	cursor atomic.Uint64

	stickyMu sync.Mutex
	sticky   *proxyurl.Proxy

	rndMu sync.Mutex
	rnd   *rand.Rand

	sessionTTL time.Duration
	sessions   *cache.Cache
}

// New 创建 Selector，proxies 会被复制
func New(proxies []*proxyurl.Proxy, mode Mode, opts ...Option) *Selector {
	s := &Selector{
		proxies:    append([]*proxyurl.Proxy(nil), proxies...),
		mode:       mode,
		sessionTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rnd == nil {
		s.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.sessions = cache.New(s.sessionTTL, s.sessionTTL)
	return s
}

// FromPool 用代理池当前可用的代理创建 Selector
func FromPool(p *pool.Pool, mode Mode, opts ...Option) *Selector {
	return New(p.Valid(), mode, opts...)
}

// Mode 默认的选择策略
func (s *Selector) Mode() Mode {
	return s.mode
}

// Len 可选择的代理数量
func (s *Selector) Len() int {
	return len(s.proxies)
}

// Proxies 快照副本
func (s *Selector) Proxies() []*proxyurl.Proxy {
	return append([]*proxyurl.Proxy(nil), s.proxies...)
}

// Next 按默认策略选择
func (s *Selector) Next() (*proxyurl.Proxy, error) {
	return s.Select(s.mode)
}

// Select 按指定策略选择
func (s *Selector) Select(mode Mode) (*proxyurl.Proxy, error) {
	n := len(s.proxies)
	if n == 0 {
		return nil, ErrEmptyPool
	}

	switch mode {
	case Sticky:
		s.stickyMu.Lock()
		defer s.stickyMu.Unlock()
		if s.sticky == nil {
			s.sticky = s.proxies[s.start%n]
		}
		return s.sticky, nil
	case Random:
		s.rndMu.Lock()
		defer s.rndMu.Unlock()
		return s.proxies[s.rnd.Intn(n)], nil
	default:
		// Add之后减一，并发调用也不会拿到同一个位置
		i := s.cursor.Add(1) - 1
		return s.proxies[i%uint64(n)], nil
	}
}

// Reset 清除 Sticky 模式缓存的代理，下一次重新从起始位置选择
func (s *Selector) Reset() {
	s.stickyMu.Lock()
	s.sticky = nil
	s.stickyMu.Unlock()
}

// ForSession 每个会话固定使用一个代理，新会话按顺序轮换分配，超过 SessionTTL 没有使用则重新分配
func (s *Selector) ForSession(key string) (*proxyurl.Proxy, error) {
	if v, found := s.sessions.Get(key); found {
		p := v.(*proxyurl.Proxy)
		s.sessions.SetDefault(key, p)
		return p, nil
	}

	p, err := s.Select(PerCall)
	if err != nil {
		return nil, err
	}
	if err = s.sessions.Add(key, p, cache.DefaultExpiration); err != nil {
		// 同时有其他调用分配了，用先分配的
		if v, found := s.sessions.Get(key); found {
			return v.(*proxyurl.Proxy), nil
		}
		s.sessions.SetDefault(key, p)
	}
	return p, nil
}

// EndSession 释放会话绑定的代理
func (s *Selector) EndSession(key string) {
	s.sessions.Delete(key)
}

// Sessions 当前存活的会话数
func (s *Selector) Sessions() int {
	return s.sessions.ItemCount()
}
