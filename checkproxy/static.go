package checkproxy

import (
	"context"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"sync"
	"time"
)

// StaticProber 按原始字符串返回固定结果，不访问网络，没有配置的默认失败
type StaticProber struct {
	Results map[string]bool
	// Delay 模拟耗时，会响应ctx取消
	Delay time.Duration

	mu    sync.Mutex
	calls []string
}

// NewStaticProber 创建 StaticProber
func NewStaticProber(results map[string]bool) *StaticProber {
	return &StaticProber{Results: results}
}

// Probe 实现 Prober
func (sp *StaticProber) Probe(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) Result {
	sp.mu.Lock()
	sp.calls = append(sp.calls, p.Raw)
	sp.mu.Unlock()

	if sp.Delay > 0 {
		select {
		case <-ctx.Done():
			return Result{Reason: ctx.Err().Error()}
		case <-time.After(sp.Delay):
		}
	}

	if sp.Results[p.Raw] {
		return Result{Valid: true, StatusCode: 200}
	}
	return Result{Reason: "static: marked invalid"}
}

// Calls 被检查过的原始字符串，按调用顺序
func (sp *StaticProber) Calls() []string {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return append([]string(nil), sp.calls...)
}
