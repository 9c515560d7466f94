package pool

import (
	"context"
	"errors"
	"fmt"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/gammazero/workerpool"
	"sync"
	"time"
)

// Options 验证参数
type Options struct {
	TargetURL    string        // 检查的目标地址
	Timeout      time.Duration // 单个代理的检查超时
	Concurrency  int           // 同时检查的数量，1为顺序检查
	RecheckValid bool          // Revalidate 的时候是否重新检查已经可用的代理

	// OnProbe 每个检查结果被采纳之后回调，被取消的检查不会回调
	OnProbe func(rec Record, res checkproxy.Result)
}

// Option 修改 Options
type Option func(*Options)

// WithTargetURL 设置检查地址
func WithTargetURL(u string) Option {
	return func(o *Options) { o.TargetURL = u }
}

// WithTimeout 设置单个检查的超时
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithConcurrency 设置并发数
func WithConcurrency(n int) Option {
	return func(o *Options) { o.Concurrency = n }
}

// WithRecheckValid 重新验证的时候也检查已经可用的代理
func WithRecheckValid(b bool) Option {
	return func(o *Options) { o.RecheckValid = b }
}

// WithOnProbe 设置检查结果回调
func WithOnProbe(f func(rec Record, res checkproxy.Result)) Option {
	return func(o *Options) { o.OnProbe = f }
}

// Pool 代理池，保存 Valid 和 Untested 的记录，保持列表中的顺序
type Pool struct {
	store  Store
	target int
	prober checkproxy.Prober
	opts   Options

	passMu  sync.Mutex // 同一时间只允许一个验证过程
	mu      sync.RWMutex
	records []*Record
}

// LoadAndValidate 从 store 读取候选列表，按顺序检查直到有 target 个可用代理，
// 没检查到的保持 Untested，最后把 Valid 和 Untested 的写回 store。
// 一个可用的都没有的时候返回 ErrNoValidProxies
func LoadAndValidate(ctx context.Context, store Store, target int, prober checkproxy.Prober, opts ...Option) (*Pool, error) {
	if target <= 0 {
		return nil, fmt.Errorf("pool: target valid count must be positive, got %d", target)
	}
	if prober == nil {
		return nil, errors.New("pool: prober is required")
	}

	p := &Pool{
		store:  store,
		target: target,
		prober: prober,
		opts: Options{
			TargetURL:   checkproxy.DefaultCheckURL,
			Timeout:     checkproxy.DefaultTimeout,
			Concurrency: 1,
		},
	}
	for _, opt := range opts {
		opt(&p.opts)
	}
	if p.opts.Concurrency <= 0 {
		p.opts.Concurrency = 1
	}

	raws, err := store.Load()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, len(raws))
	for i, raw := range raws {
		records[i] = newRecord(raw)
	}

	p.passMu.Lock()
	defer p.passMu.Unlock()
	if err = p.runPass(ctx, records); err != nil {
		return nil, err
	}
	return p, nil
}

// Revalidate 对当前列表重新进行一次验证。
// 已经可用的代理默认直接保留，RecheckValid 为 true 的时候重新检查
func (p *Pool) Revalidate(ctx context.Context) error {
	// 必须在复制列表之前加锁，否则并发的两次验证会基于同一个旧列表
	p.passMu.Lock()
	defer p.passMu.Unlock()

	p.mu.RLock()
	records := make([]*Record, len(p.records))
	for i, r := range p.records {
		rec := *r
		if p.opts.RecheckValid && rec.Status == Valid {
			rec.Status = Untested
		}
		records[i] = &rec
	}
	p.mu.RUnlock()

	return p.runPass(ctx, records)
}

// runPass 调用方需要持有 passMu
func (p *Pool) runPass(ctx context.Context, records []*Record) error {
	l := logger.WithComponent("pool")
	start := time.Now()

	valid := p.validate(ctx, records)

	survivors := make([]*Record, 0, len(records))
	raws := make([]string, 0, len(records))
	var invalid, untested int
	for _, r := range records {
		switch r.Status {
		case Invalid:
			invalid++
			continue
		case Untested:
			untested++
		}
		survivors = append(survivors, r)
		raws = append(raws, r.Raw)
	}

	if err := p.store.Save(raws); err != nil {
		return fmt.Errorf("pool: save proxy list: %w", err)
	}

	p.mu.Lock()
	p.records = survivors
	p.mu.Unlock()

	l.Info().
		Int("candidates", len(records)).
		Int("valid", valid).
		Int("invalid", invalid).
		Int("untested", untested).
		Int("target", p.target).
		Dur("cost", time.Since(start)).
		Msg("validation pass finished")

	if valid == 0 {
		return fmt.Errorf("%w: %d candidates checked", ErrNoValidProxies, len(records))
	}
	return nil
}

type outcome struct {
	idx int
	res checkproxy.Result
}

// validate 检查可以并发，但是结果严格按列表顺序采纳，
// 所以最终可用的代理和顺序检查的结果一致。达到目标后取消剩下的检查，对应记录保持 Untested
func (p *Pool) validate(ctx context.Context, records []*Record) int {
	l := logger.WithComponent("pool")

	ctx, cancel := context.WithCancel(ctx)
	wp := workerpool.New(p.opts.Concurrency)
	defer wp.StopWait()
	defer cancel()

	outcomes := make(chan outcome, len(records))
	results := make(map[int]checkproxy.Result)

	valid := 0
	next := 0       // 下一个要采纳结果的位置
	dispatched := 0 // 下一个要派发检查的位置

	dispatch := func() {
		for dispatched < len(records) && dispatched < next+p.opts.Concurrency {
			i := dispatched
			dispatched++
			rec := records[i]
			if rec.Status != Untested || rec.Proxy == nil {
				continue
			}
			wp.Submit(func() {
				outcomes <- outcome{idx: i, res: p.prober.Probe(ctx, rec.Proxy, p.opts.TargetURL, p.opts.Timeout)}
			})
		}
	}

commit:
	for next < len(records) && valid < p.target {
		dispatch()

		rec := records[next]
		if rec.Status == Valid {
			valid++
			next++
			continue
		}
		if rec.Status == Invalid {
			next++
			continue
		}
		if rec.Proxy == nil {
			l.Warn().Str("proxy", rec.Raw).Err(rec.Err).Msg("unparseable proxy dropped")
			rec.Status = Invalid
			next++
			continue
		}

		res, ok := results[next]
		if !ok {
			select {
			case o := <-outcomes:
				results[o.idx] = o.res
			case <-ctx.Done():
				break commit
			}
			continue
		}
		delete(results, next)

		if !res.Valid && ctx.Err() != nil {
			// 调用方取消，不是代理的问题
			break
		}
		if res.Valid {
			rec.Status = Valid
			valid++
		} else {
			rec.Status = Invalid
			l.Debug().Str("proxy", rec.Proxy.String()).Str("reason", res.Reason).Msg("proxy invalid")
		}
		if p.opts.OnProbe != nil {
			p.opts.OnProbe(*rec, res)
		}
		next++
	}

	return valid
}

// Target 可用代理的目标数量
func (p *Pool) Target() int {
	return p.target
}

// Len 当前列表的数量（Valid + Untested）
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Records 当前列表的副本
func (p *Pool) Records() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	list := make([]Record, len(p.records))
	for i, r := range p.records {
		list[i] = *r
	}
	return list
}

// Valid 可用代理，按列表顺序
func (p *Pool) Valid() []*proxyurl.Proxy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var list []*proxyurl.Proxy
	for _, r := range p.records {
		if r.Status == Valid {
			list = append(list, r.Proxy)
		}
	}
	return list
}
