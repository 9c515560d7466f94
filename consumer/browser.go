package consumer

import (
	"context"
	"fmt"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Flag 浏览器启动参数，Value为空表示开关
type Flag struct {
	Name  string
	Value string
}

func (f Flag) String() string {
	if f.Value == "" {
		return "--" + f.Name
	}
	return "--" + f.Name + "=" + f.Value
}

// BrowserFlags 使用代理启动浏览器需要的参数，认证信息不能放在 proxy-server 里面
func BrowserFlags(p *proxyurl.Proxy) []Flag {
	return []Flag{
		{Name: "no-sandbox"},
		{Name: "disable-dev-shm-usage"},
		{Name: "disable-gpu"},
		{Name: "log-level", Value: "3"},
		{Name: "proxy-server", Value: p.BrowserProxy().Server},
		{Name: "proxy-bypass-list", Value: "<-loopback>"},
		{Name: "ignore-certificate-errors"},
		{Name: "disable-blink-features", Value: "BlockCredentialedSubresources"},
	}
}

// BrowserOptions 浏览器启动参数
type BrowserOptions struct {
	Bin      string // 浏览器路径，为空的时候由rod自动查找或者下载
	Headless bool
}

// BrowserSession 一个带代理的浏览器会话，调用方负责 Close
type BrowserSession struct {
	Proxy    *proxyurl.Proxy
	Browser  *rod.Browser
	launcher *launcher.Launcher
	cancel   context.CancelFunc
}

// LaunchBrowser 启动浏览器并连接。
// http/https代理有认证信息的时候，通过 Fetch 事件响应代理的认证请求
func LaunchBrowser(ctx context.Context, p *proxyurl.Proxy, opts BrowserOptions) (*BrowserSession, error) {
	l := logger.WithComponent("consumer/browser")
	for _, w := range p.Warnings() {
		l.Warn().Str("proxy", p.String()).Msg(w)
	}

	ctx, cancel := context.WithCancel(ctx)
	ln := launcher.New().Context(ctx).Headless(opts.Headless)
	if opts.Bin != "" {
		ln = ln.Bin(opts.Bin)
	}
	for _, f := range BrowserFlags(p) {
		if f.Value == "" {
			ln = ln.Set(flags.Flag(f.Name))
		} else {
			ln = ln.Set(flags.Flag(f.Name), f.Value)
		}
	}

	u, err := ln.Launch()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err = b.Connect(); err != nil {
		ln.Kill()
		cancel()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	if auth := p.BrowserProxy().Auth; auth != nil {
		// 整个会话只开启一次 Fetch，之后每个请求都要放行，每次认证都要回应
		if err = (proto.FetchEnable{HandleAuthRequests: true}).Call(b); err != nil {
			b.Close()
			ln.Kill()
			cancel()
			return nil, fmt.Errorf("enable proxy auth: %w", err)
		}
		pa := &proxyAuth{client: b, username: auth.Username, password: auth.Password}
		wait := b.Context(ctx).EachEvent(
			func(e *proto.FetchRequestPaused) { go pa.paused(e) },
			func(e *proto.FetchAuthRequired) { go pa.required(e) },
		)
		go wait()
	}

	l.Info().Str("proxy", p.String()).Msg("browser launched")
	return &BrowserSession{
		Proxy:    p,
		Browser:  b,
		launcher: ln,
		cancel:   cancel,
	}, nil
}

// proxyAuth 回应浏览器的代理认证
type proxyAuth struct {
	client   proto.Client
	username string
	password string
}

func (a *proxyAuth) paused(e *proto.FetchRequestPaused) {
	if err := (proto.FetchContinueRequest{RequestID: e.RequestID}).Call(a.client); err != nil {
		l := logger.WithComponent("consumer/browser")
		l.Debug().Err(err).Msg("continue request failed")
	}
}

func (a *proxyAuth) required(e *proto.FetchAuthRequired) {
	resp := &proto.FetchAuthChallengeResponse{
		Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
		Username: a.username,
		Password: a.password,
	}
	// 不是代理的认证交给浏览器默认处理
	if e.AuthChallenge == nil || e.AuthChallenge.Source != proto.FetchAuthChallengeSourceProxy {
		resp = &proto.FetchAuthChallengeResponse{Response: proto.FetchAuthChallengeResponseResponseDefault}
	}
	if err := (proto.FetchContinueWithAuth{RequestID: e.RequestID, AuthChallengeResponse: resp}).Call(a.client); err != nil {
		l := logger.WithComponent("consumer/browser")
		l.Debug().Err(err).Msg("continue with auth failed")
	}
}

// Open 打开页面
func (s *BrowserSession) Open(url string) (*rod.Page, error) {
	return s.Browser.Page(proto.TargetCreateTarget{URL: url})
}

// Close 关闭浏览器
func (s *BrowserSession) Close() error {
	err := s.Browser.Close()
	s.launcher.Kill()
	s.cancel()
	return err
}
