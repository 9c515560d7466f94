package checkproxy

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"h12.io/socks"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	Version = "v0.2.0"

	DefaultCheckURL = "https://api.ipify.org?format=json"
	DefaultTimeout  = time.Second * 6

	defaultCheckHeader = "Rproxy"
)

// Result 一次检查的结果，失败只通过 Valid 和 Reason 体现，不会返回error
type Result struct {
	Valid      bool          `json:"valid"`       // 是否可用
	Reason     string        `json:"reason"`      // 失败原因，只做日志提示
	StatusCode int           `json:"status_code"` // http状态码，没有响应为0
	Cost       time.Duration `json:"cost"`        // 耗时
	ExitIP     string        `json:"exit_ip"`     // 目标看到的出口ip，返回ipify格式的json才有
}

func (r Result) String() string {
	d, _ := json.Marshal(r)
	return string(d)
}

// Prober 检查代理是否可用
type Prober interface {
	// Probe 通过代理请求一次 targetURL，超时、连接失败、非2xx都算失败
	Probe(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) Result
}

// ProberFunc 函数形式的 Prober
type ProberFunc func(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) Result

// Probe 实现 Prober
func (f ProberFunc) Probe(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) Result {
	return f(ctx, p, targetURL, timeout)
}

// TransportFunc 根据代理生成 http.Transport
type TransportFunc func(p *proxyurl.Proxy) *http.Transport

// Transports 按协议区分的 TransportFunc
var Transports = map[string]TransportFunc{
	proxyurl.SchemeHTTP: func(p *proxyurl.Proxy) *http.Transport {
		return &http.Transport{Proxy: http.ProxyURL(p.URL())}
	},
	proxyurl.SchemeHTTPS: func(p *proxyurl.Proxy) *http.Transport {
		return &http.Transport{Proxy: http.ProxyURL(p.URL())}
	},
	proxyurl.SchemeSOCKS4: func(p *proxyurl.Proxy) *http.Transport {
		return &http.Transport{DialContext: Socks4Dial(p)}
	},
	proxyurl.SchemeSOCKS5: func(p *proxyurl.Proxy) *http.Transport {
		return &http.Transport{Proxy: http.ProxyURL(p.URL())}
	},
}

// Socks4Dial socks4 拨号，有用户名的时候放在地址里作为 user id
func Socks4Dial(p *proxyurl.Proxy) func(ctx context.Context, network, addr string) (net.Conn, error) {
	uri := "socks4://" + p.Address()
	if p.Username != "" {
		uri = "socks4://" + url.PathEscape(p.Username) + "@" + p.Address()
	}
	return ContextDial(socks.Dial(uri))
}

// ContextDial 包装不支持ctx的拨号函数，ctx结束的时候直接返回，晚到的连接会被关闭
func ContextDial(dial func(network, addr string) (net.Conn, error)) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		type result struct {
			conn net.Conn
			err  error
		}
		ch := make(chan result, 1)
		go func() {
			conn, err := dial(network, addr)
			ch <- result{conn, err}
		}()
		select {
		case <-ctx.Done():
			go func() {
				if r := <-ch; r.conn != nil {
					r.conn.Close()
				}
			}()
			return nil, ctx.Err()
		case r := <-ch:
			return r.conn, r.err
		}
	}
}

// NewHttpClient 生成走代理的http客户端
func NewHttpClient(p *proxyurl.Proxy, timeout time.Duration) (*http.Client, error) {
	transportFunc, ok := Transports[p.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", proxyurl.ErrUnsupportedScheme, p.Scheme)
	}
	tr := transportFunc(p)
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	tr.IdleConnTimeout = timeout
	tr.ExpectContinueTimeout = timeout
	tr.DisableKeepAlives = true
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}, nil
}

// HTTPProber 默认的检查实现：通过代理发起一次GET请求
type HTTPProber struct {
	// Header 附加的请求头，为空的时候带上 Rproxy: Version
	Header http.Header
}

// NewHTTPProber 创建 HTTPProber
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{}
}

// Probe 实现 Prober
func (hp *HTTPProber) Probe(ctx context.Context, p *proxyurl.Proxy, targetURL string, timeout time.Duration) (r Result) {
	if p == nil {
		return Result{Reason: "nil proxy"}
	}
	l := logger.WithComponent("checkproxy")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if targetURL == "" {
		targetURL = DefaultCheckURL
	}

	defer func() {
		// 检查不能把错误抛给调用方
		if e := recover(); e != nil {
			r = Result{Reason: fmt.Sprintf("probe panic: %v", e)}
		}
		l.Debug().Str("proxy", p.String()).Bool("valid", r.Valid).Str("reason", r.Reason).
			Dur("cost", r.Cost).Msg("probe finished")
	}()

	client, err := NewHttpClient(p, timeout)
	if err != nil {
		return Result{Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return Result{Reason: "new request: " + err.Error()}
	}
	for k, v := range hp.Header {
		req.Header[k] = v
	}
	if len(hp.Header) == 0 {
		req.Header.Set(defaultCheckHeader, Version)
	}

	startTime := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Result{Reason: errorReason(err), Cost: time.Since(startTime)}
	}
	defer resp.Body.Close()

	r = Result{
		StatusCode: resp.StatusCode,
		Cost:       time.Since(startTime),
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.Reason = headerString(resp)
		return r
	}

	r.Valid = true
	r.ExitIP = exitIP(resp)
	return r
}

func errorReason(err error) string {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

// exitIP 从 {"ip":"1.2.3.4"} 格式的返回中提取出口ip
func exitIP(resp *http.Response) string {
	if !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return ""
	}
	var rs struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"` // httpbin 的格式
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&rs); err != nil {
		return ""
	}
	if rs.IP != "" {
		return rs.IP
	}
	return rs.Origin
}
