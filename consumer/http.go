// Package consumer 把选中的代理转换成http客户端、拨号器或者浏览器可以直接使用的形式
package consumer

import (
	"context"
	"encoding/base64"
	"fmt"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/elazarl/goproxy"
	netproxy "golang.org/x/net/proxy"
	"net"
	"net/http"
	"time"
)

// DialFunc 通过代理建立到 addr 的连接
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

var connectDialer = goproxy.NewProxyHttpServer()

// ProxyConfig 类似 requests 的 proxies 参数，http和https都走同一个代理
func ProxyConfig(p *proxyurl.Proxy) map[string]string {
	u := p.URL().String()
	return map[string]string{
		"http":  u,
		"https": u,
	}
}

// Transport 走代理的 http.Transport，和验证时使用的一致
func Transport(p *proxyurl.Proxy) (*http.Transport, error) {
	f, ok := checkproxy.Transports[p.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", proxyurl.ErrUnsupportedScheme, p.Scheme)
	}
	return f(p), nil
}

// HTTPClient 走代理的http客户端
func HTTPClient(p *proxyurl.Proxy, timeout time.Duration) (*http.Client, error) {
	return checkproxy.NewHttpClient(p, timeout)
}

// Dialer 生成通过代理建立tcp连接的函数：
// http/https 使用 CONNECT，socks5 使用 x/net/proxy，socks4 使用 h12.io/socks
func Dialer(p *proxyurl.Proxy) (DialFunc, error) {
	switch p.Scheme {
	case proxyurl.SchemeHTTP, proxyurl.SchemeHTTPS:
		var handler func(req *http.Request)
		if p.HasAuth() {
			auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(p.Username+":"+p.Password))
			handler = func(req *http.Request) {
				req.Header.Set("Proxy-Authorization", auth)
			}
		}
		dial := connectDialer.NewConnectDialToProxyWithHandler(p.Scheme+"://"+p.Address(), handler)
		if dial == nil {
			return nil, fmt.Errorf("consumer: cannot dial through %s", p)
		}
		return checkproxy.ContextDial(dial), nil

	case proxyurl.SchemeSOCKS5:
		d, err := netproxy.FromURL(p.URL(), netproxy.Direct)
		if err != nil {
			return nil, err
		}
		if cd, ok := d.(netproxy.ContextDialer); ok {
			return cd.DialContext, nil
		}
		return checkproxy.ContextDial(d.Dial), nil

	case proxyurl.SchemeSOCKS4:
		return checkproxy.Socks4Dial(p), nil
	}
	return nil, fmt.Errorf("%w: %s", proxyurl.ErrUnsupportedScheme, p.Scheme)
}

