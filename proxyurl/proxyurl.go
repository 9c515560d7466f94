// Package proxyurl 解析代理地址字符串，并提供给http客户端和浏览器使用的不同表示形式
package proxyurl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var (
	// ErrMalformedProxy host/port无法提取，或者用户名密码不成对
	ErrMalformedProxy = errors.New("proxyurl: malformed proxy")
	// ErrUnsupportedScheme 协议不是 http/https/socks4/socks5
	ErrUnsupportedScheme = errors.New("proxyurl: unsupported scheme")
)

// ParseError 解析失败的具体信息，可以用 errors.Is 匹配 ErrMalformedProxy 或 ErrUnsupportedScheme
type ParseError struct {
	Raw    string
	Reason string
	kind   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q: %s", e.kind.Error(), e.Raw, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.kind
}

func malformed(raw, reason string) error {
	return &ParseError{Raw: raw, Reason: reason, kind: ErrMalformedProxy}
}

// 支持的协议
const (
	SchemeHTTP   = "http"
	SchemeHTTPS  = "https"
	SchemeSOCKS4 = "socks4"
	SchemeSOCKS5 = "socks5"
)

var supportedSchemes = map[string]bool{
	SchemeHTTP:   true,
	SchemeHTTPS:  true,
	SchemeSOCKS4: true,
	SchemeSOCKS5: true,
}

// Proxy 解析后的代理
type Proxy struct {
	Raw      string `json:"raw"`                // 原始字符串
	Scheme   string `json:"scheme"`             // http/https/socks4/socks5
	Host     string `json:"host"`               // ip或者域名
	Port     int    `json:"port"`               // 端口
	Username string `json:"username,omitempty"` // 用户名，和密码同时存在
	Password string `json:"-"`                  // 密码
}

// Parse 解析代理字符串，支持：
//   - [scheme://][user:pass@]host:port
//   - host:port:user:pass
//
// 没有scheme的时候默认为http
func Parse(raw string) (*Proxy, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, malformed(raw, "empty")
	}

	p := &Proxy{Raw: s, Scheme: SchemeHTTP}
	if i := strings.Index(s, "://"); i >= 0 {
		p.Scheme = strings.ToLower(s[:i])
		s = s[i+3:]
	}
	if !supportedSchemes[p.Scheme] {
		return nil, &ParseError{Raw: raw, Reason: "scheme " + p.Scheme, kind: ErrUnsupportedScheme}
	}
	s = strings.TrimSuffix(s, "/")

	hostport := s
	var userinfo string
	hasUserinfo := false
	if i := strings.LastIndex(s, "@"); i >= 0 {
		userinfo, hostport = s[:i], s[i+1:]
		hasUserinfo = true
	} else if parts := strings.Split(s, ":"); len(parts) == 4 && !strings.Contains(s, "[") {
		// 代理列表常见格式 ip:port:user:pass
		hostport = parts[0] + ":" + parts[1]
		userinfo = parts[2] + ":" + parts[3]
		hasUserinfo = true
	}

	if hasUserinfo {
		user, pass, ok := strings.Cut(userinfo, ":")
		if !ok || user == "" || pass == "" {
			return nil, malformed(raw, "username and password must be provided together")
		}
		var err error
		if p.Username, err = url.PathUnescape(user); err != nil {
			return nil, malformed(raw, "bad username encoding")
		}
		if p.Password, err = url.PathUnescape(pass); err != nil {
			return nil, malformed(raw, "bad password encoding")
		}
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, malformed(raw, "missing port")
	}
	if host == "" {
		return nil, malformed(raw, "missing host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, malformed(raw, "invalid port "+portStr)
	}
	p.Host = host
	p.Port = port
	return p, nil
}

// HasAuth 是否带有认证信息
func (p *Proxy) HasAuth() bool {
	return p.Username != "" && p.Password != ""
}

// Address host:port 形式，ipv6会带上中括号
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// URL 带认证信息的完整url，可以直接用于http客户端的代理配置
func (p *Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   p.Address(),
	}
	if p.HasAuth() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// String 隐藏密码，用于日志输出
func (p *Proxy) String() string {
	return p.URL().Redacted()
}

// Credentials 用户名密码
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BrowserProxy 浏览器使用的代理信息
// 浏览器的 --proxy-server 参数不接受url中的认证信息，需要通过额外的认证握手处理
type BrowserProxy struct {
	Scheme string       `json:"scheme"`
	Host   string       `json:"host"`
	Port   int          `json:"port"`
	Server string       `json:"server"`         // scheme://host:port
	Auth   *Credentials `json:"auth,omitempty"` // 只有 http/https 并且有认证信息的时候才有
}

// BrowserProxy 生成浏览器代理参数
func (p *Proxy) BrowserProxy() BrowserProxy {
	bp := BrowserProxy{
		Scheme: p.Scheme,
		Host:   p.Host,
		Port:   p.Port,
		Server: p.Scheme + "://" + p.Address(),
	}
	if p.HasAuth() && (p.Scheme == SchemeHTTP || p.Scheme == SchemeHTTPS) {
		bp.Auth = &Credentials{Username: p.Username, Password: p.Password}
	}
	return bp
}

// Warnings 不影响使用但是需要提示的问题
func (p *Proxy) Warnings() []string {
	var warnings []string
	if p.HasAuth() && (p.Scheme == SchemeSOCKS4 || p.Scheme == SchemeSOCKS5) {
		warnings = append(warnings, fmt.Sprintf("%s credentials cannot be passed to a browser session, the proxy will be used without auth", p.Scheme))
	}
	return warnings
}
