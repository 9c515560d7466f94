package api

import (
	"github.com/LubyRuffy/rproxypool/consumer"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/elazarl/goproxy"
	"github.com/gin-gonic/gin"
	"net"
	"net/http"
)

// SessionHeader 带上这个头的代理请求固定使用同一个上游
const SessionHeader = "X-Rproxy-Session"

// isProxyRequest CONNECT 或者完整url的请求是代理请求，其他的走api
func isProxyRequest(r *http.Request) bool {
	return r.Method == http.MethodConnect || r.URL.IsAbs()
}

func (s *Server) forwardProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isProxyRequest(c.Request) {
			return
		}
		c.Abort()
		s.proxyHandler(c)
	}
}

func (s *Server) pick(r *http.Request) (*proxyurl.Proxy, error) {
	if session := r.Header.Get(SessionHeader); session != "" {
		r.Header.Del(SessionHeader)
		return s.m.ForSession(session)
	}
	return s.m.Next()
}

// proxyHandler 每个请求按策略选择一个上游代理转发
func (s *Server) proxyHandler(c *gin.Context) {
	l := logger.WithComponent("api/proxy")

	p, err := s.pick(c.Request)
	if err != nil {
		c.String(http.StatusServiceUnavailable, "no proxy available: %v", err)
		return
	}
	tr, err := consumer.Transport(p)
	if err != nil {
		c.String(http.StatusBadGateway, "%v", err)
		return
	}
	dial, err := consumer.Dialer(p)
	if err != nil {
		c.String(http.StatusBadGateway, "%v", err)
		return
	}

	tr.DisableKeepAlives = true
	proxy := goproxy.NewProxyHttpServer()
	proxy.Tr = tr
	ctx := c.Request.Context()
	proxy.ConnectDial = func(network, addr string) (net.Conn, error) {
		return dial(ctx, network, addr)
	}

	l.Debug().Str("uri", c.Request.RequestURI).Str("proxy", p.String()).Msg("forward")
	proxy.OnResponse().DoFunc(func(resp *http.Response, pctx *goproxy.ProxyCtx) *http.Response {
		if resp != nil {
			l.Debug().Int("status", resp.StatusCode).Str("url", resp.Request.URL.String()).Str("proxy", p.String()).Msg("response")
		} else if pctx.Error != nil {
			l.Warn().Err(pctx.Error).Str("proxy", p.String()).Msg("forward failed")
		}
		return resp
	})
	proxy.ServeHTTP(c.Writer, c.Request)
}
