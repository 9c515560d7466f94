package api

import (
	"context"
	"fmt"
	"github.com/LubyRuffy/rproxypool/consumer"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/LubyRuffy/rproxypool/rotation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// render 按 format 输出代理：url 完整地址，browser 浏览器参数，proxies 类似requests的proxies参数
func render(p *proxyurl.Proxy, format string) (interface{}, error) {
	switch format {
	case "", "url":
		return map[string]interface{}{
			"url":    p.URL().String(),
			"scheme": p.Scheme,
			"host":   p.Host,
			"port":   p.Port,
		}, nil
	case "browser":
		flags := consumer.BrowserFlags(p)
		args := make([]string, 0, len(flags))
		for _, f := range flags {
			args = append(args, f.String())
		}
		return map[string]interface{}{
			"proxy":    p.BrowserProxy(),
			"args":     args,
			"warnings": p.Warnings(),
		}, nil
	case "proxies":
		return consumer.ProxyConfig(p), nil
	}
	return nil, fmt.Errorf("unknown format: %s", format)
}

func (s *Server) nextHandler(c *gin.Context) {
	var (
		p   *proxyurl.Proxy
		err error
	)
	if mode := c.Query("mode"); mode != "" {
		var m rotation.Mode
		if m, err = rotation.ParseMode(mode); err != nil {
			fail(c, err)
			return
		}
		p, err = s.m.Select(m)
	} else {
		p, err = s.m.Next()
	}
	if err != nil {
		fail(c, err)
		return
	}

	data, err := render(p, c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, data)
}

func (s *Server) sessionData(c *gin.Context, id string) {
	p, err := s.m.ForSession(id)
	if err != nil {
		fail(c, err)
		return
	}
	data, err := render(p, c.Query("format"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, map[string]interface{}{
		"id":    id,
		"proxy": data,
	})
}

func (s *Server) newSessionHandler(c *gin.Context) {
	s.sessionData(c, uuid.NewString())
}

func (s *Server) sessionHandler(c *gin.Context) {
	s.sessionData(c, c.Param("id"))
}

func (s *Server) endSessionHandler(c *gin.Context) {
	s.m.EndSession(c.Param("id"))
	ok(c, "ok")
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.m.Reset(); err != nil {
		fail(c, err)
		return
	}
	ok(c, "ok")
}

// submit 验证时间比较长，放到后台执行
func (s *Server) submit(name string, f func(ctx context.Context) error) {
	s.wp.Submit(func() {
		l := logger.WithComponent("api")
		if err := f(context.Background()); err != nil {
			l.Warn().Err(err).Msg(name + " failed")
			return
		}
		l.Info().Msg(name + " finished")
	})
}

func (s *Server) reloadHandler(c *gin.Context) {
	s.submit("reload", s.m.Reload)
	ok(c, "submit ok, process in the background")
}

func (s *Server) revalidateHandler(c *gin.Context) {
	s.submit("revalidate", s.m.Revalidate)
	ok(c, "submit ok, process in the background")
}

func (s *Server) poolHandler(c *gin.Context) {
	records := s.m.Records()
	list := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		item := map[string]interface{}{
			"raw":    r.Raw,
			"status": r.Status,
		}
		if r.Proxy != nil {
			item["proxy"] = r.Proxy.String()
		}
		list = append(list, item)
	}
	ok(c, map[string]interface{}{
		"stats": s.m.Stats(),
		"lists": list,
	})
}
