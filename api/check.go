package api

import (
	"errors"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/pool"
	"github.com/LubyRuffy/rproxypool/proxyurl"
	"github.com/gin-gonic/gin"
)

// checkHandler 单独检查一个代理，不影响代理池
// ?url=https://1.1.1.1:443 或者 ?host=1.1.1.1:80
func (s *Server) checkHandler(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		raw = c.Query("host")
	}
	if raw == "" {
		fail(c, errors.New("param failed"))
		return
	}

	p, err := proxyurl.Parse(raw)
	if err != nil {
		fail(c, err)
		return
	}

	cfg := s.m.Config()
	res := s.m.Prober().Probe(c.Request.Context(), p, cfg.TestURL, cfg.ProbeTimeout)
	if db := s.m.DB(); db != nil {
		if err = db.SaveCheck(pool.Record{Raw: raw, Proxy: p}, res); err != nil {
			l := logger.WithComponent("api")
			l.Warn().Err(err).Str("proxy", p.String()).Msg("save check failed")
		}
	}

	ok(c, map[string]interface{}{
		"proxy":  p.String(),
		"result": res,
	})
}
