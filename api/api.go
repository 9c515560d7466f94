// Package api 代理池的http接口，同时作为按策略轮换上游的正向代理
package api

import (
	"errors"
	"github.com/LubyRuffy/rproxypool/checkproxy"
	"github.com/LubyRuffy/rproxypool/logger"
	"github.com/LubyRuffy/rproxypool/manager"
	"github.com/LubyRuffy/rproxypool/rotation"
	"github.com/gammazero/workerpool"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"net/http"
	"strings"
	"time"
)

var (
	Version     = checkproxy.Version
	Prefix      = "/api"
	authUserKey = "token" // 存在context中的token主键
)

// Server http服务
type Server struct {
	m      *manager.Manager
	wp     *workerpool.WorkerPool // 后台执行重新加载这种比较慢的任务
	router *gin.Engine
	srv    *http.Server

	// TokenAuth 认证函数，默认全部允许
	TokenAuth func(token string) bool
}

// New 创建服务
func New(m *manager.Manager) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		m:  m,
		wp: workerpool.New(1),
		TokenAuth: func(token string) bool {
			return true
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), s.forwardProxy())
	pprof.Register(router, "dev/pprof") // http pprof, default is "debug/pprof"
	router.GET("/status", s.statusHandler)

	v1 := router.Group(Prefix+"/v1", s.tokenAuth())
	v1.GET("/me", meHandler)
	v1.GET("/next", s.nextHandler)
	v1.POST("/sessions", s.newSessionHandler)
	v1.GET("/sessions/:id", s.sessionHandler)
	v1.DELETE("/sessions/:id", s.endSessionHandler)
	v1.POST("/reset", s.resetHandler)
	v1.POST("/reload", s.reloadHandler)
	v1.POST("/revalidate", s.revalidateHandler)
	v1.GET("/check", s.checkHandler)
	v1.GET("/list", s.listHandler)
	v1.GET("/pool", s.poolHandler)

	s.router = router
	return s
}

// Handler 用于测试或者挂到其他服务上
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogger() gin.HandlerFunc {
	l := logger.WithComponent("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("uri", c.Request.RequestURI).
			Int("status", c.Writer.Status()).
			Dur("cost", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(200, map[string]interface{}{
		"status":  "ok",
		"version": Version,
		"pool":    s.m.Stats(),
	})
}

func (s *Server) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authLine := c.Request.Header.Get("Authorization"); authLine != "" {
			// token xxx
			auth := strings.SplitN(authLine, " ", 2)
			if len(auth) == 2 && s.TokenAuth(auth[1]) {
				c.Set(authUserKey, auth[1])
				return
			}
		}

		if s.TokenAuth("") {
			c.Set(authUserKey, "")
			return
		}

		c.AbortWithStatusJSON(403, map[string]interface{}{
			"code":    403,
			"message": "invalid auth",
		})
	}
}

func meHandler(c *gin.Context) {
	c.String(200, "%s", c.GetString(authUserKey))
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(200, map[string]interface{}{
		"code": 200,
		"data": data,
	})
}

// fail 和之前的接口保持一致，http状态码都是200，错误码放在code里面
func fail(c *gin.Context, err error) {
	code := 500
	switch {
	case errors.Is(err, manager.ErrNotReady), errors.Is(err, rotation.ErrEmptyPool):
		code = 503
	}
	c.JSON(200, map[string]interface{}{
		"code":    code,
		"message": err.Error(),
	})
}

// Start 启动服务器
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	l := logger.WithComponent("api")
	l.Info().Str("addr", addr).Msg("api server listened")
	return s.srv.ListenAndServe()
}

// Stop 停止服务器
func (s *Server) Stop() error {
	var err error
	if s.srv != nil {
		err = s.srv.Close()
	}
	s.wp.StopWait()
	return err
}
