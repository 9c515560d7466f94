package api

import (
	"errors"
	"github.com/gin-gonic/gin"
	"net/http"
	"strconv"
)

// listHandler 分页列出数据库中的代理，status 可以是 untested/valid/invalid/removed
func (s *Server) listHandler(c *gin.Context) {
	pageStr := c.DefaultQuery("page", "1")
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}
	sizeStr := c.DefaultQuery("size", "10")
	size, err := strconv.Atoi(sizeStr)
	if err != nil {
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	db := s.m.DB()
	if db == nil {
		fail(c, errors.New("database disabled"))
		return
	}

	proxyList, total, err := db.ListProxies(c.Query("status"), page, size)
	if err != nil {
		fail(c, err)
		return
	}

	ok(c, map[string]interface{}{
		"lists": proxyList,
		"page":  page,
		"size":  size,
		"total": total,
	})
}
