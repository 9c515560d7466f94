package models

import (
	"database/sql"
	"github.com/LubyRuffy/rproxypool/pool"
	"gorm.io/gorm"
)

// StatusRemoved 已经不在代理池中，但是不是因为检查失败
const StatusRemoved = "removed"

// Proxy 代理表，每个原始代理字符串一条，记录最近一次检查的状态
// sqlite 不支持comment语法，所以不支持gorm:"comment:aaa"
type Proxy struct {
	gorm.Model
	Raw             string       `json:"raw" gorm:"uniqueIndex:idx_raw"` //文件中的原始字符串
	ProxyType       string       `json:"proxy_type"`                     //代理类型http/https/socks5/socks4
	Host            string       `json:"host"`                           //ip或者域名
	Port            int          `json:"port"`                           //端口号
	ProxyURL        string       `json:"proxy_url"`                      //隐藏密码之后的代理地址
	Status          string       `json:"status" gorm:"index"`            //untested/valid/invalid/removed
	ExitIP          string       `json:"exit_ip"`                        //出口ip
	Latency         int64        `json:"latency"`                        //延迟，单位为ms
	SuccessCount    int          `json:"success_count"`                  //成功次数
	FailedCount     int          `json:"failed_count"`                   //失败次数
	LastError       string       `json:"last_error"`                     //最后的错误
	LastSuccessTime sql.NullTime `json:"last_success_time"`              //最后成功时间
	LastFailedTime  sql.NullTime `json:"last_failed_time"`               //最后失败时间
}

// newProxy 从记录生成，不包含统计字段
func newProxy(rec pool.Record) Proxy {
	p := Proxy{
		Raw:    rec.Raw,
		Status: rec.Status.String(),
	}
	if rec.Proxy != nil {
		p.ProxyType = rec.Proxy.Scheme
		p.Host = rec.Proxy.Host
		p.Port = rec.Proxy.Port
		p.ProxyURL = rec.Proxy.String()
	}
	if rec.Err != nil {
		p.LastError = rec.Err.Error()
	}
	return p
}
