package models

import (
	"gorm.io/gorm"
)

// CheckLog 检查日志表，成功的都记录，失败的在 logerror 打开的时候记录
type CheckLog struct {
	gorm.Model
	Raw        string `json:"raw" gorm:"index"` //原始代理字符串
	ProxyType  string `json:"proxy_type"`       //代理类型http/https/socks5/socks4
	Host       string `json:"host"`             //代理host:p.abc.com:1234
	Success    bool   `json:"success"`          //是否可用
	StatusCode int    `json:"status_code"`      //测试地址返回的状态码
	Latency    int64  `json:"latency"`          //耗时，单位为ms
	Error      string `json:"error"`            //失败原因
}
